// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package analysis provides the two read-only dataflow analyses the
// basic-block instrumenter consults: flag liveness, to pick the cheaper
// save_flags=false probe variant, and redundant-access detection, to skip
// checks already covered by an earlier access in the same block.
package analysis

import "github.com/blockasan/peasan/blockgraph"

// flagEffect records whether an opcode reads and/or overwrites EFLAGS.
// Instructions absent from the table are assumed to do neither, which is
// accurate for data movement (MOV, LEA, PUSH, POP, CALL, RET, JMP, string
// moves) and conservative everywhere else: an unmodeled opcode simply
// lets liveness pass through unaffected rather than risk picking the
// save_flags=false variant when flags actually matter.
var flagEffect = map[string]struct{ uses, defines bool }{
	"ADD": {false, true}, "SUB": {false, true}, "AND": {false, true},
	"OR": {false, true}, "XOR": {false, true}, "CMP": {false, true},
	"TEST": {false, true}, "INC": {false, true}, "DEC": {false, true},
	"NEG": {false, true}, "CMPS": {false, true},
	"ADC": {true, true}, "SBB": {true, true}, "RCL": {true, true}, "RCR": {true, true},
	"SHL": {false, true}, "SHR": {false, true}, "SAR": {false, true},
	"ROL": {false, true}, "ROR": {false, true},
	"JZ": {true, false}, "JNZ": {true, false}, "JE": {true, false}, "JNE": {true, false},
	"JL": {true, false}, "JLE": {true, false}, "JG": {true, false}, "JGE": {true, false},
	"JB": {true, false}, "JBE": {true, false}, "JA": {true, false}, "JAE": {true, false},
	"JC": {true, false}, "JNC": {true, false}, "JO": {true, false}, "JNO": {true, false},
	"SETZ": {true, false}, "SETNZ": {true, false}, "CMOVZ": {true, false}, "CMOVNZ": {true, false},
}

// Liveness holds the per-instruction "is EFLAGS live after this
// instruction" results for one basic-block subgraph.
type Liveness struct {
	liveAfter map[*blockgraph.BasicBlock][]bool
}

// LiveAfter reports whether EFLAGS is live immediately after instruction
// index i of bb. Panics if bb wasn't part of the subgraph ComputeLiveness
// was called with.
func (l *Liveness) LiveAfter(bb *blockgraph.BasicBlock, i int) bool {
	states, ok := l.liveAfter[bb]
	if !ok {
		panic("analysis: basic block not covered by this Liveness result")
	}
	return states[i]
}

// ComputeLiveness runs the standard backward dataflow fixpoint over sub:
// for each basic block, live-in is computed by walking its instructions in
// reverse and applying LiveBefore = Uses(i) || (LiveAfter(i) && !Defines(i));
// live-out is the union of every successor's live-in, iterated to a
// fixpoint to handle back edges.
func ComputeLiveness(sub *blockgraph.BasicBlockSubGraph) *Liveness {
	liveIn := make(map[*blockgraph.BasicBlock]bool)
	liveOut := make(map[*blockgraph.BasicBlock]bool)
	after := make(map[*blockgraph.BasicBlock][]bool)

	for _, bb := range sub.BasicBlocks {
		after[bb] = make([]bool, len(bb.Instructions))
	}

	for changed := true; changed; {
		changed = false

		for _, bb := range sub.BasicBlocks {
			out := false
			for _, succ := range bb.Successors {
				if liveIn[succ.Target] {
					out = true
				}
			}
			if out != liveOut[bb] {
				liveOut[bb] = out
				changed = true
			}

			live := out
			states := after[bb]
			for i := len(bb.Instructions) - 1; i >= 0; i-- {
				states[i] = live
				eff := flagEffect[bb.Instructions[i].Opcode]
				live = eff.uses || (live && !eff.defines)
			}

			if live != liveIn[bb] {
				liveIn[bb] = live
				changed = true
			}
		}
	}

	return &Liveness{liveAfter: after}
}
