// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

// BasicBlockSubGraph is a decomposition of one code Block into an ordered
// collection of basic blocks. The decomposition itself (disassembly,
// control-flow edge discovery) is an external collaborator; this type is
// just the shape the rest of the pass consumes.
type BasicBlockSubGraph struct {
	BasicBlocks []*BasicBlock
}

// SuccessorKind distinguishes how control reaches a successor.
type SuccessorKind int

const (
	Fallthrough SuccessorKind = iota
	Branch
)

// Successor is an outgoing control-flow edge from the end of a basic
// block.
type Successor struct {
	Kind   SuccessorKind
	Target *BasicBlock
}

// BasicBlock is a maximal single-entry, single-exit instruction sequence.
type BasicBlock struct {
	ID           int
	Instructions []*Instruction
	Successors   []Successor
}

// Decomposer produces a BasicBlockSubGraph for one code Block. A real
// implementation is backed by an x86 decoder; this module treats it as an
// injected collaborator rather than owning the decode step itself.
type Decomposer func(b *Block) (*BasicBlockSubGraph, error)

// InsertBefore splices extra instructions into bb immediately before the
// instruction at index at. It is the primitive the instrumenter uses to
// place "push EDX; lea EDX, <op>" ahead of the instruction being checked.
func (bb *BasicBlock) InsertBefore(at int, extra ...*Instruction) {
	if len(extra) == 0 {
		return
	}
	grown := make([]*Instruction, 0, len(bb.Instructions)+len(extra))
	grown = append(grown, bb.Instructions[:at]...)
	grown = append(grown, extra...)
	grown = append(grown, bb.Instructions[at:]...)
	bb.Instructions = grown
}
