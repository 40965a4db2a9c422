// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package instrument

import "github.com/blockasan/peasan/blockgraph"

// stackRegister reports whether r is one of the two registers a function's
// stack discipline can legitimately touch.
func stackRegister(r blockgraph.Register) bool {
	return r == blockgraph.ESP || r == blockgraph.EBP
}

// isStandardStackWrite recognizes the handful of instruction shapes a
// normal prologue/epilogue is built from: frame-pointer setup and
// teardown ("mov ebp, esp" / "mov esp, ebp") and immediate-sized frame
// allocation/deallocation ("add esp, N" / "sub esp, N"). PUSH, POP, CALL
// and RET adjust ESP implicitly and never appear here because they carry
// no ESP/EBP destination operand in this module's instruction model.
func isStandardStackWrite(ins *blockgraph.Instruction) bool {
	if ins.NumOperands != 2 {
		return true // e.g. push/pop/call/ret; no ESP/EBP destination operand in this model
	}
	dst := ins.Operands[0]
	if dst.Type != blockgraph.OReg || !stackRegister(dst.Reg) {
		return true // doesn't touch ESP/EBP at all; not this analysis's concern
	}

	src := ins.Operands[1]
	switch ins.Opcode {
	case "MOV":
		return src.Type == blockgraph.OReg && stackRegister(src.Reg)
	case "ADD", "SUB":
		return src.Type == blockgraph.OImm
	default:
		return false
	}
}

// AnalyzeStack conservatively decides whether sub's function sticks to a
// standard prologue/epilogue. Any instruction that writes ESP or EBP
// through a shape other than frame-pointer setup/teardown or an
// immediate-sized adjustment — a computed stack pointer, a LEA into ESP,
// an arithmetic op with a register operand — makes the whole function
// UnsafeStack, since this pass cannot otherwise prove ESP/EBP-based
// accesses are confined to the current frame.
func AnalyzeStack(sub *blockgraph.BasicBlockSubGraph) StackMode {
	for _, bb := range sub.BasicBlocks {
		for _, ins := range bb.Instructions {
			if ins.Opcode == "LEA" && ins.NumOperands == 2 &&
				ins.Operands[0].Type == blockgraph.OReg && stackRegister(ins.Operands[0].Reg) {
				return UnsafeStack
			}
			if !isStandardStackWrite(ins) {
				return UnsafeStack
			}
		}
	}
	return SafeStack
}
