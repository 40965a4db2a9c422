// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

// Instruction is one decoded or synthesized x86-32 instruction. Decoded
// instructions carry RawBytes, the exact bytes the original image held for
// them, and are never re-encoded: this pass never reorders or re-encodes
// instructions it didn't itself synthesize. Synthesized instructions (the
// push/lea/call sequence an instrumentation inserts) carry RawBytes == nil
// and are encoded by the Assembler when the subgraph is flattened.
type Instruction struct {
	// Opcode is the decoder's mnemonic, upper case, e.g. "MOV", "LEA",
	// "CMPS", "MOVS", "STOS", "LODS", "CLFLUSH", "PREFETCHNTA", "CALL",
	// "JMP", "PUSH", "RET".
	Opcode string

	Rep RepPrefix

	Operands    [2]Operand
	NumOperands int

	// IsNop marks instructions the decoder recognizes as no-ops even
	// though they may mention registers or memory in their encoding
	// (e.g. "xchg eax, eax", multi-byte NOP forms).
	IsNop bool

	RawBytes []byte

	// DispByteOffset and DispByteSize locate the displacement field
	// within RawBytes for a decoded instruction whose chosen operand
	// carries a reference (to a block or to a basic block target).
	// Zero DispByteSize means no such field.
	DispByteOffset int
	DispByteSize   int

	// SourceOffset is the byte offset, within the original code block,
	// that this instruction came from. Valid when HasSourceOffset is
	// true; used by debug-friendly mode to tag synthesized instructions
	// with the source range of the access they guard.
	SourceOffset    int
	HasSourceOffset bool

	// Synthesized instructions that reference a probe, an IAT slot, or
	// another block carry the reference here rather than encoding a
	// literal address up front; the block builder resolves it during
	// flattening.
	Target *Reference

	// Indirect means Target addresses a memory location holding the
	// real destination (an IAT slot) rather than being the destination
	// itself. Only meaningful for CALL and JMP.
	Indirect bool

	// Imm carries RET's stack-cleanup byte count, or PUSH's immediate
	// operand value when Operands[0].Type == OImm.
	Imm int32
}

// MemoryOperand returns the operand, and its index, chosen by the operand
// classification rules: if both are memory-typed, operand 0; otherwise
// whichever one is memory-typed. The second return value is false if
// neither operand addresses memory.
func (ins *Instruction) MemoryOperand() (op Operand, index int, ok bool) {
	mem0 := ins.NumOperands > 0 && ins.Operands[0].IsMemory()
	mem1 := ins.NumOperands > 1 && ins.Operands[1].IsMemory()

	switch {
	case mem0:
		return ins.Operands[0], 0, true
	case mem1:
		return ins.Operands[1], 1, true
	default:
		return Operand{}, -1, false
	}
}
