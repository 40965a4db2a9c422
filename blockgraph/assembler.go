// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

// BasicBlockAssembler builds synthesized instructions for insertion into a
// basic block. It never touches decoded instructions; those keep their
// RawBytes untouched for the lifetime of the pass.
type BasicBlockAssembler struct {
	bb *BasicBlock

	// SourceOffset, when HasSourceOffset is true, is stamped onto every
	// instruction this assembler builds from then on. The instrumenter
	// sets this before emitting the guard for one access, in
	// debug-friendly mode, so inserted instructions inherit the source
	// range of the access they guard.
	SourceOffset    int
	HasSourceOffset bool
}

// NewAssembler returns an assembler that inserts into bb.
func NewAssembler(bb *BasicBlock) *BasicBlockAssembler {
	return &BasicBlockAssembler{bb: bb}
}

func (a *BasicBlockAssembler) stamp(ins *Instruction) *Instruction {
	if a.HasSourceOffset {
		ins.SourceOffset = a.SourceOffset
		ins.HasSourceOffset = true
	}
	return ins
}

// RegOperand builds a bare-register operand.
func RegOperand(r Register, sizeBits int) Operand {
	return Operand{Type: OReg, Reg: r, SizeBits: sizeBits}
}

// SimpleMemOperand builds an O_SMEM operand: base register plus
// displacement, no index.
func SimpleMemOperand(base Register, disp int32, sizeBits int) Operand {
	o := Operand{Type: OSMem, SizeBits: sizeBits}
	o.SetBase(base)
	o.Disp.Value = disp
	return o
}

// SimpleMemOperandRef is SimpleMemOperand for a displacement that carries a
// reference to a block or basic block.
func SimpleMemOperandRef(base Register, ref Reference, sizeBits int) Operand {
	o := SimpleMemOperand(base, 0, sizeBits)
	o.Disp.Ref = &ref
	return o
}

// ComplexMemOperand builds an O_MEM operand: optional base, optional
// index*scale, displacement. Pass hasBase=false to omit the base register
// entirely (an index-and-displacement-only addressing form).
func ComplexMemOperand(base Register, hasBase bool, index Register, scale int, disp int32, sizeBits int) Operand {
	o := Operand{Type: OMem, SizeBits: sizeBits}
	if hasBase {
		o.SetBase(base)
	}
	if scale != 0 {
		o.HasIndex = true
		o.Index = index
		o.Scale = scale
	}
	o.Disp.Value = disp
	return o
}

// Push appends "push reg" to the basic block and returns it.
func (a *BasicBlockAssembler) Push(reg Register) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "PUSH", NumOperands: 1})
	ins.Operands[0] = RegOperand(reg, 32)
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// PushImm appends "push imm32" to the basic block and returns it.
func (a *BasicBlockAssembler) PushImm(imm int32) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "PUSH", NumOperands: 1, Imm: imm})
	ins.Operands[0] = Operand{Type: OImm, SizeBits: 32}
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// PushRef appends "push imm32" whose immediate is a block's address rather
// than a literal value, e.g. pushing the address of a string constant as a
// stdcall argument. The placeholder bytes are resolved the same way a
// direct CALL's relative displacement is: ref is recorded against the
// instruction's offset and patched in at serialization time.
func (a *BasicBlockAssembler) PushRef(ref Reference) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "PUSH", NumOperands: 1, Target: &ref})
	ins.Operands[0] = Operand{Type: OImm, SizeBits: 32}
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// Lea appends "lea dst, mem" to the basic block and returns it.
func (a *BasicBlockAssembler) Lea(dst Register, mem Operand) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "LEA", NumOperands: 2})
	ins.Operands[0] = RegOperand(dst, 32)
	ins.Operands[1] = mem
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// MovRegReg appends "mov dst, src" (register to register).
func (a *BasicBlockAssembler) MovRegReg(dst, src Register) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "MOV", NumOperands: 2})
	ins.Operands[0] = RegOperand(dst, 32)
	ins.Operands[1] = RegOperand(src, 32)
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// MovRegMem appends "mov dst, mem" (a load).
func (a *BasicBlockAssembler) MovRegMem(dst Register, mem Operand) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "MOV", NumOperands: 2})
	ins.Operands[0] = RegOperand(dst, 32)
	ins.Operands[1] = mem
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// MovMemReg appends "mov mem, src" (a store).
func (a *BasicBlockAssembler) MovMemReg(mem Operand, src Register) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "MOV", NumOperands: 2})
	ins.Operands[0] = mem
	ins.Operands[1] = RegOperand(src, 32)
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// Ret appends "ret" (popBytes == 0) or "ret popBytes".
func (a *BasicBlockAssembler) Ret(popBytes int32) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "RET", Imm: popBytes})
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// Call appends a call to target. indirect selects "call [target]" (a PE
// IAT slot) over "call target" (a COFF direct symbol or intra-graph
// block).
func (a *BasicBlockAssembler) Call(target Reference, indirect bool) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "CALL", Target: &target, Indirect: indirect})
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// Jmp appends a jump to target, analogous to Call.
func (a *BasicBlockAssembler) Jmp(target Reference, indirect bool) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "JMP", Target: &target, Indirect: indirect})
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}

// XorRegReg appends "xor dst, src", used by stubs to zero a register
// without touching the stack.
func (a *BasicBlockAssembler) XorRegReg(dst, src Register) *Instruction {
	ins := a.stamp(&Instruction{Opcode: "XOR", NumOperands: 2})
	ins.Operands[0] = RegOperand(dst, 32)
	ins.Operands[1] = RegOperand(src, 32)
	a.bb.Instructions = append(a.bb.Instructions, ins)
	return ins
}
