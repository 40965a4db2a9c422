// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package classify decides, for one decoded instruction, whether it
// performs a memory access worth instrumenting and what that access looks
// like.
package classify

import (
	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/memaccess"
)

// stringOpcodes instruction mnemonics whose memory operand is accessed
// implicitly through ESI/EDI rather than through the decoded operand's own
// addressing form.
var stringOpcodes = map[string]bool{
	"CMPS": true,
	"LODS": true,
	"MOVS": true,
	"STOS": true,
}

// Result is the outcome of classifying one instruction's memory access.
type Result struct {
	// Index is which of the instruction's two operand slots was chosen:
	// 0 or 1.
	Index int

	// Operand is the chosen operand, with its displacement already
	// adjusted to address the last byte touched by the access.
	Operand blockgraph.Operand

	Info memaccess.Info
}

// Classify examines ins and returns (Result, true) if it performs an
// instrumentable access, or (Result{}, false) if it performs no memory
// access at all (a NOP, or an instruction with no memory-typed operand).
//
// It panics if both operands are memory-typed with disagreeing sizes (a
// decoder bug; MOVS-shaped instructions are the only legitimate case of
// both operands being memory-typed, and by construction always agree), or
// if a complex memory operand has an index but no base and a zero
// displacement (the architecturally required non-zero displacement is
// missing).
func Classify(ins *blockgraph.Instruction) (Result, bool) {
	if ins.IsNop {
		return Result{}, false
	}

	mem0 := ins.NumOperands > 0 && ins.Operands[0].IsMemory()
	mem1 := ins.NumOperands > 1 && ins.Operands[1].IsMemory()

	var index int
	switch {
	case mem0 && mem1:
		if ins.Operands[0].SizeBytes() != ins.Operands[1].SizeBytes() {
			panic("classify: two memory operands of disagreeing size")
		}
		index = 0
	case mem0:
		index = 0
	case mem1:
		index = 1
	default:
		return Result{}, false
	}

	op := ins.Operands[index]
	validateComplexOperand(op)

	size := op.SizeBytes()
	mode := classifyMode(ins, index)

	var opcode string
	if mode == memaccess.Instr || mode == memaccess.RepZ || mode == memaccess.RepNZ {
		opcode = ins.Opcode
	}

	op = adjustLastByte(op, size)

	return Result{
		Index:   index,
		Operand: op,
		Info: memaccess.Info{
			Mode:      mode,
			Size:      size,
			Opcode:    opcode,
			SaveFlags: true,
		},
	}, true
}

func classifyMode(ins *blockgraph.Instruction, index int) memaccess.Mode {
	switch ins.Rep {
	case blockgraph.RepNZ:
		return memaccess.RepNZ
	case blockgraph.RepZ:
		return memaccess.RepZ
	}

	if stringOpcodes[ins.Opcode] {
		return memaccess.Instr
	}

	if index == 0 && ins.Operands[0].Write {
		return memaccess.Write
	}

	return memaccess.Read
}

func validateComplexOperand(op blockgraph.Operand) {
	if op.Type == blockgraph.OMem && !op.BaseValid() && op.HasIndex &&
		op.Disp.Value == 0 && !op.Disp.HasRef() {
		panic("classify: complex memory operand with index and no base requires a non-zero displacement")
	}
}

// adjustLastByte advances op's displacement by size-1 bytes so it
// addresses the last byte touched by the access rather than the first. If
// the displacement carries a reference, the adjustment is folded into the
// reference's TargetOffset instead, preserving the reference itself.
func adjustLastByte(op blockgraph.Operand, size int) blockgraph.Operand {
	adjust := int32(size - 1)
	if adjust == 0 {
		return op
	}

	if op.Disp.HasRef() {
		ref := *op.Disp.Ref
		ref.TargetOffset += adjust
		op.Disp.Ref = &ref
		return op
	}

	op.Disp.Value += adjust
	return op
}
