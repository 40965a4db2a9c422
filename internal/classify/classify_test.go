// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package classify

import (
	"testing"

	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/memaccess"
)

func movWithSimpleMem(writeBit bool, base blockgraph.Register, disp int32, memIndex int) *blockgraph.Instruction {
	ins := &blockgraph.Instruction{Opcode: "MOV", NumOperands: 2}
	reg := blockgraph.RegOperand(blockgraph.EAX, 32)
	mem := blockgraph.SimpleMemOperand(base, disp, 32)
	mem.Write = writeBit && memIndex == 0
	if memIndex == 0 {
		ins.Operands[0] = mem
		ins.Operands[1] = reg
	} else {
		ins.Operands[0] = reg
		ins.Operands[1] = mem
		reg.Write = writeBit
		ins.Operands[0] = reg
	}
	return ins
}

func TestSimpleLoadIsReadAtLastByte(t *testing.T) {
	ins := movWithSimpleMem(false, blockgraph.EBX, 4, 1)
	res, ok := Classify(ins)
	if !ok {
		t.Fatal("expected an access")
	}
	if res.Info.Mode != memaccess.Read {
		t.Fatalf("mode = %v, want Read", res.Info.Mode)
	}
	if res.Info.Size != 4 {
		t.Fatalf("size = %d, want 4", res.Info.Size)
	}
	if res.Operand.Disp.Value != 7 {
		t.Fatalf("disp = %d, want 7 (4 + size - 1)", res.Operand.Disp.Value)
	}
}

func TestSimpleStoreIsWrite(t *testing.T) {
	ins := movWithSimpleMem(true, blockgraph.EBP, -8, 0)
	res, ok := Classify(ins)
	if !ok {
		t.Fatal("expected an access")
	}
	if res.Info.Mode != memaccess.Write {
		t.Fatalf("mode = %v, want Write", res.Info.Mode)
	}
	if res.Operand.Disp.Value != -5 {
		t.Fatalf("disp = %d, want -5 (-8 + size - 1)", res.Operand.Disp.Value)
	}
}

func TestRepPrefixWinsOverStringOpcode(t *testing.T) {
	ins := &blockgraph.Instruction{Opcode: "MOVS", NumOperands: 2, Rep: blockgraph.RepZ}
	ins.Operands[0] = blockgraph.SimpleMemOperand(blockgraph.EDI, 0, 32)
	ins.Operands[1] = blockgraph.SimpleMemOperand(blockgraph.ESI, 0, 32)

	res, ok := Classify(ins)
	if !ok {
		t.Fatal("expected an access")
	}
	if res.Info.Mode != memaccess.RepZ {
		t.Fatalf("mode = %v, want RepZ", res.Info.Mode)
	}
	if res.Info.Opcode != "MOVS" {
		t.Fatalf("opcode = %q, want MOVS", res.Info.Opcode)
	}
	if res.Index != 0 {
		t.Fatalf("index = %d, want 0 (both memory-typed picks operand 0)", res.Index)
	}
}

func TestBareStringOpcodeIsInstr(t *testing.T) {
	ins := &blockgraph.Instruction{Opcode: "STOS", NumOperands: 2}
	ins.Operands[0] = blockgraph.SimpleMemOperand(blockgraph.EDI, 0, 8)
	ins.Operands[1] = blockgraph.RegOperand(blockgraph.EAX, 8)

	res, ok := Classify(ins)
	if !ok {
		t.Fatal("expected an access")
	}
	if res.Info.Mode != memaccess.Instr {
		t.Fatalf("mode = %v, want Instr", res.Info.Mode)
	}
}

func TestNopProducesNoAccess(t *testing.T) {
	ins := &blockgraph.Instruction{Opcode: "NOP", IsNop: true}
	if _, ok := Classify(ins); ok {
		t.Fatal("expected no access for a NOP")
	}
}

func TestRegisterOnlyProducesNoAccess(t *testing.T) {
	ins := &blockgraph.Instruction{Opcode: "MOV", NumOperands: 2}
	ins.Operands[0] = blockgraph.RegOperand(blockgraph.EAX, 32)
	ins.Operands[1] = blockgraph.RegOperand(blockgraph.EBX, 32)
	if _, ok := Classify(ins); ok {
		t.Fatal("expected no access for a register-to-register MOV")
	}
}

func TestTwoMemoryOperandsOfDisagreeingSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for disagreeing memory operand sizes")
		}
	}()

	ins := &blockgraph.Instruction{Opcode: "MOVS", NumOperands: 2}
	ins.Operands[0] = blockgraph.SimpleMemOperand(blockgraph.EDI, 0, 32)
	ins.Operands[1] = blockgraph.SimpleMemOperand(blockgraph.ESI, 0, 8)

	Classify(ins)
}

func TestDisplacementReferenceIsPreservedAcrossAdjustment(t *testing.T) {
	ins := &blockgraph.Instruction{Opcode: "MOV", NumOperands: 2}
	mem := blockgraph.SimpleMemOperandRef(blockgraph.EBX, blockgraph.Reference{Kind: blockgraph.Absolute, Size: 4, Target: 7}, 16)
	ins.Operands[0] = mem
	ins.Operands[1] = blockgraph.RegOperand(blockgraph.EAX, 16)

	res, ok := Classify(ins)
	if !ok {
		t.Fatal("expected an access")
	}
	if res.Operand.Disp.Ref == nil {
		t.Fatal("expected the displacement reference to survive")
	}
	if res.Operand.Disp.Ref.TargetOffset != 1 {
		t.Fatalf("TargetOffset = %d, want 1 (size 2 - 1)", res.Operand.Disp.Ref.TargetOffset)
	}
	if res.Operand.Disp.Ref.Target != 7 {
		t.Fatal("reference target block must be unchanged")
	}
}
