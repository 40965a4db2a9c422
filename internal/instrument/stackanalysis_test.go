// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package instrument

import (
	"testing"

	"github.com/blockasan/peasan/blockgraph"
)

func regReg(opcode string, dst, src blockgraph.Register) *blockgraph.Instruction {
	ins := &blockgraph.Instruction{Opcode: opcode, NumOperands: 2}
	ins.Operands[0] = blockgraph.RegOperand(dst, 32)
	ins.Operands[1] = blockgraph.RegOperand(src, 32)
	return ins
}

func regImm(opcode string, dst blockgraph.Register) *blockgraph.Instruction {
	ins := &blockgraph.Instruction{Opcode: opcode, NumOperands: 2}
	ins.Operands[0] = blockgraph.RegOperand(dst, 32)
	ins.Operands[1] = blockgraph.Operand{Type: blockgraph.OImm, SizeBits: 32}
	return ins
}

func pushReg(reg blockgraph.Register) *blockgraph.Instruction {
	ins := &blockgraph.Instruction{Opcode: "PUSH", NumOperands: 1}
	ins.Operands[0] = blockgraph.RegOperand(reg, 32)
	return ins
}

func ebpStore(disp int32) *blockgraph.Instruction {
	ins := &blockgraph.Instruction{Opcode: "MOV", NumOperands: 2}
	mem := blockgraph.SimpleMemOperand(blockgraph.EBP, disp, 32)
	mem.Write = true
	ins.Operands[0] = mem
	ins.Operands[1] = blockgraph.RegOperand(blockgraph.EAX, 32)
	return ins
}

func analyzeInstructions(instrs ...*blockgraph.Instruction) StackMode {
	bb := &blockgraph.BasicBlock{Instructions: instrs}
	sub := &blockgraph.BasicBlockSubGraph{BasicBlocks: []*blockgraph.BasicBlock{bb}}
	return AnalyzeStack(sub)
}

func TestAnalyzeStack(t *testing.T) {
	tests := []struct {
		name  string
		instr []*blockgraph.Instruction
		want  StackMode
	}{
		{
			name: "standard prologue plus an ebp-based store",
			instr: []*blockgraph.Instruction{
				pushReg(blockgraph.EBP),
				regReg("MOV", blockgraph.EBP, blockgraph.ESP),
				regImm("SUB", blockgraph.ESP),
				ebpStore(-8),
			},
			want: SafeStack,
		},
		{
			name: "standard epilogue: mov esp,ebp then a bare ret",
			instr: []*blockgraph.Instruction{
				regReg("MOV", blockgraph.ESP, blockgraph.EBP),
				{Opcode: "RET"},
			},
			want: SafeStack,
		},
		{
			name: "ret with a stack-cleanup immediate carries no operands either",
			instr: []*blockgraph.Instruction{
				pushReg(blockgraph.EBP),
				regImm("ADD", blockgraph.ESP),
				{Opcode: "RET", Imm: 4},
			},
			want: SafeStack,
		},
		{
			name:  "call carries no ESP/EBP destination operand",
			instr: []*blockgraph.Instruction{{Opcode: "CALL", Target: &blockgraph.Reference{}}},
			want:  SafeStack,
		},
		{
			name: "esp assigned from a register is not a standard shape",
			instr: []*blockgraph.Instruction{
				regReg("MOV", blockgraph.ESP, blockgraph.EAX),
			},
			want: UnsafeStack,
		},
		{
			name: "lea into ebp is never a standard shape",
			instr: []*blockgraph.Instruction{
				{
					Opcode:      "LEA",
					NumOperands: 2,
					Operands: [2]blockgraph.Operand{
						blockgraph.RegOperand(blockgraph.EBP, 32),
						blockgraph.SimpleMemOperand(blockgraph.ESP, 16, 32),
					},
				},
			},
			want: UnsafeStack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := analyzeInstructions(tt.instr...); got != tt.want {
				t.Fatalf("AnalyzeStack() = %v, want %v", got, tt.want)
			}
		})
	}
}
