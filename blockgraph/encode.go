// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import "fmt"

const modReg = 0xc0 // mod=11: register-direct addressing, no memory operand

func modRM(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

func sibByte(scale, index, base byte) byte {
	return scale<<6 | (index&7)<<3 | (base & 7)
}

func scaleBits(scale int) byte {
	switch scale {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		panic(fmt.Sprintf("blockgraph: invalid scale factor %d", scale))
	}
}

func encodeDisp8or32(v int32) (mod byte, bytes []byte) {
	if v >= -128 && v <= 127 {
		return 0x40, []byte{byte(int8(v))}
	}
	return 0x80, encodeInt32(v)
}

func encodeInt32(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

// encodeMemOperand emits the ModRM[+SIB][+disp] bytes addressing op, using
// regField as the instruction's other operand (the register field of the
// ModRM byte — the destination of a LEA or MOV, or an opcode extension for
// single-operand forms like the indirect CALL/JMP this package never needs
// because those always address an absolute location instead).
//
// It returns the encoded bytes and, if op's displacement carries a
// reference, the offset within those bytes where the displacement begins.
func encodeMemOperand(regField Register, op Operand) (out []byte, dispOffset int, hasDisp bool) {
	switch op.Type {
	case OSMem:
		base := op.Base
		disp := op.Disp.Value

		if base == ESP {
			// ESP in the rm field always means "SIB follows"; emit a
			// trivial SIB (no index, base=ESP) to address [ESP+disp].
			mod, dispBytes := encodeDisp8or32(disp)
			if disp == 0 {
				mod = 0x00
				dispBytes = nil
			}
			out = append(out, modRM(mod>>6, byte(regField), 4), sibByte(0, 4, 4))
			out = append(out, dispBytes...)
			if len(dispBytes) > 0 {
				dispOffset = len(out) - len(dispBytes)
				hasDisp = op.Disp.HasRef()
			}
			return out, dispOffset, hasDisp
		}

		if base == EBP && disp == 0 {
			// EBP in the rm field with mod=00 means "no base, disp32";
			// force a redundant disp8=0 to actually address [EBP].
			out = append(out, modRM(0x01, byte(regField), byte(base)), 0)
			return out, 0, false
		}

		if disp == 0 {
			out = append(out, modRM(0x00, byte(regField), byte(base)))
			return out, 0, false
		}

		mod, dispBytes := encodeDisp8or32(disp)
		out = append(out, modRM(mod>>6, byte(regField), byte(base)))
		out = append(out, dispBytes...)
		dispOffset = len(out) - len(dispBytes)
		return out, dispOffset, op.Disp.HasRef()

	case OMem:
		disp := op.Disp.Value

		if !op.BaseValid() && !op.HasIndex {
			panic("blockgraph: complex memory operand has neither base nor index")
		}

		if !op.BaseValid() {
			if disp == 0 {
				panic("blockgraph: complex memory operand with index and no base requires a non-zero displacement")
			}
			sib := sibByte(scaleBits(op.Scale), byte(op.Index), 5) // base field 101 = "no base"
			out = append(out, modRM(0x00, byte(regField), 4), sib)
			out = append(out, encodeInt32(disp)...)
			dispOffset = len(out) - 4
			return out, dispOffset, op.Disp.HasRef()
		}

		base := op.Base
		var sib byte
		if op.HasIndex {
			sib = sibByte(scaleBits(op.Scale), byte(op.Index), byte(base))
		} else {
			sib = sibByte(0, 4, byte(base)) // index field 100 = "no index"
		}

		if base == EBP && disp == 0 {
			out = append(out, modRM(0x01, byte(regField), 4), sib, 0)
			return out, 0, false
		}
		if disp == 0 {
			out = append(out, modRM(0x00, byte(regField), 4), sib)
			return out, 0, false
		}
		mod, dispBytes := encodeDisp8or32(disp)
		out = append(out, modRM(mod>>6, byte(regField), 4), sib)
		out = append(out, dispBytes...)
		dispOffset = len(out) - len(dispBytes)
		return out, dispOffset, op.Disp.HasRef()

	default:
		panic(fmt.Sprintf("blockgraph: operand type %d is not a memory form", op.Type))
	}
}

// absoluteIndirect addresses an absolute 32-bit location with no base or
// index register: ModRM mod=00, rm=101 (disp32 only). This is how a call
// or jump through a fixed IAT slot is encoded.
func absoluteIndirect(regField byte) []byte {
	return []byte{modRM(0x00, regField, 5)}
}

// Encode produces the final bytes for a synthesized instruction (one with
// RawBytes == nil) along with, if it carries a reference, the byte offset
// within the result where that reference's field begins.
func Encode(ins *Instruction) (out []byte, refOffset int, ref *Reference, hasRef bool) {
	if ins.RawBytes != nil {
		return ins.RawBytes, 0, nil, false
	}

	switch ins.Opcode {
	case "PUSH":
		if ins.Target != nil {
			out = append([]byte{0x68}, encodeInt32(0)...)
			return out, 1, ins.Target, true
		}
		if ins.Operands[0].Type == OImm {
			return append([]byte{0x68}, encodeInt32(ins.Imm)...), 0, nil, false
		}
		return []byte{0x50 + byte(ins.Operands[0].Reg)}, 0, nil, false

	case "POP":
		return []byte{0x58 + byte(ins.Operands[0].Reg)}, 0, nil, false

	case "LEA":
		mem, dispOff, hasDisp := encodeMemOperand(ins.Operands[0].Reg, ins.Operands[1])
		out = append([]byte{0x8d}, mem...)
		if hasDisp {
			return out, dispOff + 1, ins.Operands[1].Disp.Ref, true
		}
		return out, 0, nil, false

	case "MOV":
		dst, src := ins.Operands[0], ins.Operands[1]
		switch {
		case dst.Type == OReg && src.Type == OReg:
			return []byte{0x8b, modRM(0x03, byte(dst.Reg), byte(src.Reg))}, 0, nil, false
		case dst.Type == OReg && src.IsMemory():
			mem, dispOff, hasDisp := encodeMemOperand(dst.Reg, src)
			out = append([]byte{0x8b}, mem...)
			if hasDisp {
				return out, dispOff + 1, src.Disp.Ref, true
			}
			return out, 0, nil, false
		case dst.IsMemory() && src.Type == OReg:
			mem, dispOff, hasDisp := encodeMemOperand(src.Reg, dst)
			out = append([]byte{0x89}, mem...)
			if hasDisp {
				return out, dispOff + 1, dst.Disp.Ref, true
			}
			return out, 0, nil, false
		default:
			panic("blockgraph: unsupported MOV operand combination")
		}

	case "RET":
		if ins.Imm == 0 {
			return []byte{0xc3}, 0, nil, false
		}
		u := uint16(ins.Imm)
		return []byte{0xc2, byte(u), byte(u >> 8)}, 0, nil, false

	case "CALL":
		if ins.Indirect {
			out = append([]byte{0xff}, absoluteIndirect(2)...)
			out = append(out, encodeInt32(0)...)
			return out, len(out) - 4, ins.Target, true
		}
		out = append([]byte{0xe8}, encodeInt32(0)...)
		return out, 1, ins.Target, true

	case "JMP":
		if ins.Indirect {
			out = append([]byte{0xff}, absoluteIndirect(4)...)
			out = append(out, encodeInt32(0)...)
			return out, len(out) - 4, ins.Target, true
		}
		out = append([]byte{0xe9}, encodeInt32(0)...)
		return out, 1, ins.Target, true

	case "XOR":
		dst, src := ins.Operands[0], ins.Operands[1]
		return []byte{0x31, modRM(0x03, byte(src.Reg), byte(dst.Reg))}, 0, nil, false

	default:
		panic(fmt.Sprintf("blockgraph: assembler cannot encode synthesized opcode %q", ins.Opcode))
	}
}
