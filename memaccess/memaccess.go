// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memaccess defines the value that every other package in this
// module uses to describe a single instrumentable memory access: how it
// touches memory, how large the touched region is, and whether the probe
// that checks it must also save and restore the flags register.
package memaccess

import "fmt"

// Mode classifies how an instruction touches the memory location described
// alongside it.
type Mode int

const (
	// None means the operand carries no memory reference worth probing
	// (a register or an immediate).
	None Mode = iota

	// Read means the instruction only loads from the location.
	Read

	// Write means the instruction stores to the location; a
	// read-modify-write destination also counts as Write.
	Write

	// Instr means the location is accessed by a string instruction (CMPS,
	// LODS, MOVS, STOS) with no repeat prefix, through ESI/EDI.
	Instr

	// RepZ means the location is accessed by a REP/REPZ-prefixed string
	// instruction, through ESI/EDI, once per iteration.
	RepZ

	// RepNZ means the location is accessed by a REPNZ-prefixed string
	// instruction, through ESI/EDI, once per iteration.
	RepNZ
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	case Instr:
		return "instr"
	case RepZ:
		return "repz"
	case RepNZ:
		return "repnz"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Info describes one instrumentable memory access: what kind of access it
// is, how many bytes it touches, which opcode performed it, and whether the
// probe guarding it must preserve the flags register across the call.
//
// Info values are comparable and are the sort and lookup keys of the probe
// table's entries, so two accesses that would be checked identically must
// compare equal.
type Info struct {
	Mode      Mode
	Size      int
	Opcode    string
	SaveFlags bool
}

// Less imposes a total order over Info values: by Mode, then Size, then
// SaveFlags, then Opcode. The probe table sorts its entries with this order
// so that probe names can be looked up with sort.Search instead of a map.
func (a Info) Less(b Info) bool {
	if a.Mode != b.Mode {
		return a.Mode < b.Mode
	}
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	if a.SaveFlags != b.SaveFlags {
		return !a.SaveFlags && b.SaveFlags
	}
	return a.Opcode < b.Opcode
}

// Instrumentable reports whether this access should be checked at all.
// Mode None never is; every other mode is unless the size is zero, which
// happens for operand classifications that turned out not to touch memory.
func (a Info) Instrumentable() bool {
	return a.Mode != None && a.Size > 0
}
