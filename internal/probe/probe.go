// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package probe enumerates the set of probe variants an image needs and
// maps each to its stable mangled RTL symbol name.
package probe

import (
	"sort"
	"strconv"
	"strings"

	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/memaccess"
)

// sizes is every load/store size the RTL exports a probe for.
var sizes = []int{1, 2, 4, 8, 16, 32}

// stringOpcodes and stringSizes are the opcodes and sizes that combine into
// the RepZ/Instr string-access probes.
var stringOpcodes = []string{"CMPS", "LODS", "MOVS", "STOS"}
var stringSizes = []int{1, 2, 4}

// Enumerate lists every MemoryAccessInfo this image's probe table must
// cover. useLiveness additionally enumerates the cheaper save_flags=false
// variant of every Read/Write probe.
func Enumerate(useLiveness bool) []memaccess.Info {
	var out []memaccess.Info

	addLoadStore := func(size int) {
		for _, mode := range []memaccess.Mode{memaccess.Read, memaccess.Write} {
			out = append(out, memaccess.Info{Mode: mode, Size: size, SaveFlags: true})
			if useLiveness {
				out = append(out, memaccess.Info{Mode: mode, Size: size, SaveFlags: false})
			}
		}
	}

	for _, size := range sizes {
		addLoadStore(size)
	}
	addLoadStore(10) // FPU 80-bit operand

	for _, size := range stringSizes {
		for _, opcode := range stringOpcodes {
			out = append(out, memaccess.Info{Mode: memaccess.RepZ, Size: size, Opcode: opcode, SaveFlags: true})
			out = append(out, memaccess.Info{Mode: memaccess.Instr, Size: size, Opcode: opcode, SaveFlags: true})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Name mangles info into its RTL-exported symbol name for the given image
// format:
//
//	[prefix] "asan_check" [rep] "_" <size> "_byte_" <op> "_access" [nf]
func Name(format blockgraph.ImageFormat, info memaccess.Info) string {
	var b strings.Builder

	if format == blockgraph.COFF {
		b.WriteByte('_')
	}
	b.WriteString("asan_check")

	switch info.Mode {
	case memaccess.RepZ:
		b.WriteString("_repz")
	case memaccess.RepNZ:
		b.WriteString("_repnz")
	}

	b.WriteByte('_')
	b.WriteString(strconv.Itoa(info.Size))
	b.WriteString("_byte_")
	b.WriteString(op(info))
	b.WriteString("_access")

	if !info.SaveFlags {
		b.WriteString("_no_flags")
	}

	return strings.ToLower(b.String())
}

func op(info memaccess.Info) string {
	switch info.Mode {
	case memaccess.Read:
		return "read"
	case memaccess.Write:
		return "write"
	case memaccess.Instr, memaccess.RepZ, memaccess.RepNZ:
		return info.Opcode
	default:
		return ""
	}
}

// Table maps every enumerated MemoryAccessInfo to a reference pointing at
// its probe: a PE IAT slot or a COFF external symbol. It is built once by
// the importer and consulted read-only for the rest of the pass.
type Table struct {
	entries []entry
}

type entry struct {
	info memaccess.Info
	ref  blockgraph.Reference
}

// NewTable returns an empty table; the importer populates it via Set as it
// materializes each probe's import or symbol.
func NewTable() *Table {
	return &Table{}
}

// Set records the reference for info, keeping entries sorted by
// memaccess.Info.Less so Lookup can binary search.
func (t *Table) Set(info memaccess.Info, ref blockgraph.Reference) {
	i := sort.Search(len(t.entries), func(i int) bool { return !t.entries[i].info.Less(info) })
	if i < len(t.entries) && t.entries[i].info == info {
		t.entries[i].ref = ref
		return
	}
	t.entries = append(t.entries, entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry{info, ref}
}

// Lookup finds the reference for info, if the table has one.
func (t *Table) Lookup(info memaccess.Info) (blockgraph.Reference, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return !t.entries[i].info.Less(info) })
	if i < len(t.entries) && t.entries[i].info == info {
		return t.entries[i].ref, true
	}
	return blockgraph.Reference{}, false
}

// Len reports how many probe variants the table holds.
func (t *Table) Len() int { return len(t.entries) }
