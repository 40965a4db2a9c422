// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fuzzutil builds synthetic instructions and basic blocks out of raw
// fuzz input and classifies the panics/errors that running them through the
// classifier and instrumenter can produce, so the go-fuzz entry point stays
// a thin driver rather than duplicating this logic.
package fuzzutil

import (
	"encoding/binary"
	"math/rand"

	"golang.org/x/xerrors"

	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/errors"
	"github.com/blockasan/peasan/internal/probe"
)

// opcodes is the set of mnemonics Decode can produce. Every entry has a
// one- or two-operand shape the classifier and instrumenter both know how
// to handle.
var opcodes = []string{"MOV", "LEA", "CMPS", "MOVS", "STOS", "LODS", "CLFLUSH"}

// Decode turns raw fuzz bytes into a deterministic *blockgraph.Instruction.
// It is not a real x86 decoder: it reads a handful of header bytes to pick
// an opcode and operand shape, the same way a fuzz harness for a binary
// format decoder picks a record type from a tag byte. The goal is to reach
// every edge case classify.Classify and instrument.InstrumentBasicBlock
// guard against (complex operands with no base, EBP/ESP-based operands,
// string opcodes) from arbitrary input, not to model instruction encoding
// faithfully. Displacements it produces never carry a reference.
func Decode(data []byte) (*blockgraph.Instruction, bool) {
	if len(data) < 8 {
		return nil, false
	}

	ins := &blockgraph.Instruction{
		Opcode:      opcodes[int(data[0])%len(opcodes)],
		NumOperands: 2,
	}

	if data[1]&1 != 0 {
		ins.Rep = blockgraph.RepZ
	} else if data[1]&2 != 0 {
		ins.Rep = blockgraph.RepNZ
	}

	size := []int{8, 16, 32}[int(data[2])%3]

	mem := decodeMemOperand(data[3:], size)
	mem.Write = data[1]&4 != 0

	ins.Operands[0] = blockgraph.RegOperand(blockgraph.Register(data[6]%8), 32)
	ins.Operands[1] = mem
	if data[1]&8 != 0 {
		ins.Operands[0], ins.Operands[1] = ins.Operands[1], ins.Operands[0]
	}

	return ins, true
}

// decodeMemOperand builds an Operand from a handful of bytes, covering both
// simple (base+disp) and complex (base+index*scale+disp) addressing, with
// enough of the encoding space reachable to hit the "index with no base"
// and "EBP/ESP base" edge cases deliberately.
func decodeMemOperand(data []byte, sizeBits int) blockgraph.Operand {
	if len(data) < 4 {
		return blockgraph.Operand{Type: blockgraph.OImm, SizeBits: sizeBits}
	}

	disp := int32(binary.LittleEndian.Uint32(data))
	base := blockgraph.Register(data[0] % 8)

	if data[0]&0x80 == 0 {
		return blockgraph.SimpleMemOperand(base, disp, sizeBits)
	}

	hasBase := data[0]&0x40 != 0
	index := blockgraph.Register(data[1] % 8)
	scale := []int{1, 2, 4, 8}[data[2]%4]
	return blockgraph.ComplexMemOperand(base, hasBase, index, scale, disp, sizeBits)
}

// FullTable builds a probe table with every enumerated probe resolved to a
// fixed dummy COFF symbol reference. Shapes Decode can produce that have no
// enumerated probe (a REPNZ prefix, a REP prefix on a non-string opcode, a
// string access wider than 4 bytes) still fail with UnknownProbe.
func FullTable(useLiveness bool) *probe.Table {
	t := probe.NewTable()
	for _, info := range probe.Enumerate(useLiveness) {
		t.Set(info, blockgraph.Reference{Kind: blockgraph.PCRelative, Size: 4})
	}
	return t
}

// Rng returns a seeded source for the instrumentation-rate sampler, derived
// from the fuzz input so a crash is reproducible from the same input bytes.
func Rng(data []byte) *rand.Rand {
	var seed int64
	for _, b := range data {
		seed = seed*31 + int64(b)
	}
	return rand.New(rand.NewSource(seed))
}

// Result classifies the outcome of a fuzz run for go-fuzz's return
// convention: a nil error gives (1, true), "interesting, keep this input";
// an UnknownProbe *errors.Error gives (0, true), an expected refusal of a
// shape Decode produced. Any other error gives ok=false, leaving the
// caller to panic on it.
func Result(err error) (result int, ok bool) {
	var perr *errors.Error
	switch {
	case err == nil:
		return 1, true
	case xerrors.As(err, &perr) && perr.Kind() == errors.UnknownProbe:
		return 0, true
	}
	return 0, false
}
