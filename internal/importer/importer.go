// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package importer materializes the probe import table: on PE images, it
// adds the RTL as an import stamped with the wire-format timestamp-1
// trick and installs bootstrap stubs into the IAT until the loader
// rebinds; on COFF images it references probes directly as external
// symbols.
package importer

import (
	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/errors"
	"github.com/blockasan/peasan/internal/probe"
	"github.com/blockasan/peasan/memaccess"
)

// boundLongAgo is the PE IMAGE_IMPORT_DESCRIPTOR TimeDateStamp value (1,
// meaning 1970-01-01 00:00:01Z) that signals "already bound" to the
// loader, so the pre-written IAT stub values survive until real binding
// happens. This bit pattern must not change; the RTL's early-loader
// behavior depends on it.
const boundLongAgo = 1

// ThunksSection is the name of the section every emitted stub and
// redirection thunk lives in.
const ThunksSection = ".thunks"

// Import builds the probe reference table for g: on PE images it adds the
// RTL module as an import with the boundLongAgo timestamp, imports every
// enumerated probe variant, emits the two IAT bootstrap stubs, and points
// every probe's IAT slot at the stub matching its calling convention. On
// COFF images it just adds each probe as a direct external symbol.
func Import(g *blockgraph.Graph, rtlModule string, useLiveness bool) (*probe.Table, error) {
	infos := probe.Enumerate(useLiveness)
	table := probe.NewTable()

	if g.Format == blockgraph.COFF {
		for _, info := range infos {
			name := probe.Name(blockgraph.COFF, info)
			blk := blockgraph.NewBlock(name, "", blockgraph.Code, nil)
			g.AddBlock(blk)
			sym, err := g.AddSymbol(name, blk.ID())
			if err != nil {
				return nil, errors.Wrap(errors.COFFNameCollision, err, "probe symbol already defined")
			}
			table.Set(info, g.DirectReference(sym))
		}
		return table, nil
	}

	imp := g.AddImport(rtlModule, boundLongAgo)

	loadStoreStub := buildLoadStoreStub(g)
	instrStub := buildInstrStub(g)

	for _, info := range infos {
		name := probe.Name(blockgraph.PE, info)
		sym, err := g.AddImportSymbol(imp, name)
		if err != nil {
			return nil, errors.Wrap(errors.ImportFailure, err, "adding probe import")
		}

		stub := instrStub
		if info.Mode == memaccess.Read || info.Mode == memaccess.Write {
			stub = loadStoreStub
		}
		if err := g.SetIATSlot(sym, stub); err != nil {
			return nil, errors.Wrap(errors.ThunkBuildFailure, err, "installing bootstrap stub")
		}

		table.Set(info, g.IATReference(sym))
	}

	return table, nil
}

// buildLoadStoreStub emits:
//
//	mov edx, [esp+4]
//	ret 4
//
// which restores the EDX the caller pushed before the LEA and the call,
// then returns and releases that 4-byte pushed-EDX slot — semantically a
// no-op with respect to the load/store probe ABI.
func buildLoadStoreStub(g *blockgraph.Graph) blockgraph.BlockID {
	bb := &blockgraph.BasicBlock{}
	asm := blockgraph.NewAssembler(bb)
	asm.MovRegMem(blockgraph.EDX, blockgraph.SimpleMemOperand(blockgraph.ESP, 4, 32))
	asm.Ret(4)

	blk := blockgraph.BlockBuilder{Name: "asan_iat_bootstrap_load_store", Section: ThunksSection, Kind: blockgraph.Code}.
		Flatten(&blockgraph.BasicBlockSubGraph{BasicBlocks: []*blockgraph.BasicBlock{bb}})
	return g.AddBlock(blk)
}

// buildInstrStub emits a bare "ret": the Instr/RepZ/RepNZ probe ABI passes
// no argument and expects no stack adjustment.
func buildInstrStub(g *blockgraph.Graph) blockgraph.BlockID {
	bb := &blockgraph.BasicBlock{}
	asm := blockgraph.NewAssembler(bb)
	asm.Ret(0)

	blk := blockgraph.BlockBuilder{Name: "asan_iat_bootstrap_instr", Section: ThunksSection, Kind: blockgraph.Code}.
		Flatten(&blockgraph.BasicBlockSubGraph{BasicBlocks: []*blockgraph.BasicBlock{bb}})
	return g.AddBlock(blk)
}
