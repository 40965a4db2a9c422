// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hotpatch

import (
	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/errors"
)

// BuildEntryThunk redirects g's entry point through a thunk that calls
// LoadLibraryA on rtlModule before falling into the image's original
// entry, so the RTL is resident in the process before any user code (or
// the CRT that runs ahead of it) can race against its own initialization.
// thunksSection names the section the thunk and its string constant are
// placed in.
//
// The original entry point is captured before g.EntryPoint is rewritten,
// and returned as the block the thunk falls through to. BuildEntryThunk is
// idempotent only in the sense that calling it twice builds two thunks and
// chains them; callers should call it at most once per pass.
func BuildEntryThunk(g *blockgraph.Graph, rtlModule, thunksSection string) (blockgraph.BlockID, error) {
	originalEntry := g.EntryPoint

	kernel32 := g.AddImport("kernel32.dll", 0)
	loadLibrary, err := g.AddImportSymbol(kernel32, "LoadLibraryA")
	if err != nil {
		return 0, errors.Wrap(errors.ImportFailure, err, "importing LoadLibraryA for entry thunk")
	}

	name := append([]byte(rtlModule), 0)
	nameBlock := blockgraph.NewBlock("asan_entry_thunk_rtl_name", thunksSection, blockgraph.Data, name)
	nameID := g.AddBlock(nameBlock)

	bb := &blockgraph.BasicBlock{}
	asm := blockgraph.NewAssembler(bb)
	asm.PushRef(blockgraph.Reference{Kind: blockgraph.Absolute, Size: 4, Target: nameID})
	asm.Call(g.IATReference(loadLibrary), true)
	asm.Jmp(blockgraph.Reference{Kind: blockgraph.PCRelative, Size: 4, Target: originalEntry}, false)

	blk := blockgraph.BlockBuilder{Name: "asan_entry_thunk", Section: thunksSection, Kind: blockgraph.Code}.
		Flatten(&blockgraph.BasicBlockSubGraph{BasicBlocks: []*blockgraph.BasicBlock{bb}})
	thunkID := g.AddBlock(blk)

	g.RewriteEntryThunk(thunkID)
	return thunkID, nil
}
