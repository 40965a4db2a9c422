// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hotpatch

import (
	"testing"

	"github.com/blockasan/peasan/blockgraph"
)

func TestBuildEntryThunkRewritesEntryPoint(t *testing.T) {
	g := blockgraph.NewGraph(blockgraph.PE)
	original := g.AddBlock(blockgraph.NewBlock("original_entry", "", blockgraph.Code, []byte{0xc3}))
	g.EntryPoint = original

	thunkID, err := BuildEntryThunk(g, "syzyasan_hp.dll", "thunks")
	if err != nil {
		t.Fatal(err)
	}

	if g.EntryPoint != thunkID {
		t.Fatalf("EntryPoint = %v, want the new thunk %v", g.EntryPoint, thunkID)
	}
	if g.EntryPoint == original {
		t.Fatal("EntryPoint was not rewritten")
	}

	thunk := g.Block(thunkID)
	if thunk == nil {
		t.Fatal("thunk block was not added to the graph")
	}
	if thunk.Section != "thunks" {
		t.Fatalf("thunk section = %q, want %q", thunk.Section, "thunks")
	}

	var jumpsToOriginal bool
	for _, ref := range thunk.References {
		if ref.Kind == blockgraph.PCRelative && ref.Target == original {
			jumpsToOriginal = true
		}
	}
	if !jumpsToOriginal {
		t.Fatal("thunk must fall through to the original entry point via a direct reference")
	}

	imp, ok := g.Imports["kernel32.dll"]
	if !ok {
		t.Fatal("expected kernel32.dll to be imported")
	}
	var hasLoadLibrary bool
	for _, sym := range imp.Symbols {
		if sym.Name == "LoadLibraryA" {
			hasLoadLibrary = true
		}
	}
	if !hasLoadLibrary {
		t.Fatal("expected LoadLibraryA to be imported from kernel32.dll")
	}
}

func TestBuildEntryThunkEmbedsRTLModuleName(t *testing.T) {
	g := blockgraph.NewGraph(blockgraph.PE)
	g.EntryPoint = g.AddBlock(blockgraph.NewBlock("original_entry", "", blockgraph.Code, []byte{0xc3}))

	if _, err := BuildEntryThunk(g, "syzyasan_hp.dll", "thunks"); err != nil {
		t.Fatal(err)
	}

	nameBlock := g.FindBlockByName("asan_entry_thunk_rtl_name")
	if nameBlock == nil {
		t.Fatal("expected an RTL name data block")
	}
	want := "syzyasan_hp.dll\x00"
	if string(nameBlock.Content) != want {
		t.Fatalf("name block content = %q, want %q", nameBlock.Content, want)
	}
}
