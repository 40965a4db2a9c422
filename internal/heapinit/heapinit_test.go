// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapinit

import (
	"testing"

	"github.com/blockasan/peasan/blockgraph"
)

func TestFindBlocksMatchesBothToolsetMarkers(t *testing.T) {
	g := blockgraph.NewGraph(blockgraph.PE)
	a := blockgraph.NewBlock("_heap_init", "", blockgraph.Code, nil)
	b := blockgraph.NewBlock("__acrt_initialize_heap", "", blockgraph.Code, nil)
	c := blockgraph.NewBlock("main", "", blockgraph.Code, nil)
	g.AddBlock(a)
	g.AddBlock(b)
	g.AddBlock(c)

	found := FindBlocks(g)
	if len(found) != 2 {
		t.Fatalf("got %d heap-init blocks, want 2", len(found))
	}
}

func TestPatchGetProcessHeapRedirectsThroughDataBlock(t *testing.T) {
	g := blockgraph.NewGraph(blockgraph.PE)

	rtl := g.AddImport("syzyasan_rtl.dll", 1)
	heapCreateSym, err := g.AddImportSymbol(rtl, "asan_HeapCreate")
	if err != nil {
		t.Fatal(err)
	}

	kernel32 := g.AddImport("kernel32.dll", 0)
	getProcessHeapSym, err := g.AddImportSymbol(kernel32, "GetProcessHeap")
	if err != nil {
		t.Fatal(err)
	}

	redirects, err := PatchGetProcessHeap(g, heapCreateSym, getProcessHeapSym, ".thunks")
	if err != nil {
		t.Fatal(err)
	}
	if redirects.Len() != 1 {
		t.Fatalf("redirect count = %d, want 1", redirects.Len())
	}

	redirects.Apply(g)

	// After applying, any reference that pointed at GetProcessHeap's IAT
	// slot must now point at the data block holding the thunk's address.
	found := false
	for _, b := range g.Blocks {
		if b.Name == "asan_get_process_heap_replacement_ptr" {
			found = true
			ref, ok := b.ReferenceAt(0)
			if !ok {
				t.Fatal("expected the data block to hold a reference to the thunk")
			}
			thunk := g.Block(ref.Target)
			if thunk == nil || thunk.Name != "asan_heap_create_thunk" {
				t.Fatal("expected the data block's reference to target the HeapCreate thunk")
			}
		}
	}
	if !found {
		t.Fatal("expected the replacement data block to be added to the graph")
	}
}
