// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heapinit finds the CRT's process-heap initialization code and
// redirects it to create a private heap, so the RTL owns every
// allocation the instrumented process ever makes.
package heapinit

import (
	"strings"

	"github.com/blockasan/peasan/blockgraph"
)

// nameMarkers are the block-name substrings that identify a CRT heap-init
// routine across toolset versions: "_heap_init" for VS2012 and
// "_acrt_initialize_heap" for VS2015.
var nameMarkers = []string{"_heap_init", "_acrt_initialize_heap"}

// FindBlocks returns every code block in g whose name identifies it as a
// CRT heap-initialization routine.
func FindBlocks(g *blockgraph.Graph) []blockgraph.BlockID {
	var found []blockgraph.BlockID
	for id, b := range g.Blocks {
		if b.Kind != blockgraph.Code {
			continue
		}
		for _, marker := range nameMarkers {
			if strings.Contains(b.Name, marker) {
				found = append(found, id)
				break
			}
		}
	}
	return found
}

// heapCreateSize is the initial reserve size passed to HeapCreate by the
// private-heap thunk, matching the RTL's expectation of a growable heap
// seeded at 4 KiB.
const heapCreateSize = 0x1000

// PatchGetProcessHeap builds the private-heap thunk — equivalent to
// HeapCreate(0, heapCreateSize, 0) — and returns the redirect that must be
// applied to every reference the heap-init blocks make to
// GetProcessHeap's IAT slot.
//
// The thunk is paired with a 4-byte data block holding an absolute
// reference to the thunk's entry, because GetProcessHeap is itself reached
// indirectly through an IAT slot: redirection must point the IAT
// reference at this data block, not at the thunk's code directly.
func PatchGetProcessHeap(g *blockgraph.Graph, heapCreateSym *blockgraph.Symbol, getProcessHeapSym *blockgraph.Symbol, thunksSection string) (*blockgraph.ReferenceRedirectMap, error) {
	thunk := buildHeapCreateThunk(g, heapCreateSym, thunksSection)

	data := blockgraph.NewBlock("asan_get_process_heap_replacement_ptr", thunksSection, blockgraph.Data, make([]byte, 4))
	dataID := g.AddBlock(data)
	data.AddReference(0, blockgraph.Reference{Kind: blockgraph.Absolute, Size: 4, Target: thunk})

	redirects := blockgraph.NewReferenceRedirectMap()
	redirects.Add(getProcessHeapSym.Block, dataID)
	return redirects, nil
}

// buildHeapCreateThunk emits a call to HeapCreate, through its IAT slot,
// with the private heap's fixed arguments (flOptions=0,
// dwInitialSize=heapCreateSize, dwMaximumSize=0) pushed in stdcall reverse
// order, followed by a ret: the thunk behaves like GetProcessHeap() from its
// caller's point of view, but returns a private heap handle instead of the
// process heap's.
func buildHeapCreateThunk(g *blockgraph.Graph, heapCreateSym *blockgraph.Symbol, section string) blockgraph.BlockID {
	bb := &blockgraph.BasicBlock{}
	asm := blockgraph.NewAssembler(bb)

	asm.PushImm(0)              // dwMaximumSize
	asm.PushImm(heapCreateSize) // dwInitialSize
	asm.PushImm(0)              // flOptions
	asm.Call(g.IATReference(heapCreateSym), true)
	asm.Ret(0)

	blk := blockgraph.BlockBuilder{Name: "asan_heap_create_thunk", Section: section, Kind: blockgraph.Code}.
		Flatten(&blockgraph.BasicBlockSubGraph{BasicBlocks: []*blockgraph.BasicBlock{bb}})
	return g.AddBlock(blk)
}
