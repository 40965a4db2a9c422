// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package intercept redirects calls to intercepted CRT/system functions
// toward their RTL replacements, both for copies reached through an
// import and for copies linked directly into the image.
package intercept

import (
	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/errors"
)

// Descriptor is one statically known interceptable function.
type Descriptor struct {
	// Module is the DLL this function is normally imported from, or ""
	// if it has no canonical module (e.g. a CRT function that may be
	// statically linked).
	Module string

	Undecorated string

	// Decorated is the C++-mangled name, if this function has one.
	Decorated string

	// Optional intercepts are only redirected when the pass is
	// configured with UseInterceptors; core intercepts are always
	// applied.
	Optional bool

	// ContentHashes identifies statically linked copies of this
	// function's machine code, independent of where the linker placed
	// them or what symbol name (if any) survives to describe them.
	ContentHashes []string
}

// interceptorSymbol is the RTL-side name a Descriptor redirects to.
func interceptorSymbol(d Descriptor) string {
	return "asan_" + d.Undecorated
}

// RedirectImported finds every descriptor whose undecorated or decorated
// name is actually imported by g, adds an RTL import for its
// interceptor, and accumulates a redirect sending the original import's
// IAT slot to the interceptor's IAT slot. Skipped entirely in
// hot-patching mode, per §4.6.
func RedirectImported(g *blockgraph.Graph, rtlModule string, descriptors []Descriptor, useOptional bool) (*blockgraph.ReferenceRedirectMap, error) {
	redirects := blockgraph.NewReferenceRedirectMap()
	imp := g.AddImport(rtlModule, 1)

	for _, d := range descriptors {
		if d.Optional && !useOptional {
			continue
		}

		names := []string{d.Undecorated}
		if d.Decorated != "" {
			names = append(names, d.Decorated)
		}

		for _, name := range names {
			sym, ok := g.Symbol(name)
			if !ok || !sym.Imported {
				continue
			}

			interceptorName := interceptorSymbol(d)
			interceptorSym, err := g.AddImportSymbol(imp, interceptorName)
			if err != nil {
				return nil, errors.Wrap(errors.ImportFailure, err, "adding interceptor import")
			}

			redirects.Add(sym.Block, interceptorSym.Block)
		}
	}

	return redirects, nil
}

// HashedDescriptor pairs one content hash with the descriptor it
// identifies, for RedirectStatic's lookup table.
type HashedDescriptor struct {
	Hash       string
	Descriptor Descriptor
}

// StaticIntercept is the result of discovering one statically linked copy
// of an intercepted function: the original block, the thunk that replaces
// every reference to it, and the descriptor that matched.
type StaticIntercept struct {
	Original   blockgraph.BlockID
	Thunk      blockgraph.BlockID
	Descriptor Descriptor
}

// RedirectStatic scans every code block in g for content matching one of
// hashed's entries. For each hit it imports the interceptor, synthesizes a
// ".thunks" block containing a single indirect jump through the
// interceptor's IAT slot, and accumulates a redirect from the original
// block to the thunk. It returns the discovered intercepts (needed by the
// caller to build the instrumenter's skip set) and the accumulated
// redirect map.
func RedirectStatic(
	g *blockgraph.Graph,
	rtlModule string,
	hashFunc blockgraph.ContentHashFunc,
	hashed []HashedDescriptor,
	thunksSection string,
) ([]StaticIntercept, *blockgraph.ReferenceRedirectMap, error) {
	table := make(map[string]Descriptor, len(hashed))
	for _, h := range hashed {
		table[h.Hash] = h.Descriptor
	}
	filter := blockgraph.NewContentHashFilter(hashFunc, hashKeys(hashed))

	imp := g.AddImport(rtlModule, 1)
	redirects := blockgraph.NewReferenceRedirectMap()
	var found []StaticIntercept

	for id, b := range g.Blocks {
		if b.Kind != blockgraph.Code {
			continue
		}
		key, ok := filter.Match(b.Content)
		if !ok {
			continue
		}
		d := table[key]

		interceptorSym, err := g.AddImportSymbol(imp, interceptorSymbol(d))
		if err != nil {
			return nil, nil, errors.Wrap(errors.ImportFailure, err, "adding static interceptor import")
		}

		thunk := buildIndirectJumpThunk(g, b.Name+"_asan_thunk", thunksSection, interceptorSym)
		redirects.Add(id, thunk)

		found = append(found, StaticIntercept{Original: id, Thunk: thunk, Descriptor: d})
	}

	return found, redirects, nil
}

func hashKeys(hashed []HashedDescriptor) map[string]string {
	m := make(map[string]string, len(hashed))
	for _, h := range hashed {
		m[h.Hash] = h.Hash
	}
	return m
}

func buildIndirectJumpThunk(g *blockgraph.Graph, name, section string, target *blockgraph.Symbol) blockgraph.BlockID {
	bb := &blockgraph.BasicBlock{}
	asm := blockgraph.NewAssembler(bb)
	asm.Jmp(g.IATReference(target), true)

	blk := blockgraph.BlockBuilder{Name: name, Section: section, Kind: blockgraph.Code}.
		Flatten(&blockgraph.BasicBlockSubGraph{BasicBlocks: []*blockgraph.BasicBlock{bb}})
	return g.AddBlock(blk)
}

// RenameCOFF renames every symbol matching one of descriptors' direct and
// __imp_-decorated forms to its Asan-prefixed equivalent, failing with
// COFFNameCollision if the object already defines the destination name.
func RenameCOFF(g *blockgraph.Graph, descriptors []Descriptor) error {
	for _, d := range descriptors {
		target := interceptorSymbol(d)
		renames := [][2]string{{d.Undecorated, target}}
		if d.Decorated != "" {
			renames = append(renames,
				[2]string{d.Decorated, target},
				[2]string{"__imp_" + d.Decorated, "__imp_" + target})
		}

		for _, r := range renames {
			if _, ok := g.Symbol(r[0]); !ok {
				continue
			}
			if err := g.RenameSymbol(r[0], r[1]); err != nil {
				return errors.Wrap(errors.COFFNameCollision, err, "renaming intercepted COFF symbol")
			}
		}
	}
	return nil
}
