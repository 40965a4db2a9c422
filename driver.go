// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package peasan orchestrates the whole instrumentation pass: probe import,
// per-block decomposition and instrumentation, interceptor redirection, and
// heap-init patching, over a block graph supplied by the caller.
package peasan

import (
	"math/rand"

	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/config"
	"github.com/blockasan/peasan/errors"
	"github.com/blockasan/peasan/internal/analysis"
	"github.com/blockasan/peasan/internal/errorpanic"
	"github.com/blockasan/peasan/internal/heapinit"
	"github.com/blockasan/peasan/internal/hotpatch"
	"github.com/blockasan/peasan/internal/importer"
	"github.com/blockasan/peasan/internal/instrument"
	"github.com/blockasan/peasan/internal/intercept"
	"github.com/blockasan/peasan/internal/probe"
	"github.com/blockasan/peasan/internal/tracelog"
)

// defaultRTLModule and hotPatchRTLModule are the RTL DLL names the pass
// imports probes and interceptors from, per spec §6.
const (
	defaultRTLModule  = "syzyasan_rtl.dll"
	hotPatchRTLModule = "syzyasan_hp.dll"
)

// Options configures one Apply call. Construct it directly; every field has
// a usable zero value except Rate, which must be set above 0 for any
// instrumentation to happen at all.
type Options struct {
	DebugFriendly   bool
	UseLiveness     bool
	RemoveRedundant bool
	UseInterceptors bool
	Rate            float64
	HotPatching     bool

	// RTLModule overrides the default RTL DLL name for this run. Empty
	// means use defaultRTLModule, or hotPatchRTLModule if HotPatching.
	RTLModule string

	// Intercepts is the static table of CRT/system functions to redirect
	// to RTL interceptors. May be empty.
	Intercepts []intercept.Descriptor

	// HashedIntercepts identifies statically linked copies of intercepted
	// functions by content hash (PE only). May be empty.
	HashedIntercepts []intercept.HashedDescriptor
	ContentHash      blockgraph.ContentHashFunc

	// Decompose turns a code block into a basic-block subgraph. Required
	// for any block to be instrumented; blocks this returns an error for
	// are left untouched rather than failing the whole pass, mirroring
	// spec §4.8's "safely-decomposable" qualifier.
	Decompose blockgraph.Decomposer

	// HeapCreateImport is the RTL symbol providing HeapCreate in
	// non-hot-patching mode. Defaults to "asan_HeapCreate" if empty.
	HeapCreateImport string

	// Params, if non-nil, is serialized into config.SectionName (PE only).
	Params *config.Params

	// HotPatchPreparer, if set, is the external transform that prepares
	// each basic block dry-run instrumentation would have touched for
	// runtime attachment. Apply always remembers these blocks itself
	// (via an internal hotpatch.Accumulator serialized into .thunks)
	// regardless of whether this is set.
	HotPatchPreparer blockgraph.HotPatchPreparer

	// Rng drives instrumentation_rate sampling. Defaults to a
	// time-independent fixed seed if nil so runs are reproducible unless
	// the caller explicitly wants fresh randomness.
	Rng *rand.Rand
}

// Result reports summary information about a completed Apply call.
type Result struct {
	// BlocksInstrumented counts code blocks where at least one access was
	// guarded (or, in hot-patching mode, would have been).
	BlocksInstrumented int

	// StaticIntercepts lists every statically linked intercepted function
	// this run found and redirected.
	StaticIntercepts []intercept.StaticIntercept
}

// Apply runs the whole pass over g in place.
func Apply(g *blockgraph.Graph, opts Options) (Result, error) {
	if g.HasSection(importer.ThunksSection) {
		return Result{}, errors.New(errors.AlreadyInstrumented, "image already carries a .thunks section")
	}

	rtlModule := opts.RTLModule
	if rtlModule == "" {
		rtlModule = defaultRTLModule
		if opts.HotPatching {
			rtlModule = hotPatchRTLModule
		}
	}

	rng := opts.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	skip := make(map[blockgraph.BlockID]bool)

	heapInitBlocks := heapinit.FindBlocks(g)
	for _, id := range heapInitBlocks {
		skip[id] = true
	}

	if opts.HotPatching && g.Format == blockgraph.PE {
		if _, err := hotpatch.BuildEntryThunk(g, rtlModule, importer.ThunksSection); err != nil {
			return Result{}, err
		}
	}

	var staticIntercepts []intercept.StaticIntercept
	redirects := blockgraph.NewReferenceRedirectMap()

	if g.Format == blockgraph.PE && opts.ContentHash != nil && len(opts.HashedIntercepts) > 0 {
		found, staticRedirects, err := intercept.RedirectStatic(g, rtlModule, opts.ContentHash, opts.HashedIntercepts, importer.ThunksSection)
		if err != nil {
			return Result{}, err
		}
		staticIntercepts = found
		for _, si := range found {
			skip[si.Original] = true
		}
		mergeRedirects(redirects, staticRedirects)
	}

	table, err := importer.Import(g, rtlModule, opts.UseLiveness)
	if err != nil {
		return Result{}, err
	}

	var accumulator *hotpatch.Accumulator
	if opts.HotPatching {
		accumulator = hotpatch.NewAccumulator()
	}

	result, err := instrumentBlocks(g, opts, skip, table, accumulator, rng)
	if err != nil {
		return Result{}, err
	}

	result.StaticIntercepts = staticIntercepts

	if g.Format == blockgraph.PE && !opts.HotPatching && len(opts.Intercepts) > 0 {
		importRedirects, err := intercept.RedirectImported(g, rtlModule, opts.Intercepts, opts.UseInterceptors)
		if err != nil {
			return Result{}, err
		}
		mergeRedirects(redirects, importRedirects)
	}
	if g.Format == blockgraph.COFF && len(opts.Intercepts) > 0 {
		if err := intercept.RenameCOFF(g, opts.Intercepts); err != nil {
			return Result{}, err
		}
	}

	heapCreateImport := opts.HeapCreateImport
	if heapCreateImport == "" {
		heapCreateImport = "asan_HeapCreate"
	}
	if len(heapInitBlocks) > 0 && g.Format == blockgraph.PE {
		// HeapCreate comes from the RTL in the normal path, but directly
		// from kernel32.dll in hot-patching mode, since the hot-patching
		// RTL isn't necessarily loaded yet when heap-init runs.
		heapModule, heapSymbol := rtlModule, heapCreateImport
		if opts.HotPatching {
			heapModule, heapSymbol = "kernel32.dll", "HeapCreate"
		}
		if err := patchHeapInit(g, heapModule, heapSymbol, redirects); err != nil {
			return Result{}, err
		}
	}

	redirects.Apply(g)

	if opts.Params != nil && g.Format == blockgraph.PE {
		blob := opts.Params.Encode()
		params := blockgraph.NewBlock("AsanParameters", config.SectionName, blockgraph.Data, blob)
		g.AddBlock(params)
	}

	if opts.HotPatching && accumulator != nil && accumulator.Len() > 0 {
		meta := blockgraph.NewBlock("asan_hot_patch_metadata", importer.ThunksSection, blockgraph.Data, accumulator.Encode())
		g.AddBlock(meta)
	}

	return result, nil
}

// instrumentBlocks decomposes and instruments every eligible code block in
// g. A panic out of Decompose, the classifier, or the encoder — a decoder
// bug tripping over a malformed or adversarially crafted block, not a
// caller mistake — is recovered and turned into a TransformFailure instead
// of crashing the whole pass, mirroring spec §7.
func instrumentBlocks(g *blockgraph.Graph, opts Options, skip map[blockgraph.BlockID]bool, table *probe.Table, accumulator *hotpatch.Accumulator, rng *rand.Rand) (result Result, err error) {
	defer func() {
		if e := errorpanic.Handle(recover()); e != nil {
			err = e
		}
	}()

	for id, b := range g.Blocks {
		if b.Kind != blockgraph.Code || skip[id] || opts.Decompose == nil {
			tracelog.Printf("peasan: skip block %q (not eligible for decomposition)", b.Name)
			continue
		}
		if b.Section == importer.ThunksSection {
			// Bootstrap stubs, interceptor thunks, the heap-create thunk,
			// and the hot-patching entry thunk are this pass's own
			// ABI-exact output; decomposing and instrumenting them again
			// would corrupt their hand-built instruction sequences.
			tracelog.Printf("peasan: skip block %q (own thunk output)", b.Name)
			continue
		}

		sub, derr := opts.Decompose(b)
		if derr != nil {
			tracelog.Printf("peasan: block %q not safely decomposable: %v", b.Name, derr)
			continue // not safely decomposable; left untouched
		}
		b.Subgraph = sub

		live := analysis.ComputeLiveness(sub)
		mode := instrument.AnalyzeStack(sub)
		iopts := instrument.New(opts.DebugFriendly, opts.UseLiveness, opts.RemoveRedundant, opts.Rate, opts.HotPatching, nil)

		blockInstrumented := false
		tracelog.Depth++
		for _, bb := range sub.BasicBlocks {
			res, ierr := instrument.InstrumentBasicBlock(bb, mode, iopts, table, g.Format, live, rng)
			if ierr != nil {
				tracelog.Depth--
				return Result{}, ierr
			}
			if res.InstrumentationHappened {
				tracelog.Printf("peasan: instrumented basic block %d of %q (%d accesses)", bb.ID, b.Name, res.AccessCount)
				blockInstrumented = true
				if opts.HotPatching {
					accumulator.Note(id, bb.ID, res.AccessCount)
					if opts.HotPatchPreparer != nil {
						if err := opts.HotPatchPreparer.Prepare(bb); err != nil {
							tracelog.Depth--
							return Result{}, errors.Wrap(errors.TransformFailure, err, "hot-patch preparation failed")
						}
					}
				}
			}
		}
		tracelog.Depth--

		if blockInstrumented {
			result.BlocksInstrumented++
		}
		if !opts.HotPatching {
			b2 := blockgraph.BlockBuilder{Name: b.Name, Section: b.Section, Kind: blockgraph.Code}.Flatten(sub)
			b.Content = b2.Content
			b.References = b2.References
		}
	}

	return result, nil
}

// patchHeapInit imports heapCreateImport from rtlModule and builds the
// private-heap redirect, merging it into redirects. If the image never
// calls GetProcessHeap, only the HeapCreate import is added; no thunk or
// redirect is built.
func patchHeapInit(g *blockgraph.Graph, rtlModule, heapCreateImport string, redirects *blockgraph.ReferenceRedirectMap) error {
	imp := g.AddImport(rtlModule, 1)
	heapCreateSym, err := g.AddImportSymbol(imp, heapCreateImport)
	if err != nil {
		return errors.Wrap(errors.ImportFailure, err, "importing HeapCreate")
	}

	getProcessHeapSym, ok := g.Symbol("GetProcessHeap")
	if !ok {
		return nil // image never calls GetProcessHeap; nothing to patch
	}

	heapRedirects, err := heapinit.PatchGetProcessHeap(g, heapCreateSym, getProcessHeapSym, importer.ThunksSection)
	if err != nil {
		return err
	}
	mergeRedirects(redirects, heapRedirects)
	return nil
}

// mergeRedirects folds src's pending redirects into dst. Both maps are
// assembled by the pass driver before a single Apply call, so callers never
// observe a partially merged graph.
func mergeRedirects(dst, src *blockgraph.ReferenceRedirectMap) {
	dst.Absorb(src)
}
