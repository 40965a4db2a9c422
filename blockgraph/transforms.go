// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

// ReferenceRedirectMap accumulates "replace every reference to this block
// with a reference to that one instead" rewrites, gathered over the
// course of a pass and applied once at the end so that intermediate steps
// never observe a half-redirected graph.
type ReferenceRedirectMap struct {
	redirects map[BlockID]BlockID
}

// NewReferenceRedirectMap returns an empty map.
func NewReferenceRedirectMap() *ReferenceRedirectMap {
	return &ReferenceRedirectMap{redirects: make(map[BlockID]BlockID)}
}

// Add records that every reference targeting from should instead target
// to.
func (m *ReferenceRedirectMap) Add(from, to BlockID) {
	m.redirects[from] = to
}

// Len reports how many redirects are pending.
func (m *ReferenceRedirectMap) Len() int { return len(m.redirects) }

// Absorb merges other's pending redirects into m. Used by the pass driver
// to fold several transforms' redirect maps into one before a single Apply
// call.
func (m *ReferenceRedirectMap) Absorb(other *ReferenceRedirectMap) {
	for from, to := range other.redirects {
		m.redirects[from] = to
	}
}

// Apply walks every block and every reference in the graph, rewriting any
// reference whose Target has a pending redirect. Reference sizes and kinds
// are untouched; only the target changes.
func (m *ReferenceRedirectMap) Apply(g *Graph) {
	if len(m.redirects) == 0 {
		return
	}
	for _, b := range g.Blocks {
		for offset, ref := range b.References {
			if to, ok := m.redirects[ref.Target]; ok {
				ref.Target = to
				b.References[offset] = ref
			}
		}
	}
}

// RewriteEntryThunk points the graph's entry point at a new block. Used in
// hot-patching mode to route the loader through a thunk that loads the RTL
// before any user code runs.
func (g *Graph) RewriteEntryThunk(newEntry BlockID) {
	g.EntryPoint = newEntry
}

// HotPatchPreparer is the external transform that prepares one basic block
// for runtime attachment in hot-patching mode: recording enough metadata
// that the RTL can later splice instrumentation in without a rebuild.
type HotPatchPreparer interface {
	Prepare(bb *BasicBlock) error
}

// ContentHashFunc computes a stable digest for a block's content, used to
// recognize statically linked copies of known functions regardless of
// where the linker happened to place them.
type ContentHashFunc func(content []byte) string

// ContentHashFilter matches block content against a table of known hashes.
type ContentHashFilter struct {
	hashFunc ContentHashFunc
	byHash   map[string]string // hash -> descriptor key
}

// NewContentHashFilter builds a filter over the given hash table using
// hashFunc to digest candidate blocks.
func NewContentHashFilter(hashFunc ContentHashFunc, table map[string]string) *ContentHashFilter {
	return &ContentHashFilter{hashFunc: hashFunc, byHash: table}
}

// Match reports the descriptor key associated with content's hash, if any.
func (f *ContentHashFilter) Match(content []byte) (key string, ok bool) {
	key, ok = f.byHash[f.hashFunc(content)]
	return
}
