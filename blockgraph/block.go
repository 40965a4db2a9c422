// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

// ReferenceKind distinguishes how a reference's bytes are interpreted at
// the site that carries it.
type ReferenceKind int

const (
	// Absolute means the referencing bytes hold the target's final
	// address (or, for data blocks such as the IAT, the address of
	// another block).
	Absolute ReferenceKind = iota

	// PCRelative means the referencing bytes hold a displacement
	// relative to the address immediately following the reference.
	PCRelative
)

// Reference is an outgoing edge from a byte range inside a block's content
// to some target, resolved at serialization time.
type Reference struct {
	Kind ReferenceKind

	// Size is the width, in bytes, of the referencing field.
	Size int

	// Target is the block this reference points into. Zero means the
	// reference targets a basic block within the same decomposition
	// rather than a block in the graph (see BasicBlockRef).
	Target BlockID

	// TargetOffset is added to the target's base address.
	TargetOffset int32

	// BasicBlockRef, when non-nil, means this reference targets a basic
	// block inside an in-progress decomposition (a computed jump or
	// case-table entry) rather than a block already merged into the
	// graph. The block builder resolves these when it flattens the
	// subgraph back into bytes.
	BasicBlockRef *BasicBlock
}

// IsBasicBlockRef reports whether this reference targets a basic block
// rather than a graph-level block.
func (r Reference) IsBasicBlockRef() bool {
	return r.BasicBlockRef != nil
}

// Block is a named, typed, contiguous range of bytes with a set of outgoing
// references keyed by the byte offset at which they occur.
type Block struct {
	id BlockID

	Name    string
	Section string
	Kind    Kind
	Content []byte

	// References maps a byte offset within Content to the reference
	// that occupies it.
	References map[int]Reference

	// Subgraph, once populated by a Decomposer, holds this block's
	// basic-block decomposition. Nil for blocks that have not been (or
	// cannot be) decomposed.
	Subgraph *BasicBlockSubGraph
}

// ID returns the block's identity within its graph. Zero means the block
// has not yet been added to a Graph.
func (b *Block) ID() BlockID { return b.id }

// NewBlock returns an unattached block; call Graph.AddBlock to give it an
// id and place it in a section.
func NewBlock(name string, section string, kind Kind, content []byte) *Block {
	return &Block{
		Name:       name,
		Section:    section,
		Kind:       kind,
		Content:    content,
		References: make(map[int]Reference),
	}
}

// Len returns the number of content bytes.
func (b *Block) Len() int { return len(b.Content) }

// AddReference records a reference occupying Content[offset:offset+ref.Size].
func (b *Block) AddReference(offset int, ref Reference) {
	b.References[offset] = ref
}

// ReferenceAt returns the reference occupying the given offset, if any.
func (b *Block) ReferenceAt(offset int) (Reference, bool) {
	ref, ok := b.References[offset]
	return ref, ok
}
