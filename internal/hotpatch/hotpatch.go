// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hotpatch accumulates the bookkeeping hot-patching mode needs:
// which basic blocks a dry run would have instrumented, and the metadata
// record the pass driver attaches once the run completes. It does not
// perform the hot-patch transform itself; that stays an injected
// collaborator (see blockgraph.HotPatchPreparer).
package hotpatch

import (
	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/buffer"
)

// Record describes one basic block that dry-run instrumentation touched:
// enough for the runtime hot-patcher to find the block again later and
// splice instrumentation in without a rebuild.
type Record struct {
	Block           blockgraph.BlockID
	BasicBlockIndex int
	AccessCount     int
}

// Accumulator collects Records across a dry-run pass and builds the
// metadata blob the driver serializes into the image.
type Accumulator struct {
	records []Record
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Note records that block's basic block at index touched accessCount
// instrumentable accesses during the dry run. The driver calls this
// instead of actually emitting probe calls when hot-patching mode is on.
func (a *Accumulator) Note(block blockgraph.BlockID, basicBlockIndex, accessCount int) {
	a.records = append(a.records, Record{
		Block:           block,
		BasicBlockIndex: basicBlockIndex,
		AccessCount:     accessCount,
	})
}

// Prepare satisfies blockgraph.HotPatchPreparer, recording bb's identity
// with a zero access count. An Accumulator can stand in as the Preparer
// collaborator itself when no richer bookkeeping is needed, though the
// pass driver keeps its own accumulator separate and calls Note instead.
func (a *Accumulator) Prepare(bb *blockgraph.BasicBlock) error {
	a.records = append(a.records, Record{BasicBlockIndex: bb.ID})
	return nil
}

// Records returns the accumulated records in the order they were noted.
func (a *Accumulator) Records() []Record {
	return a.records
}

// Len reports how many blocks were prepared.
func (a *Accumulator) Len() int {
	return len(a.records)
}

// metadataMagic tags the hot-patch metadata record so the runtime loader
// can recognize it among the other blocks of the section it is placed in.
const metadataMagic = uint32(0x48504153) // bytes "SAPH" when written little-endian

// Encode serializes the accumulated records into the little-endian
// metadata blob the pass driver appends to the image: a magic tag, a
// count, then one (block id, basic block index, access count) triplet per
// record.
func (a *Accumulator) Encode() []byte {
	buf := buffer.NewDynamicHint(nil, 8+12*len(a.records))
	buf.PutUint32(metadataMagic)
	buf.PutUint32(uint32(len(a.records)))
	for _, r := range a.records {
		buf.PutUint32(uint32(r.Block))
		buf.PutUint32(uint32(r.BasicBlockIndex))
		buf.PutUint32(uint32(r.AccessCount))
	}
	return buf.Bytes()
}
