// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// +build gofuzz

package peasan

import (
	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/internal/analysis"
	"github.com/blockasan/peasan/internal/classify"
	"github.com/blockasan/peasan/internal/fuzzutil"
	"github.com/blockasan/peasan/internal/instrument"
)

var fuzzTable = fuzzutil.FullTable(true)

// Fuzz decodes data into a synthetic instruction and runs it through the
// classifier and the instrumenter, the same two stages a real decoded
// basic block would pass through inside Apply. It never touches a real
// image; the decoder itself lives in internal/fuzzutil and is explicitly
// not a faithful x86 decoder, only a generator of classifier/instrumenter
// inputs from arbitrary bytes.
func Fuzz(data []byte) int {
	ins, ok := fuzzutil.Decode(data)
	if !ok {
		return 0
	}
	if _, ok := classify.Classify(ins); !ok {
		return 0
	}

	bb := &blockgraph.BasicBlock{Instructions: []*blockgraph.Instruction{ins}}
	sub := &blockgraph.BasicBlockSubGraph{BasicBlocks: []*blockgraph.BasicBlock{bb}}
	live := analysis.ComputeLiveness(sub)

	format := blockgraph.PE
	if len(data) > 0 && data[0]&1 != 0 {
		format = blockgraph.COFF
	}

	opts := instrument.New(false, true, true, 1.0, false, nil)
	rng := fuzzutil.Rng(data)

	_, err := instrument.InstrumentBasicBlock(bb, instrument.UnsafeStack, opts, fuzzTable, format, live, rng)
	result, ok := fuzzutil.Result(err)
	if !ok {
		panic(err)
	}
	return result
}
