// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analysis

import "github.com/blockasan/peasan/blockgraph"

// region is an address range reached through one fixed addressing mode
// (same base, same index and scale if any), already checked by some
// earlier instruction in the block.
type region struct {
	hasBase  bool
	base     blockgraph.Register
	hasIndex bool
	index    blockgraph.Register
	scale    int
	low, high int32
}

func addressingOf(op blockgraph.Operand) (hasBase bool, base blockgraph.Register, hasIndex bool, index blockgraph.Register, scale int) {
	return op.BaseValid(), op.Base, op.HasIndex, op.Index, op.Scale
}

func (r region) sameAddressing(op blockgraph.Operand) bool {
	hasBase, base, hasIndex, index, scale := addressingOf(op)
	return r.hasBase == hasBase && r.base == base &&
		r.hasIndex == hasIndex && r.index == index && r.scale == scale
}

func (r region) covers(low, high int32) bool {
	return low >= r.low && high <= r.high
}

// Redundancy tracks, within a single basic block, which address ranges
// have already been checked by an earlier access reached through the same
// fixed addressing mode. It is reset at the start of every basic block:
// the instrumenter never considers an access in one block redundant with
// one in another.
type Redundancy struct {
	regions []region
}

// NewRedundancy returns an empty state, scoped to one basic block.
func NewRedundancy() *Redundancy {
	return &Redundancy{}
}

// IsRedundant reports whether ins's memory access, if it has one, falls
// entirely inside a range already covered earlier in this block.
func (r *Redundancy) IsRedundant(ins *blockgraph.Instruction) bool {
	op, _, ok := ins.MemoryOperand()
	if !ok {
		return false
	}

	low := op.Disp.Value
	high := low + int32(op.SizeBytes()) - 1

	for _, covered := range r.regions {
		if covered.sameAddressing(op) && covered.covers(low, high) {
			return true
		}
	}
	return false
}

// Advance folds ins's memory access, if any, into the covered set. Called
// for every instruction regardless of whether it was instrumented, so a
// later access to the same range is recognized as redundant even if the
// earlier one was itself skipped for some other reason (e.g. sampling).
func (r *Redundancy) Advance(ins *blockgraph.Instruction) {
	op, _, ok := ins.MemoryOperand()
	if !ok {
		return
	}

	low := op.Disp.Value
	high := low + int32(op.SizeBytes()) - 1
	hasBase, base, hasIndex, index, scale := addressingOf(op)

	r.regions = append(r.regions, region{
		hasBase: hasBase, base: base,
		hasIndex: hasIndex, index: index, scale: scale,
		low: low, high: high,
	})
}
