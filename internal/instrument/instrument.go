// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package instrument implements the basic-block instrumentation engine:
// for one basic block, it decides which memory accesses to guard and
// emits the probe call sequence for each, consulting the operand
// classifier, the liveness and redundancy analyses, and the probe
// reference table built by the importer.
package instrument

import (
	"math/rand"
	"strings"

	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/errors"
	"github.com/blockasan/peasan/internal/analysis"
	"github.com/blockasan/peasan/internal/classify"
	"github.com/blockasan/peasan/internal/probe"
	"github.com/blockasan/peasan/internal/tracelog"
	"github.com/blockasan/peasan/memaccess"
)

// StackMode describes what the safe-stack analysis concluded about a
// function's stack-pointer discipline.
type StackMode int

const (
	// UnsafeStack means the function performs stack-pointer manipulation
	// the safe-stack analysis couldn't prove safe; ESP/EBP-based accesses
	// are instrumented like any other.
	UnsafeStack StackMode = iota

	// SafeStack means the function sticks to a standard prologue/epilogue;
	// accesses based on ESP or EBP are known safe and are never
	// instrumented.
	SafeStack
)

// Filter lets a caller exclude specific instructions from instrumentation
// for reasons outside this package's knowledge (e.g. interceptor skip
// sets maintained by the pass driver).
type Filter func(ins *blockgraph.Instruction) bool

// Options configures one InstrumentBasicBlock call. Rate is clamped to
// [0,1] by New; construct Options through New rather than a literal so
// that invariant holds.
type Options struct {
	DebugFriendly   bool
	UseLiveness     bool
	RemoveRedundant bool
	Rate            float64
	DryRun          bool
	Filter          Filter
}

// New returns Options with Rate clamped into [0,1].
func New(debugFriendly, useLiveness, removeRedundant bool, rate float64, dryRun bool, filter Filter) Options {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return Options{debugFriendly, useLiveness, removeRedundant, rate, dryRun, filter}
}

// Result reports what InstrumentBasicBlock did.
type Result struct {
	// InstrumentationHappened is true if at least one access in the
	// block was instrumented (or, in dry-run mode, would have been).
	InstrumentationHappened bool

	// AccessCount is how many accesses were instrumented (or, in dry-run
	// mode, would have been). Hot-patching bookkeeping uses this to size
	// its metadata records without having to diff instruction counts.
	AccessCount int
}

// exempt reports whether the instrumenter never guards opcode even though
// its operand is memory-typed: LEA computes an address but never
// dereferences it, and CLFLUSH/PREFETCH* read memory only as cache hints.
func exempt(opcode string) bool {
	if opcode == "LEA" || opcode == "CLFLUSH" {
		return true
	}
	return strings.HasPrefix(opcode, "PREFETCH")
}

// InstrumentBasicBlock walks bb once, in order, instrumenting every access
// that survives the exclusion rules in §4.4. live is consulted only for
// Read/Write accesses; it may be nil if opts.UseLiveness is false. rng
// drives the instrumentation_rate sampling decision and must be supplied
// by the caller (seed it explicitly for deterministic runs).
func InstrumentBasicBlock(
	bb *blockgraph.BasicBlock,
	mode StackMode,
	opts Options,
	table *probe.Table,
	format blockgraph.ImageFormat,
	live *analysis.Liveness,
	rng *rand.Rand,
) (Result, error) {
	if opts.Rate <= 0 {
		return Result{}, nil
	}

	var redundant *analysis.Redundancy
	if opts.RemoveRedundant {
		redundant = analysis.NewRedundancy()
	}

	var result Result

	for i := 0; i < len(bb.Instructions); i++ {
		ins := bb.Instructions[i]

		if redundant != nil && redundant.IsRedundant(ins) {
			tracelog.Printf("instrument: skip %s at index %d (redundant with an earlier check)", ins.Opcode, i)
			redundant.Advance(ins)
			continue
		}

		res, ok := classify.Classify(ins)
		skip := !ok || res.Info.Mode == memaccess.None
		reason := "not a classified memory access"

		if !skip && res.Operand.Disp.HasRef() {
			skip = true // targets a basic block or a global; no value in checking it
			reason = "displacement targets a block or global"
		}
		if !skip && exempt(ins.Opcode) {
			skip = true
			reason = "opcode is exempt"
		}
		if !skip && mode == SafeStack && res.Operand.BaseValid() &&
			(res.Operand.Base == blockgraph.ESP || res.Operand.Base == blockgraph.EBP) {
			skip = true
			reason = "stack access proven safe"
		}
		if !skip && (res.Operand.Segment == blockgraph.SegFS || res.Operand.Segment == blockgraph.SegGS) {
			skip = true
			reason = "segment-relative access"
		}
		if !skip && opts.Filter != nil && opts.Filter(ins) {
			skip = true
			reason = "excluded by caller filter"
		}
		if !skip && opts.Rate < 1.0 && rng.Float64() >= opts.Rate {
			skip = true
			reason = "sampled out by instrumentation rate"
		}

		if skip {
			tracelog.Printf("instrument: skip %s at index %d (%s)", ins.Opcode, i, reason)
			if redundant != nil {
				redundant.Advance(ins)
			}
			continue
		}

		tracelog.Printf("instrument: guarding %s at index %d", ins.Opcode, i)

		if opts.UseLiveness && (res.Info.Mode == memaccess.Read || res.Info.Mode == memaccess.Write) {
			if !live.LiveAfter(bb, i) {
				res.Info.SaveFlags = false
			}
		}

		result.InstrumentationHappened = true
		result.AccessCount++

		if !opts.DryRun {
			n, err := emitProbeCall(bb, i, ins, res, table, format, opts.DebugFriendly)
			if err != nil {
				return Result{}, err
			}
			i += n
		}

		if redundant != nil {
			redundant.Advance(ins)
		}
	}

	return result, nil
}

// emitProbeCall inserts the probe ABI sequence immediately before the
// instruction at index at and returns how many instructions were
// inserted, so the caller can skip over them.
func emitProbeCall(
	bb *blockgraph.BasicBlock,
	at int,
	ins *blockgraph.Instruction,
	res classify.Result,
	table *probe.Table,
	format blockgraph.ImageFormat,
	debugFriendly bool,
) (int, error) {
	ref, ok := table.Lookup(res.Info)
	if !ok {
		return 0, errors.Newf(errors.UnknownProbe, "no probe for access %+v", res.Info)
	}

	staging := &blockgraph.BasicBlock{}
	asm := blockgraph.NewAssembler(staging)
	if debugFriendly && ins.HasSourceOffset {
		asm.SourceOffset = ins.SourceOffset
		asm.HasSourceOffset = true
	}

	indirect := format == blockgraph.PE

	switch res.Info.Mode {
	case memaccess.Read, memaccess.Write:
		asm.Push(blockgraph.EDX)
		asm.Lea(blockgraph.EDX, res.Operand)
		asm.Call(ref, indirect)
	default: // Instr, RepZ, RepNZ
		asm.Call(ref, indirect)
	}

	bb.InsertBefore(at, staging.Instructions...)
	return len(staging.Instructions), nil
}
