// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fuzzutil

import (
	"testing"

	"github.com/blockasan/peasan/errors"
	"github.com/blockasan/peasan/internal/probe"
)

func TestDecodeRejectsShortInput(t *testing.T) {
	if _, ok := Decode([]byte{1, 2, 3}); ok {
		t.Fatal("expected Decode to reject fewer than 8 bytes")
	}
}

func TestDecodeProducesAnInstruction(t *testing.T) {
	ins, ok := Decode(make([]byte, 16))
	if !ok {
		t.Fatal("expected Decode to accept 16 bytes")
	}
	if ins.NumOperands != 2 {
		t.Fatalf("NumOperands = %d, want 2", ins.NumOperands)
	}
}

func TestFullTableCoversEveryEnumeratedProbe(t *testing.T) {
	table := FullTable(true)
	for _, info := range probe.Enumerate(true) {
		if _, ok := table.Lookup(info); !ok {
			t.Fatalf("no entry for %+v", info)
		}
	}
}

func TestResultClassifiesKnownErrorKinds(t *testing.T) {
	if r, ok := Result(nil); !ok || r != 1 {
		t.Fatalf("Result(nil) = (%d, %v), want (1, true)", r, ok)
	}
	if r, ok := Result(errors.New(errors.UnknownProbe, "x")); !ok || r != 0 {
		t.Fatalf("Result(UnknownProbe) = (%d, %v), want (0, true)", r, ok)
	}
	if _, ok := Result(errors.New(errors.COFFNameCollision, "x")); ok {
		t.Fatal("expected an unrecognized kind to return ok=false")
	}
}
