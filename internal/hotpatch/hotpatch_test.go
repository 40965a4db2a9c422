// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hotpatch

import "testing"

func TestNoteAccumulatesInOrder(t *testing.T) {
	a := NewAccumulator()
	a.Note(1, 0, 3)
	a.Note(1, 1, 0)
	a.Note(2, 0, 5)

	if a.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", a.Len())
	}
	records := a.Records()
	if records[2].Block != 2 || records[2].AccessCount != 5 {
		t.Fatal("third record does not match the last Note call")
	}
}

func TestEncodeRoundTripsRecordCount(t *testing.T) {
	a := NewAccumulator()
	a.Note(7, 2, 4)

	blob := a.Encode()
	if len(blob) != 8+12 {
		t.Fatalf("Encode() length = %d, want %d", len(blob), 8+12)
	}

	count := uint32(blob[4]) | uint32(blob[5])<<8 | uint32(blob[6])<<16 | uint32(blob[7])<<24
	if count != 1 {
		t.Fatalf("encoded record count = %d, want 1", count)
	}

	block := uint32(blob[8]) | uint32(blob[9])<<8 | uint32(blob[10])<<16 | uint32(blob[11])<<24
	if block != 7 {
		t.Fatalf("encoded block id = %d, want 7", block)
	}
}

func TestEmptyAccumulatorEncodesJustTheHeader(t *testing.T) {
	a := NewAccumulator()
	blob := a.Encode()
	if len(blob) != 8 {
		t.Fatalf("Encode() length = %d, want 8", len(blob))
	}
}
