// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package probe

import (
	"testing"

	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/memaccess"
)

func TestNameMangling(t *testing.T) {
	cases := []struct {
		format blockgraph.ImageFormat
		info   memaccess.Info
		want   string
	}{
		{
			blockgraph.PE,
			memaccess.Info{Mode: memaccess.Read, Size: 4, SaveFlags: false},
			"asan_check_4_byte_read_access_no_flags",
		},
		{
			blockgraph.COFF,
			memaccess.Info{Mode: memaccess.Read, Size: 4, SaveFlags: false},
			"_asan_check_4_byte_read_access_no_flags",
		},
		{
			blockgraph.PE,
			memaccess.Info{Mode: memaccess.Write, Size: 16, SaveFlags: true},
			"asan_check_16_byte_write_access",
		},
		{
			blockgraph.PE,
			memaccess.Info{Mode: memaccess.RepZ, Size: 4, Opcode: "MOVS", SaveFlags: true},
			"asan_check_repz_4_byte_movs_access",
		},
		{
			blockgraph.PE,
			memaccess.Info{Mode: memaccess.Instr, Size: 1, Opcode: "STOS", SaveFlags: true},
			"asan_check_1_byte_stos_access",
		},
	}

	for _, c := range cases {
		if got := Name(c.format, c.info); got != c.want {
			t.Errorf("Name(%v, %+v) = %q, want %q", c.format, c.info, got, c.want)
		}
	}
}

func TestEnumerateCoversEveryLoadStoreSize(t *testing.T) {
	infos := Enumerate(true)

	want := map[int]bool{1: true, 2: true, 4: true, 8: true, 10: true, 16: true, 32: true}
	got := make(map[int]bool)
	for _, info := range infos {
		if info.Mode == memaccess.Read || info.Mode == memaccess.Write {
			got[info.Size] = true
		}
	}
	for size := range want {
		if !got[size] {
			t.Errorf("missing load/store probe for size %d", size)
		}
	}
}

func TestEnumerateWithoutLivenessHasNoNoFlagsVariant(t *testing.T) {
	for _, info := range Enumerate(false) {
		if !info.SaveFlags {
			t.Fatalf("unexpected save_flags=false entry %+v when liveness analysis is disabled", info)
		}
	}
}

func TestEnumerateIsSorted(t *testing.T) {
	infos := Enumerate(true)
	for i := 1; i < len(infos); i++ {
		if infos[i].Less(infos[i-1]) {
			t.Fatalf("entries out of order at %d: %+v before %+v", i, infos[i-1], infos[i])
		}
	}
}

func TestTableRoundTrip(t *testing.T) {
	tab := NewTable()
	info := memaccess.Info{Mode: memaccess.Write, Size: 8, SaveFlags: true}
	ref := blockgraph.Reference{Kind: blockgraph.Absolute, Size: 4, Target: 42}

	if _, ok := tab.Lookup(info); ok {
		t.Fatal("expected no entry before Set")
	}

	tab.Set(info, ref)
	got, ok := tab.Lookup(info)
	if !ok {
		t.Fatal("expected an entry after Set")
	}
	if got != ref {
		t.Fatalf("Lookup = %+v, want %+v", got, ref)
	}
}
