// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package importer

import (
	"testing"

	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/memaccess"
)

func TestPEImportInstallsBootstrapStubs(t *testing.T) {
	g := blockgraph.NewGraph(blockgraph.PE)

	table, err := Import(g, "syzyasan_rtl.dll", true)
	if err != nil {
		t.Fatal(err)
	}

	if !g.HasSection(ThunksSection) {
		t.Fatal("expected a .thunks section after import")
	}
	if got := len(g.Sections[ThunksSection].Order); got != 2 {
		t.Fatalf("expected exactly 2 bootstrap stubs, got %d", got)
	}

	imp, ok := g.Imports["syzyasan_rtl.dll"]
	if !ok {
		t.Fatal("expected the RTL module to be imported")
	}
	if imp.Timestamp != boundLongAgo {
		t.Fatalf("timestamp = %d, want %d", imp.Timestamp, boundLongAgo)
	}

	info := memaccess.Info{Mode: memaccess.Read, Size: 4, SaveFlags: true}
	ref, ok := table.Lookup(info)
	if !ok {
		t.Fatal("expected a probe table entry for a 4-byte read probe")
	}
	if ref.Kind != blockgraph.Absolute {
		t.Fatalf("PE probe reference kind = %v, want Absolute (IAT slot)", ref.Kind)
	}

	slot := g.Block(ref.Target)
	if slot == nil || slot.Len() != 4 {
		t.Fatal("expected the probe reference to address a 4-byte IAT slot")
	}
	stubRef, ok := slot.ReferenceAt(0)
	if !ok {
		t.Fatal("expected the IAT slot to be pre-populated with a bootstrap stub reference")
	}
	if stubRef.Target != g.FindBlockByName("asan_iat_bootstrap_load_store").ID() {
		t.Fatal("read probe's IAT slot must point at the load/store stub")
	}
}

func TestCOFFImportHasNoStubs(t *testing.T) {
	g := blockgraph.NewGraph(blockgraph.COFF)

	table, err := Import(g, "syzyasan_rtl.dll", false)
	if err != nil {
		t.Fatal(err)
	}

	if g.HasSection(ThunksSection) {
		t.Fatal("COFF import must not create a .thunks section")
	}

	info := memaccess.Info{Mode: memaccess.Read, Size: 4, SaveFlags: true}
	ref, ok := table.Lookup(info)
	if !ok {
		t.Fatal("expected a probe table entry")
	}
	if ref.Kind != blockgraph.PCRelative {
		t.Fatalf("COFF probe reference kind = %v, want PCRelative (direct symbol)", ref.Kind)
	}
}

func TestCOFFImportRejectsNameCollision(t *testing.T) {
	g := blockgraph.NewGraph(blockgraph.COFF)

	existing := blockgraph.NewBlock("asan_check_4_byte_read_access", "", blockgraph.Code, nil)
	g.AddBlock(existing)
	if _, err := g.AddSymbol("_asan_check_4_byte_read_access", existing.ID()); err != nil {
		t.Fatal(err)
	}

	if _, err := Import(g, "syzyasan_rtl.dll", false); err == nil {
		t.Fatal("expected a name collision error")
	}
}
