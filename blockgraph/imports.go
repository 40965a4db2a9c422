// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import "fmt"

// Import is one PE IMAGE_IMPORT_DESCRIPTOR's worth of state: the module
// it's imported from, its bind timestamp, and the symbols pulled from it,
// each backed by its own 4-byte IAT slot data block.
type Import struct {
	Module    string
	Timestamp uint32
	Symbols   []*Symbol
}

// AddImport registers module as an import, stamped with the given
// timestamp, and returns it (creating it if this is the first reference).
// A timestamp of 1 is the wire-format trick that makes the loader treat
// the IAT as already bound to a stale binding.
func (g *Graph) AddImport(module string, timestamp uint32) *Import {
	if imp, ok := g.Imports[module]; ok {
		return imp
	}
	imp := &Import{Module: module, Timestamp: timestamp}
	g.Imports[module] = imp
	return imp
}

// AddImportSymbol adds name to imp, creating its IAT slot as a 4-byte data
// block in the ".idata" section, and registers it under name for lookup
// via Graph.Symbol. Returns an error if name is already imported from a
// different module.
func (g *Graph) AddImportSymbol(imp *Import, name string) (*Symbol, error) {
	if existing, ok := g.Symbols[name]; ok {
		if existing.Imported && existing.Module == imp.Module {
			return existing, nil
		}
		return nil, fmt.Errorf("blockgraph: symbol %q already defined", name)
	}

	slot := NewBlock(name+"@IAT", ".idata", Data, make([]byte, 4))
	g.AddBlock(slot)

	sym := &Symbol{Name: name, Block: slot.id, Imported: true, Module: imp.Module}
	g.Symbols[name] = sym
	imp.Symbols = append(imp.Symbols, sym)
	return sym, nil
}

// Symbol looks up a registered symbol by name.
func (g *Graph) Symbol(name string) (*Symbol, bool) {
	s, ok := g.Symbols[name]
	return s, ok
}

// AddSymbol registers a direct (non-imported) symbol for an existing
// block, as COFF object files do for locally defined functions.
func (g *Graph) AddSymbol(name string, block BlockID) (*Symbol, error) {
	if _, ok := g.Symbols[name]; ok {
		return nil, fmt.Errorf("blockgraph: symbol %q already defined", name)
	}
	sym := &Symbol{Name: name, Block: block}
	g.Symbols[name] = sym
	return sym, nil
}

// IATReference returns a Reference that addresses sym's IAT slot
// absolutely, suitable for an indirect CALL/JMP or for overwriting the
// slot's own content with a bootstrap stub's address.
func (g *Graph) IATReference(sym *Symbol) Reference {
	return Reference{Kind: Absolute, Size: 4, Target: sym.Block}
}

// DirectReference returns a Reference that addresses sym's block itself,
// PC-relatively, for a COFF direct call/jump.
func (g *Graph) DirectReference(sym *Symbol) Reference {
	return Reference{Kind: PCRelative, Size: 4, Target: sym.Block}
}

// SetIATSlot overwrites the 4-byte content of sym's IAT slot with an
// absolute reference to target. Used to install bootstrap stubs before
// the loader rebinds imports.
func (g *Graph) SetIATSlot(sym *Symbol, target BlockID) error {
	slot := g.Block(sym.Block)
	if slot == nil || slot.Len() != 4 {
		return fmt.Errorf("blockgraph: symbol %q has no 4-byte IAT slot", sym.Name)
	}
	slot.AddReference(0, Reference{Kind: Absolute, Size: 4, Target: target})
	return nil
}

// RenameSymbol renames an existing symbol, failing if the destination name
// is already taken. COFF intercept redirection uses this to replace both
// direct and __imp_-decorated names with their Asan-prefixed equivalents.
func (g *Graph) RenameSymbol(oldName, newName string) error {
	sym, ok := g.Symbols[oldName]
	if !ok {
		return fmt.Errorf("blockgraph: no symbol named %q", oldName)
	}
	if _, taken := g.Symbols[newName]; taken {
		return fmt.Errorf("blockgraph: symbol %q already defined", newName)
	}
	delete(g.Symbols, oldName)
	sym.Name = newName
	g.Symbols[newName] = sym
	return nil
}
