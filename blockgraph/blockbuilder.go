// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import "github.com/blockasan/peasan/buffer"

// BlockBuilder flattens a basic-block subgraph, mutated in place by the
// instrumenter, back into a single Block's linear byte content plus its
// reference set. Basic blocks are laid out in subgraph order; a real
// implementation would additionally place a branch to restore fallthrough
// when a basic block's layout neighbor changed, but this pass never
// reorders basic blocks, so the subgraph's own order is always already
// layout order.
type BlockBuilder struct {
	Name    string
	Section string
	Kind    Kind
}

// Flatten concatenates every instruction in every basic block of sub, in
// order, encoding synthesized instructions and copying decoded ones
// verbatim, and returns the resulting Block with every reference
// (pre-existing or newly inserted) recorded at its final byte offset.
func (bb BlockBuilder) Flatten(sub *BasicBlockSubGraph) *Block {
	out := NewBlock(bb.Name, bb.Section, bb.Kind, nil)

	content := buffer.NewDynamic(nil)

	for _, b := range sub.BasicBlocks {
		for _, ins := range b.Instructions {
			offset := content.Len()

			encoded, refOffset, ref, hasRef := Encode(ins)
			copy(content.Extend(len(encoded)), encoded)

			if hasRef {
				out.AddReference(offset+refOffset, *ref)
				continue
			}

			if ins.RawBytes != nil && ins.DispByteSize > 0 {
				out.AddReference(offset+ins.DispByteOffset, *carriedDispRef(ins))
			}
		}
	}

	out.Content = content.Bytes()
	return out
}

func carriedDispRef(ins *Instruction) *Reference {
	for i := 0; i < ins.NumOperands; i++ {
		if ins.Operands[i].IsMemory() && ins.Operands[i].Disp.HasRef() {
			return ins.Operands[i].Disp.Ref
		}
	}
	panic("blockgraph: instruction marked DispByteSize>0 without a displacement reference")
}
