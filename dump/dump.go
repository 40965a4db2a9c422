// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dump renders a block's instrumented byte stream as readable x86-32
// assembly, for diagnostics and golden-output tests. It never feeds back
// into the pass itself.
package dump

import (
	"fmt"
	"io"

	"github.com/bnagy/gapstone"
)

// Fprint disassembles content (the bytes of one code block, after
// instrumentation) and writes one line per instruction to w. names maps a
// byte offset within content to a label to print before the instruction at
// that offset, e.g. a probe's entry point or a basic block's start.
func Fprint(w io.Writer, content []byte, names map[uint]string) error {
	engine, err := gapstone.New(gapstone.CS_ARCH_X86, gapstone.CS_MODE_32)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.SetOption(gapstone.CS_OPT_SYNTAX, gapstone.CS_OPT_SYNTAX_INTEL); err != nil {
		return err
	}

	insns, err := engine.Disasm(content, 0, 0)
	if err != nil {
		return err
	}

	for _, insn := range insns {
		if name, found := names[insn.Address]; found {
			fmt.Fprintf(w, "%s:\n", name)
		}
		fmt.Fprintf(w, "  %4x:\t%s\t%s\n", insn.Address, insn.Mnemonic, insn.OpStr)
	}
	return nil
}
