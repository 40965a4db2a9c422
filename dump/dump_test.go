// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dump

import (
	"bytes"
	"strings"
	"testing"
)

func TestFprintLabelsAndDisassembles(t *testing.T) {
	// push edx; nop; ret
	content := []byte{0x52, 0x90, 0xc3}

	var buf bytes.Buffer
	if err := Fprint(&buf, content, map[uint]string{0: "entry"}); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "entry:") {
		t.Fatal("expected the label at offset 0 to be printed")
	}
	if !strings.Contains(out, "push") || !strings.Contains(out, "ret") {
		t.Fatalf("expected push and ret mnemonics in output, got:\n%s", out)
	}
}
