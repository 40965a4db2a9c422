// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// +build debug

package tracelog

import (
	"fmt"
	"os"
)

// Printf writes an indented trace line to stderr. Only compiled in when the
// debug build tag is set.
func Printf(format string, args ...interface{}) {
	for i := 0; i < Depth; i++ {
		fmt.Fprint(os.Stderr, "  ")
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
