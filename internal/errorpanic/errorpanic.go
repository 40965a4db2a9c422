// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errorpanic turns a recovered panic value into an error the pass
// driver can return, while letting genuine runtime errors (nil dereference,
// index out of range, ...) keep propagating as panics: those indicate a bug
// in this pass, not a malformed input image.
package errorpanic

import (
	"fmt"
	"runtime"

	"golang.org/x/xerrors"

	"github.com/blockasan/peasan/errors"
)

// Handle converts a recovered panic value x into an error. If x is nil, it
// returns nil. A runtime.Error re-panics unchanged: those are internal-bug
// signals this pass cannot usefully turn into a per-block failure. Anything
// else — including the plain-string panics classify and blockgraph's
// encoder raise on a malformed operand — becomes a TransformFailure, unless
// it already carries a more specific *errors.Error, in which case that
// Kind is preserved instead of being flattened.
func Handle(x interface{}) (err error) {
	if x == nil {
		return nil
	}

	if rerr, ok := x.(runtime.Error); ok {
		panic(rerr)
	}

	cause, ok := x.(error)
	if !ok {
		cause = fmt.Errorf("%v", x)
	}

	var existing *errors.Error
	if xerrors.As(cause, &existing) {
		return existing
	}

	return errors.Wrap(errors.TransformFailure, cause, "basic block instrumentation panicked")
}
