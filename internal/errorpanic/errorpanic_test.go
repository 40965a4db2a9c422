// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errorpanic

import (
	"testing"

	"github.com/blockasan/peasan/errors"
)

func TestHandleReturnsNilForNoPanic(t *testing.T) {
	if err := Handle(nil); err != nil {
		t.Fatalf("Handle(nil) = %v, want nil", err)
	}
}

func TestHandleConvertsAStringPanicToTransformFailure(t *testing.T) {
	// classify.Classify and blockgraph.Encode both panic with plain
	// strings rather than errors on malformed operands.
	err := Handle("classify: complex memory operand with index and no base requires a non-zero displacement")
	if err == nil {
		t.Fatal("expected a non-nil error")
	}
	if !errors.IsKind(err, errors.TransformFailure) {
		t.Fatalf("Kind = %v, want TransformFailure", err)
	}
}

func TestHandlePreservesAnExistingErrorKind(t *testing.T) {
	cause := errors.New(errors.UnknownProbe, "no probe for access")
	err := Handle(cause)
	if !errors.IsKind(err, errors.UnknownProbe) {
		t.Fatalf("Kind = %v, want UnknownProbe to be preserved rather than flattened", err)
	}
}

func TestHandleRepanicsARuntimeError(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Handle to re-panic a runtime.Error")
		}
	}()

	func() {
		defer func() { Handle(recover()) }()
		var s []int
		_ = s[0] // triggers a runtime.Error (index out of range)
	}()
}
