// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errors

import (
	"testing"

	"golang.org/x/xerrors"
)

func TestIsMatchesByKindRegardlessOfText(t *testing.T) {
	err := New(ImportFailure, "boom")

	if !xerrors.Is(err, New(ImportFailure, "a different message")) {
		t.Error("expected Is to match by Kind regardless of text")
	}
	if xerrors.Is(err, New(ThunkBuildFailure, "boom")) {
		t.Error("expected Is to reject a different Kind")
	}
}

func TestAsUnwrapsToTheWrappingError(t *testing.T) {
	cause := New(UnknownProbe, "missing probe")
	wrapped := Wrap(TransformFailure, cause, "basic block instrumentation panicked")

	var target *Error
	if !xerrors.As(wrapped, &target) {
		t.Fatal("expected As to find the wrapping *Error")
	}
	if target.Kind() != TransformFailure {
		t.Errorf("Kind() = %v, want %v", target.Kind(), TransformFailure)
	}
}

func TestIsWalksUnwrapToTheCause(t *testing.T) {
	cause := New(UnknownProbe, "missing probe")
	wrapped := Wrap(TransformFailure, cause, "basic block instrumentation panicked")

	if !xerrors.Is(wrapped, cause) {
		t.Error("expected Is to walk Unwrap() to the original cause")
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	cause := New(UnknownProbe, "missing probe")
	wrapped := Wrap(TransformFailure, cause, "panicked")

	const want = "panicked: missing probe"
	if got := wrapped.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
