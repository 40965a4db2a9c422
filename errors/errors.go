// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors defines the error taxonomy returned by the pass: a fixed
// set of Kind values, each wrapping an optional cause so callers can use
// golang.org/x/xerrors.Is/As to test for a specific failure without string
// matching.
package errors

import (
	"fmt"
)

// Kind classifies a pass error. See spec §7 for the authoritative list.
type Kind int

const (
	// AlreadyInstrumented means the image already carries a .thunks
	// section; the pass refuses to re-enter an already-instrumented image.
	AlreadyInstrumented Kind = iota

	// UnknownProbe means a block-level probe lookup failed for a computed
	// MemoryAccessInfo. Indicates a bug in probe-table enumeration.
	UnknownProbe

	// ImportFailure means the block-graph "add imports" transform failed.
	ImportFailure

	// ThunkBuildFailure means the block builder rejected a synthesized
	// stub or thunk.
	ThunkBuildFailure

	// COFFNameCollision means the COFF object already defines an
	// Asan-prefixed symbol the pass was about to create.
	COFFNameCollision

	// TransformFailure means a delegated external transform failed.
	TransformFailure
)

func (k Kind) String() string {
	switch k {
	case AlreadyInstrumented:
		return "already instrumented"
	case UnknownProbe:
		return "unknown probe"
	case ImportFailure:
		return "import failure"
	case ThunkBuildFailure:
		return "thunk build failure"
	case COFFNameCollision:
		return "COFF name collision"
	case TransformFailure:
		return "transform failure"
	default:
		return fmt.Sprintf("error kind %d", int(k))
	}
}

// Error is the concrete error type returned by this module. It carries a
// Kind so callers can classify the failure and an optional cause for
// unwrapping.
type Error struct {
	kind  Kind
	text  string
	cause error
}

// New returns an *Error of the given kind with no cause.
func New(kind Kind, text string) error {
	return &Error{kind, text, nil}
}

// Newf is like New but formats text the way fmt.Sprintf does.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{kind, fmt.Sprintf(format, args...), nil}
}

// Wrap returns an *Error of the given kind whose cause is err.
func Wrap(kind Kind, cause error, text string) error {
	return &Error{kind, text, cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.text + ": " + e.cause.Error()
	}
	return e.text
}

// Kind reports which taxonomy bucket this error belongs to.
func (e *Error) Kind() Kind { return e.kind }

// Unwrap supports golang.org/x/xerrors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error of the same Kind, so that
// xerrors.Is(err, errors.New(errors.AlreadyInstrumented, "")) works without
// matching text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.kind == kind
}
