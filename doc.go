// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package peasan instruments compiled x86-32 PE and COFF images with
// AddressSanitizer-style shadow-memory checks ahead of every guarded
// memory access.
//
// Errors
//
// Errors returned by this package and its subpackages carry a Kind,
// accessible via the errors subpackage's IsKind. AlreadyInstrumented is
// returned by Apply if the image already carries a .thunks section;
// ImportFailure, ThunkBuildFailure and COFFNameCollision cover failures
// building the probe and interceptor scaffolding; TransformFailure is the
// catch-all for anything else, including panics recovered while decoding
// or rewriting a block.
//
package peasan
