// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracelog is a Printf-style tracing hook. Printf is a no-op unless
// the binary is built with the debug tag, in which case debug.go's build
// constraint swaps in the version that actually writes to stderr, at zero
// runtime cost to non-debug builds.
package tracelog

// Depth nests indentation for calls made from within other traced calls.
// Callers increment it around a traced region and decrement it on return.
var Depth int
