// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// +build !debug

package tracelog

// Printf is a no-op in non-debug builds.
func Printf(format string, args ...interface{}) {}
