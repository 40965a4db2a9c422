// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config encodes the runtime parameters the instrumented image
// carries for its RTL to read at process start: redzone sizes, quarantine
// budget, and the sampling knobs the instrumenter itself consumed while
// building the image. The RTL locates this blob by section name rather than
// by any reference from the image header.
package config

import (
	"encoding/binary"

	"github.com/blockasan/peasan/buffer"
	"github.com/blockasan/peasan/errors"
)

// SectionName is the PE section the parameter blob is written to. The RTL
// looks for a section with this exact name at process start; nothing in
// the image references it by address.
const SectionName = ".asan_rtl"

// version is bumped whenever the wire layout changes. A mismatch is a hard
// decode failure rather than a best-effort read, because a stale RTL reading
// a newer layout would silently misinterpret fields.
const version = uint32(1)

// Params is the fixed-size record written into SectionName. Every field is
// a plain uint32 so Encode/Decode never has to reason about padding or
// endianness beyond the blob-wide little-endian convention.
type Params struct {
	// MinRedzoneSize and MaxRedzoneSize bound the guard region the RTL
	// places around each heap allocation.
	MinRedzoneSize uint32
	MaxRedzoneSize uint32

	// QuarantineSize is the maximum number of bytes the RTL keeps in its
	// freed-but-not-yet-reused quarantine before reclaiming the oldest
	// entries.
	QuarantineSize uint32

	// QuarantineBlockSize caps how large a single freed allocation may be
	// before it is excluded from quarantine and reclaimed immediately.
	QuarantineBlockSize uint32

	// InstrumentationRateMilliPercent echoes back the sampling rate the
	// instrumenter was configured with, scaled by 1000 so it survives the
	// uint32 round trip exactly (e.g. 100.000% is 100000).
	InstrumentationRateMilliPercent uint32

	// MallocFailureProbability is the RTL's chance, out of 1,000,000, of
	// deliberately failing an allocation to shake out unchecked-malloc
	// bugs in the instrumented binary.
	MallocFailureProbability uint32
}

const encodedLen = 4 + 6*4 // version + six uint32 fields

// Encode serializes p into the little-endian blob the RTL expects, prefixed
// with the layout version.
func (p Params) Encode() []byte {
	buf := buffer.NewStatic(make([]byte, 0, encodedLen))
	buf.PutUint32(version)
	buf.PutUint32(p.MinRedzoneSize)
	buf.PutUint32(p.MaxRedzoneSize)
	buf.PutUint32(p.QuarantineSize)
	buf.PutUint32(p.QuarantineBlockSize)
	buf.PutUint32(p.InstrumentationRateMilliPercent)
	buf.PutUint32(p.MallocFailureProbability)
	return buf.Bytes()
}

// Decode parses a blob previously produced by Encode. It returns a
// TransformFailure error if the blob is short or carries an unrecognized
// version.
func Decode(buf []byte) (Params, error) {
	if len(buf) < encodedLen {
		return Params{}, errors.Newf(errors.TransformFailure,
			"asan_rtl section is %d bytes, want at least %d", len(buf), encodedLen)
	}
	if v := binary.LittleEndian.Uint32(buf[0:4]); v != version {
		return Params{}, errors.Newf(errors.TransformFailure,
			"asan_rtl section has version %d, this build understands %d", v, version)
	}
	return Params{
		MinRedzoneSize:                  binary.LittleEndian.Uint32(buf[4:8]),
		MaxRedzoneSize:                  binary.LittleEndian.Uint32(buf[8:12]),
		QuarantineSize:                  binary.LittleEndian.Uint32(buf[12:16]),
		QuarantineBlockSize:             binary.LittleEndian.Uint32(buf[16:20]),
		InstrumentationRateMilliPercent: binary.LittleEndian.Uint32(buf[20:24]),
		MallocFailureProbability:        binary.LittleEndian.Uint32(buf[24:28]),
	}, nil
}
