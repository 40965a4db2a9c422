// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := Params{
		MinRedzoneSize:                  16,
		MaxRedzoneSize:                  256,
		QuarantineSize:                  16 << 20,
		QuarantineBlockSize:             1 << 20,
		InstrumentationRateMilliPercent: 100000,
		MallocFailureProbability:        0,
	}

	got, err := Decode(p.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestDecodeRejectsShortBlob(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a truncated blob")
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	p := Params{}
	buf := p.Encode()
	buf[0] = 0xff
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected an error for an unrecognized version")
	}
}
