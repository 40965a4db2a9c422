// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Program peasan runs the instrumentation pass over a block-graph dump and
// writes the instrumented graph back out. It has no real PE/COFF parser or
// x86 decoder of its own — both are external collaborators per this pass's
// contract — so it reads and writes a plain JSON block-graph fixture rather
// than a real image. The fixture holds only each block's name, section,
// kind and content (no instructions, references, imports or symbols), and
// no decomposer is configured, so basic-block decomposition and therefore
// per-block instrumentation never run.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/xerrors"

	"github.com/blockasan/peasan"
	"github.com/blockasan/peasan/blockgraph"
	"github.com/blockasan/peasan/config"
	"github.com/blockasan/peasan/dump"
)

// blockFixture is the on-disk shape of one block in the JSON fixture this
// command reads and writes. Content is hex-encoded so the fixture stays
// diffable in a text editor.
type blockFixture struct {
	Name       string `json:"name"`
	Section    string `json:"section"`
	Kind       string `json:"kind"` // "code" or "data"
	ContentHex string `json:"content_hex"`
}

type graphFixture struct {
	Format string         `json:"format"` // "pe" or "coff"
	Blocks []blockFixture `json:"blocks"`
}

func loadGraph(filename string) (*blockgraph.Graph, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fx graphFixture
	if err := json.NewDecoder(f).Decode(&fx); err != nil {
		return nil, err
	}

	format := blockgraph.PE
	if fx.Format == "coff" {
		format = blockgraph.COFF
	}

	g := blockgraph.NewGraph(format)
	for _, bf := range fx.Blocks {
		kind := blockgraph.Code
		if bf.Kind == "data" {
			kind = blockgraph.Data
		}
		content, err := hexDecode(bf.ContentHex)
		if err != nil {
			return nil, xerrors.Errorf("block %q: %w", bf.Name, err)
		}
		g.AddBlock(blockgraph.NewBlock(bf.Name, bf.Section, kind, content))
	}
	return g, nil
}

func saveGraph(filename string, g *blockgraph.Graph) error {
	fx := graphFixture{Format: "pe"}
	if g.Format == blockgraph.COFF {
		fx.Format = "coff"
	}
	for _, b := range g.Blocks {
		kind := "code"
		if b.Kind == blockgraph.Data {
			kind = "data"
		}
		fx.Blocks = append(fx.Blocks, blockFixture{
			Name:       b.Name,
			Section:    b.Section,
			Kind:       kind,
			ContentHex: hexEncode(b.Content),
		})
	}

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(fx)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

func main() {
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] graph.json\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	var (
		debugFriendly   = false
		useLiveness     = true
		removeRedundant = true
		useInterceptors = false
		rate            = 1.0
		hotPatching     = false
		dllName         = ""
		output          = ""
		dumpText        = false
		minRedzone      = uint(16)
		maxRedzone      = uint(256)
		quarantineSize  = uint(16 << 20)
	)

	flag.BoolVar(&debugFriendly, "debugfriendly", debugFriendly, "propagate source offsets to inserted instructions")
	flag.BoolVar(&useLiveness, "liveness", useLiveness, "enable flag-liveness analysis")
	flag.BoolVar(&removeRedundant, "removeredundant", removeRedundant, "elide redundant checks within a basic block")
	flag.BoolVar(&useInterceptors, "interceptors", useInterceptors, "include optional interceptors")
	flag.Float64Var(&rate, "rate", rate, "instrumentation rate, 0.0 to 1.0")
	flag.BoolVar(&hotPatching, "hotpatching", hotPatching, "dry-run and prepare blocks for runtime attachment")
	flag.StringVar(&dllName, "dll", dllName, "override the default RTL DLL name")
	flag.StringVar(&output, "o", output, "output graph file (defaults to overwriting the input)")
	flag.BoolVar(&dumpText, "dumptext", dumpText, "disassemble every code block's final bytes to stdout")
	flag.UintVar(&minRedzone, "minredzone", minRedzone, "minimum heap redzone size in bytes")
	flag.UintVar(&maxRedzone, "maxredzone", maxRedzone, "maximum heap redzone size in bytes")
	flag.UintVar(&quarantineSize, "quarantine", quarantineSize, "quarantine size in bytes")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	filename := flag.Arg(0)
	if output == "" {
		output = filename
	}

	g, err := loadGraph(filename)
	if err != nil {
		log.Fatal(err)
	}

	opts := peasan.Options{
		DebugFriendly:   debugFriendly,
		UseLiveness:     useLiveness,
		RemoveRedundant: removeRedundant,
		UseInterceptors: useInterceptors,
		Rate:            rate,
		HotPatching:     hotPatching,
		RTLModule:       dllName,
		Params: &config.Params{
			MinRedzoneSize:                  uint32(minRedzone),
			MaxRedzoneSize:                  uint32(maxRedzone),
			QuarantineSize:                  uint32(quarantineSize),
			InstrumentationRateMilliPercent: uint32(rate * 100000),
		},
	}

	result, err := peasan.Apply(g, opts)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("instrumented %d block(s), %d static intercept(s) found", result.BlocksInstrumented, len(result.StaticIntercepts))

	if dumpText {
		for _, b := range g.Blocks {
			if b.Kind != blockgraph.Code || len(b.Content) == 0 {
				continue
			}
			fmt.Printf("%s:\n", b.Name)
			if err := dump.Fprint(os.Stdout, b.Content, nil); err != nil {
				log.Printf("%s: %v", b.Name, err)
			}
		}
	}

	if err := saveGraph(output, g); err != nil {
		log.Fatal(err)
	}
}
