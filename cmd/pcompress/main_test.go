// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/sehe/pcompress/transform"
)

func TestParseSize(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"1024", 1024, false},
		{"4k", 4 << 10, false},
		{"4K", 4 << 10, false},
		{"5m", 5 << 20, false},
		{"2g", 2 << 30, false},
		{"bogus", 0, true},
		{"4x", 0, true},
	}
	for _, c := range cases {
		got, err := parseSize(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseSize(%q): want error, got nil", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSize(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestOutputName(t *testing.T) {
	cases := []struct {
		positional []string
		inName     string
		decompress bool
		want       string
	}{
		{[]string{"a"}, "a", false, "a.pz"},
		{[]string{"a.pz"}, "a.pz", true, "a"},
		{[]string{"a"}, "a", true, "a.out"},
		{[]string{"a", "b"}, "a", false, "b"},
	}
	for _, c := range cases {
		got := outputName(c.positional, c.inName, c.decompress)
		if got != c.want {
			t.Errorf("outputName(%v, %q, %v) = %q, want %q", c.positional, c.inName, c.decompress, got, c.want)
		}
	}
}

func TestCountFlag(t *testing.T) {
	c := newCountFlag()
	if c.n != 0 {
		t.Fatalf("newCountFlag() = %d, want 0", c.n)
	}
	if !c.IsBoolFlag() {
		t.Fatal("IsBoolFlag() = false, want true (repeatable -E/-EE)")
	}
	if err := c.Set(""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if c.n != 2 {
		t.Fatalf("after two Set calls, n = %d, want 2", c.n)
	}
	if c.String() != "2" {
		t.Fatalf("String() = %q, want %q", c.String(), "2")
	}
}

func TestBuildOptionsRequiresModeFlag(t *testing.T) {
	_, _, err := buildOptions("", false, "", 6, 2, 1, false, false, false, false,
		newCountFlag(), false, false, false, "crc32", "", "", 32, false, false, []string{"in"})
	if err == nil {
		t.Fatal("buildOptions with neither -c nor -d: want error, got nil")
	}
}

func TestBuildOptionsRejectsBothModeFlags(t *testing.T) {
	_, _, err := buildOptions("zlib", true, "", 6, 2, 1, false, false, false, false,
		newCountFlag(), false, false, false, "crc32", "", "", 32, false, false, []string{"in"})
	if err == nil {
		t.Fatal("buildOptions with both -c and -d: want error, got nil")
	}
}

func TestBuildOptionsRejectsFixedAndRabinTogether(t *testing.T) {
	// pipeMode=false, rabinDedupe=true, globalDedupe=false, fixedDedupe=true
	_, _, err := buildOptions("zlib", false, "", 6, 2, 1, false, true, false, true,
		newCountFlag(), false, false, false, "crc32", "", "", 32, false, false, []string{"in"})
	if err == nil {
		t.Fatal("buildOptions with -F and -D both set: want error, got nil")
	}
}

func TestBuildOptionsRejectsGlobalDedupeInPipeMode(t *testing.T) {
	_, _, err := buildOptions("zlib", false, "", 6, 2, 1, true, false, true, false,
		newCountFlag(), false, false, false, "crc32", "", "", 32, false, false, nil)
	if err == nil {
		t.Fatal("buildOptions with -G and -p together: want error, got nil")
	}
}

func TestBuildOptionsMissingInputFilename(t *testing.T) {
	_, _, err := buildOptions("zlib", false, "", 6, 2, 1, false, false, false, false,
		newCountFlag(), false, false, false, "crc32", "", "", 32, false, false, nil)
	if err == nil {
		t.Fatal("buildOptions with no positional args and no -p: want error, got nil")
	}
}

func TestBuildOptionsSuccess(t *testing.T) {
	opts, pos, err := buildOptions("zlib", false, "4m", 9, 3, 4, false, true, false, false,
		newCountFlag(), false, true, true, "sha256", "", "", 32, true, true, []string{"in", "out"})
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	if opts.Algorithm != transform.Zlib {
		t.Errorf("Algorithm = %q, want zlib", opts.Algorithm)
	}
	if opts.ChunkSize != 4<<20 {
		t.Errorf("ChunkSize = %d, want %d", opts.ChunkSize, 4<<20)
	}
	if len(pos) != 2 {
		t.Errorf("positional args = %v, want 2 entries", pos)
	}
	if !opts.LZP || !opts.Delta2 {
		t.Errorf("LZP/Delta2 not threaded through: %+v", opts)
	}
	if !opts.ShowAllocatorStats || !opts.ShowCompressionStats {
		t.Errorf("stats flags not threaded through: %+v", opts)
	}
}

func TestBuildOptionsDedupeMode(t *testing.T) {
	opts, _, err := buildOptions("zlib", false, "", 6, 2, 1, false, true, false, false,
		newCountFlag(), false, false, false, "crc32", "", "", 32, false, false, []string{"in"})
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	if opts.Dedupe == 0 {
		t.Error("rabinDedupe=true did not select a non-zero DedupeMode")
	}
}

func TestBuildOptionsSimilarityThreshold(t *testing.T) {
	sim := newCountFlag()
	sim.Set("")
	sim.Set("") // -EE: deep scan
	opts, _, err := buildOptions("zlib", false, "", 6, 2, 1, false, false, false, false,
		sim, false, false, false, "crc32", "", "", 32, false, false, []string{"in"})
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	if !opts.Similarity.Enabled || !opts.Similarity.Deep {
		t.Errorf("Similarity = %+v, want Enabled=true Deep=true after -EE", opts.Similarity)
	}
}

func TestBuildOptionsRejectsBadChecksum(t *testing.T) {
	_, _, err := buildOptions("zlib", false, "", 6, 2, 1, false, false, false, false,
		newCountFlag(), false, false, false, "md5", "", "", 32, false, false, []string{"in"})
	if err == nil {
		t.Fatal("buildOptions with -S md5: want error, got nil")
	}
}

func TestBuildOptionsRejectsBadSize(t *testing.T) {
	_, _, err := buildOptions("zlib", false, "not-a-size", 6, 2, 1, false, false, false, false,
		newCountFlag(), false, false, false, "crc32", "", "", 32, false, false, []string{"in"})
	if err == nil {
		t.Fatal("buildOptions with -s not-a-size: want error, got nil")
	}
}
