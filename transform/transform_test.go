// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transform_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sehe/pcompress/transform"
)

func TestNameEncodeDecodeRoundTrip(t *testing.T) {
	for _, name := range []transform.Name{transform.Zlib, transform.Lzma, transform.Lz4, transform.None, transform.Adapt} {
		encoded := transform.Encode(name)
		if got := transform.Decode(encoded); got != name {
			t.Errorf("Decode(Encode(%q)) = %q, want %q", name, got, name)
		}
	}
}

func TestDecodeStopsAtFirstNUL(t *testing.T) {
	var raw [8]byte
	copy(raw[:], "zlib")
	if got := transform.Decode(raw); got != transform.Zlib {
		t.Errorf("Decode(%v) = %q, want zlib", raw, got)
	}
}

func TestValid(t *testing.T) {
	for _, name := range []transform.Name{transform.Zlib, transform.Lzma, transform.LzmaMt, transform.Bzip2, transform.Ppmd, transform.Lz4, transform.Lzfx, transform.None, transform.Adapt, transform.Adapt2, transform.Libbsc} {
		if !transform.Valid(name) {
			t.Errorf("Valid(%q) = false, want true", name)
		}
	}
	if transform.Valid(transform.Name("bogus")) {
		t.Error("Valid(bogus) = true, want false")
	}
}

func TestNewUnimplementedAlgorithms(t *testing.T) {
	for _, name := range []transform.Name{transform.Ppmd, transform.Lzfx, transform.Libbsc, transform.Adapt2} {
		_, err := transform.New(name)
		if !errors.Is(err, transform.ErrUnsupportedAlgorithm) {
			t.Errorf("New(%q) error = %v, want ErrUnsupportedAlgorithm", name, err)
		}
	}
}

func TestNewUnknownAlgorithm(t *testing.T) {
	if _, err := transform.New(transform.Name("nope")); err == nil {
		t.Fatal("New(unknown): want error, got nil")
	}
}

func pluginRoundTrip(t *testing.T, name transform.Name, src []byte) {
	t.Helper()
	p, err := transform.New(name)
	if err != nil {
		t.Fatalf("New(%v): %v", name, err)
	}
	if err := p.Init(6, 1, uint64(len(src)), transform.OpCompress); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Deinit()

	dst, ok, err := p.Compress(src, 6)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !ok {
		t.Fatalf("Compress(%v) reported ok=false for compressible input", name)
	}

	got, err := p.Decompress(dst, len(src))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("%v round trip mismatch: got %d bytes, want %d", name, len(got), len(src))
	}

	in, out := p.Stats()
	if in == 0 || out == 0 {
		t.Errorf("%v Stats() = (%d, %d), want nonzero", name, in, out)
	}
}

func TestZlibRoundTrip(t *testing.T) {
	pluginRoundTrip(t, transform.Zlib, bytes.Repeat([]byte("compressible test payload "), 200))
}

func TestLz4RoundTrip(t *testing.T) {
	pluginRoundTrip(t, transform.Lz4, bytes.Repeat([]byte("compressible test payload "), 200))
}

func TestLzmaRoundTrip(t *testing.T) {
	pluginRoundTrip(t, transform.Lzma, bytes.Repeat([]byte("compressible test payload "), 200))
}

func TestNonePluginAlwaysStoresRaw(t *testing.T) {
	p, err := transform.New(transform.None)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := []byte("anything at all")
	dst, ok, err := p.Compress(src, 6)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if ok {
		t.Fatal("none plugin reported ok=true, want false (always stores raw)")
	}
	if dst != nil {
		t.Fatalf("none plugin Compress dst = %v, want nil", dst)
	}
	got, err := p.Decompress(src, len(src))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatal("none plugin Decompress did not return an exact copy")
	}
}

func TestIncompressibleInputReportsNotOK(t *testing.T) {
	// Already-compressed-looking random-ish data with nothing to exploit;
	// a real codec may still legitimately report ok=false here.
	src := make([]byte, 256)
	for i := range src {
		src[i] = byte(i*167 + 13)
	}
	p, err := transform.New(transform.Zlib)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, ok, err := p.Compress(src, 6)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if ok {
		t.Skip("zlib happened to shrink this synthetic input; not a useful negative case")
	}
}

func TestBzip2DecodeOnly(t *testing.T) {
	p, err := transform.New(transform.Bzip2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Init(6, 1, 1<<20, transform.OpCompress); !errors.Is(err, transform.ErrUnsupportedDirection) {
		t.Fatalf("Init(OpCompress) = %v, want ErrUnsupportedDirection", err)
	}
	if err := p.Init(6, 1, 1<<20, transform.OpDecompress); err != nil {
		t.Fatalf("Init(OpDecompress): %v", err)
	}
	if _, _, err := p.Compress([]byte("x"), 6); !errors.Is(err, transform.ErrUnsupportedDirection) {
		t.Fatalf("Compress() = %v, want ErrUnsupportedDirection", err)
	}
}

func TestAdaptPicksSmallerCodec(t *testing.T) {
	p, err := transform.New(transform.Adapt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := bytes.Repeat([]byte("adaptive mode picks the smaller of zlib and lz4 "), 300)
	dst, ok, err := p.Compress(src, 6)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !ok {
		t.Fatal("adapt plugin reported ok=false for compressible input")
	}

	got, err := p.Decompress(dst, len(src))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatal("adapt round trip mismatch")
	}
}

func TestCompressIndexRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte{0, 1, 2, 3}, 4096)
	cmp, err := transform.CompressIndex(src)
	if err != nil {
		t.Fatalf("CompressIndex: %v", err)
	}
	if len(cmp) >= len(src) {
		t.Fatalf("CompressIndex did not shrink a highly compressible index: %d >= %d", len(cmp), len(src))
	}
	got, err := transform.DecompressIndex(cmp, len(src))
	if err != nil {
		t.Fatalf("DecompressIndex: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatal("CompressIndex/DecompressIndex round trip mismatch")
	}
}
