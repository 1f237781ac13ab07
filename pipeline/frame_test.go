// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/sehe/pcompress/pipeline"
)

func TestFrameRoundTrip(t *testing.T) {
	body := []byte("some chunk body bytes")
	digest := []byte{1, 2, 3, 4}
	var macCalls int
	computeMac := func(frame []byte) ([]byte, error) {
		macCalls++
		return []byte{0xAA, 0xBB, 0xCC, 0xDD}, nil
	}

	encoded, err := pipeline.EncodeFrame(uint64(len(body)), digest, 4, pipeline.ChunkFlagCompressed, body, nil, computeMac)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if macCalls != 1 {
		t.Fatalf("computeMac called %d times, want 1", macCalls)
	}

	cf, err := pipeline.DecodeFrame(bytes.NewReader(encoded), 1<<20, len(digest), 4)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if cf.LenCmp != uint64(len(body)) {
		t.Errorf("LenCmp = %d, want %d", cf.LenCmp, len(body))
	}
	if !bytes.Equal(cf.Digest, digest) {
		t.Errorf("Digest = %x, want %x", cf.Digest, digest)
	}
	if !bytes.Equal(cf.Mac, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Errorf("Mac = %x, want AABBCCDD", cf.Mac)
	}
	if cf.Flag != pipeline.ChunkFlagCompressed {
		t.Errorf("Flag = %v, want %v", cf.Flag, pipeline.ChunkFlagCompressed)
	}
	if !bytes.Equal(cf.Body, body) {
		t.Errorf("Body = %q, want %q", cf.Body, body)
	}
	if cf.OriginalSize != nil {
		t.Errorf("OriginalSize = %v, want nil", cf.OriginalSize)
	}

	// Recomputing the mac over VerifyBytes (mac region zeroed) must
	// reproduce the same tag EncodeFrame stored, per spec.md SS9's
	// "verify and compute use identical byte ranges".
	recomputed, err := computeMac(cf.VerifyBytes)
	if err != nil {
		t.Fatalf("recompute mac: %v", err)
	}
	if !bytes.Equal(recomputed, cf.Mac) {
		t.Errorf("recomputed mac %x != stored mac %x", recomputed, cf.Mac)
	}
}

func TestFrameRoundTripWithOriginalSize(t *testing.T) {
	body := []byte("partial chunk body")
	origSize := uint64(65536)
	computeMac := func(frame []byte) ([]byte, error) { return make([]byte, 4), nil }

	flag := pipeline.ChunkFlagCompressed | pipeline.ChunkFlagCHSize
	encoded, err := pipeline.EncodeFrame(uint64(len(body)), nil, 4, flag, body, &origSize, computeMac)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	cf, err := pipeline.DecodeFrame(bytes.NewReader(encoded), 1<<20, 0, 4)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if cf.OriginalSize == nil || *cf.OriginalSize != origSize {
		t.Fatalf("OriginalSize = %v, want %d", cf.OriginalSize, origSize)
	}
	if !bytes.Equal(cf.Body, body) {
		t.Errorf("Body = %q, want %q", cf.Body, body)
	}
}

func TestDecodeFrameTrailer(t *testing.T) {
	trailer := pipeline.EncodeTrailer()
	if len(trailer) != 8 {
		t.Fatalf("EncodeTrailer length = %d, want 8", len(trailer))
	}
	_, err := pipeline.DecodeFrame(bytes.NewReader(trailer), 1<<20, 4, 4)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("DecodeFrame(trailer) error = %v, want io.EOF", err)
	}
}

func TestDecodeFrameRejectsOversizedLength(t *testing.T) {
	computeMac := func(frame []byte) ([]byte, error) { return make([]byte, 4), nil }
	body := make([]byte, 512)
	encoded, err := pipeline.EncodeFrame(uint64(len(body)), nil, 4, 0, body, nil, computeMac)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	_, err = pipeline.DecodeFrame(bytes.NewReader(encoded), 128, 0, 4)
	if !errors.Is(err, pipeline.ErrChunkTooLarge) {
		t.Fatalf("DecodeFrame error = %v, want ErrChunkTooLarge", err)
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	computeMac := func(frame []byte) ([]byte, error) { return make([]byte, 4), nil }
	body := []byte("truncate me")
	encoded, err := pipeline.EncodeFrame(uint64(len(body)), nil, 4, 0, body, nil, computeMac)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	_, err = pipeline.DecodeFrame(bytes.NewReader(encoded[:len(encoded)-3]), 1<<20, 0, 4)
	if err == nil {
		t.Fatal("DecodeFrame on truncated frame: want error, got nil")
	}
}

func TestEncodeFrameRejectsWrongMacWidth(t *testing.T) {
	computeMac := func(frame []byte) ([]byte, error) { return []byte{1, 2, 3}, nil } // 3 bytes, want 4
	_, err := pipeline.EncodeFrame(4, nil, 4, 0, []byte("body"), nil, computeMac)
	if err == nil {
		t.Fatal("EncodeFrame with mismatched mac width: want error, got nil")
	}
}

func TestChunkFlagSubAlgo(t *testing.T) {
	for sub := 0; sub < 8; sub++ {
		f := pipeline.ChunkFlag(0).WithSubAlgo(sub)
		if got := f.SubAlgo(); got != sub {
			t.Errorf("WithSubAlgo(%d).SubAlgo() = %d, want %d", sub, got, sub)
		}
		// Other bits must survive untouched.
		f2 := (pipeline.ChunkFlagCompressed | pipeline.ChunkFlagDedup).WithSubAlgo(sub)
		if f2&pipeline.ChunkFlagCompressed == 0 || f2&pipeline.ChunkFlagDedup == 0 {
			t.Errorf("WithSubAlgo(%d) clobbered unrelated flag bits: %08b", sub, f2)
		}
	}
}
