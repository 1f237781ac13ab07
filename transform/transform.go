// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package transform implements the transform-plugin contract of spec.md
// SS6: a uniform (Init, Deinit, Props, Compress, Decompress, Stats)
// interface that the pipeline treats as opaque, plus a registry of
// concrete backends keyed by the 8-byte, NUL-padded algorithm identifiers
// spec.md SS6 names.
package transform

import (
	"errors"
	"fmt"
)

// ErrUnsupportedDirection is returned by a plugin that only implements one
// of Compress/Decompress (e.g. bzip2, which this repository only decodes).
var ErrUnsupportedDirection = errors.New("transform: unsupported direction for this algorithm")

// ErrUnsupportedAlgorithm is returned for algorithm identifiers that the
// on-disk format recognizes but that have no Go implementation available
// anywhere in the retrieval pack (ppmd, lzfx, libbsc, adapt2). See
// DESIGN.md for the per-algorithm accounting.
var ErrUnsupportedAlgorithm = errors.New("transform: algorithm recognized but not implemented")

// Op identifies the direction a plugin is initialized for.
type Op int

const (
	OpCompress Op = iota
	OpDecompress
)

// Props describes a plugin's requirements back to the preprocessor stack
// and the pipeline (spec.md SS6 props()).
type Props struct {
	// BufExtra is additional scratch space, in bytes, the plugin needs
	// beyond srclen when compressing (some codecs expand pathological
	// input slightly).
	BufExtra int
	// NThreads is the number of threads the plugin may itself spawn
	// internally (spec.md SS5: "each worker may internally spawn further
	// threads; the pipeline treats those as opaque").
	NThreads int
	// Delta2Span is the stride, in bytes, the Delta-II preprocessor
	// should use for this plugin/level combination; zero disables
	// Delta-II even if requested (spec.md SS4.2).
	Delta2Span int
	// DeltaCMinDistance is the minimum distance, in bytes, considered
	// for similarity-delta dedupe matches.
	DeltaCMinDistance int
}

// Plugin is the transform-plugin contract of spec.md SS6. The pipeline
// never inspects a plugin's internals; every compressor backend
// (zlib/lzma/lz4/bzip2/none/adapt) implements this the same way.
type Plugin interface {
	// Init prepares the plugin for nthreads-wide concurrent use at the
	// given level and chunksize; op indicates which direction(s) will be
	// used.
	Init(level, nthreads int, chunksize uint64, op Op) error
	// Deinit releases any resources Init acquired.
	Deinit()
	// Props returns the plugin's buffer/threading/preprocessing
	// requirements for the given level and chunksize.
	Props(level int, chunksize uint64) Props
	// Compress compresses src into a newly allocated buffer. It reports
	// ok=false (not an error) when the result would not be smaller than
	// src, per spec.md SS4.2/SS7.6 ("compressor reports dstlen >= srclen:
	// not fatal, body stored uncompressed").
	Compress(src []byte, level int) (dst []byte, ok bool, err error)
	// Decompress expands src, which is known to have originalLen bytes
	// once expanded.
	Decompress(src []byte, originalLen int) ([]byte, error)
	// Stats reports cumulative bytes in/out the plugin has processed, for
	// the -C flag.
	Stats() (bytesIn, bytesOut uint64)
}

// Name is one of the 8-byte, NUL-padded algorithm identifiers of spec.md
// SS6.
type Name string

const (
	Zlib   Name = "zlib"
	Lzma   Name = "lzma"
	LzmaMt Name = "lzmaMt"
	Bzip2  Name = "bzip2"
	Ppmd   Name = "ppmd"
	Lz4    Name = "lz4"
	Lzfx   Name = "lzfx"
	None   Name = "none"
	Adapt  Name = "adapt"
	Adapt2 Name = "adapt2"
	Libbsc Name = "libbsc"
)

// Encode renders a Name as the fixed 8-byte, NUL-padded on-disk field.
func Encode(n Name) [8]byte {
	var out [8]byte
	copy(out[:], n)
	return out
}

// Decode parses an 8-byte, NUL-padded on-disk algorithm field.
func Decode(b [8]byte) Name {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return Name(b[:i])
}

// New returns a fresh Plugin instance for name, or ErrUnsupportedAlgorithm
// if name is a recognized identifier with no implementation in this
// repository.
func New(name Name) (Plugin, error) {
	switch name {
	case Zlib:
		return newZlibPlugin(), nil
	case Lzma, LzmaMt:
		return newLzmaPlugin(), nil
	case Lz4:
		return newLz4Plugin(), nil
	case Bzip2:
		return newBzip2Plugin(), nil
	case None:
		return newNonePlugin(), nil
	case Adapt:
		return newAdaptPlugin(), nil
	case Ppmd, Lzfx, Libbsc, Adapt2:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
	default:
		return nil, fmt.Errorf("transform: unknown algorithm identifier %q", name)
	}
}

// Valid reports whether name is one of the fixed algorithm identifiers
// spec.md SS6 lists, regardless of whether this build implements it.
func Valid(name Name) bool {
	switch name {
	case Zlib, Lzma, LzmaMt, Bzip2, Ppmd, Lz4, Lzfx, None, Adapt, Adapt2, Libbsc:
		return true
	default:
		return false
	}
}
