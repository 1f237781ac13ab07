// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package preproc implements the preprocessor stack of spec.md SS4.2: LZP
// then Delta-II, composed ahead of the main compressor, each a narrow,
// from-scratch invertible transform per spec.md SS1 ("each is a module
// with a narrow contract").
package preproc

import (
	"encoding/binary"
	"fmt"
)

// Flag bits of the PreprocEnvelope byte (spec.md SS3 PreprocEnvelope).
const (
	FlagDelta2    byte = 1 << 0
	FlagLZP       byte = 1 << 1
	FlagCompressed byte = 1 << 7

	knownFlags = FlagDelta2 | FlagLZP | FlagCompressed
)

// CompressFunc is the main compressor's narrow contract as seen from the
// preprocessor stack: compress src, report whether the result is smaller.
type CompressFunc func(src []byte) (dst []byte, ok bool, err error)

// DecompressFunc mirrors CompressFunc for the reverse direction.
type DecompressFunc func(src []byte, originalLen int) ([]byte, error)

// Options selects which preprocessor stages are enabled and their tuning
// parameters, sourced from transform.Props for the active main algorithm.
type Options struct {
	LZP            bool
	Delta2         bool
	Delta2Span     int // spec.md SS4.2: "enabled and props.delta2_span > 0"
	MaxHistoryBits int // passed to LZP, which ignores it: its hash table is fixed at 2^16 entries
}

// Compress builds a PreprocEnvelope: 1-byte flag, 8-byte post-preprocess
// length, then the body (spec.md SS4.2). Ordering is fixed: LZP first (if
// enabled), then Delta-II (if enabled and opts.Delta2Span > 0), then the
// main compressor.
//
// If LZP's result is not smaller than its input it is skipped unless
// Delta-II is still to run (spec.md: "If LZP returns a result >= input
// size, it is skipped unless Delta-II is still to run"). If the main
// compressor fails or does not shrink its input, the body is copied
// verbatim and the envelope's COMPRESSED bit is left clear, but earlier
// successful stages still set their bits so Decompress can reverse them.
func Compress(src []byte, opts Options, mainCompress CompressFunc) ([]byte, error) {
	var flag byte
	body := src

	if opts.LZP {
		// lzpCompress hands inputs too short to encode back unchanged;
		// those are never kept, since Decompress would parse them as LZP.
		delta2Next := opts.Delta2 && opts.Delta2Span > 0
		lzpOut := lzpCompress(body, opts.MaxHistoryBits)
		if len(lzpOut) < len(body) || (delta2Next && len(body) >= lzpCtxOrder+lzpMinMatch) {
			flag |= FlagLZP
			body = lzpOut
		}
	}

	if opts.Delta2 && opts.Delta2Span > 0 {
		d2Out, ok := delta2Encode(body, opts.Delta2Span)
		if ok {
			flag |= FlagDelta2
			body = d2Out
		}
	}

	postPreprocLen := len(body)

	cmpBody, ok, err := mainCompress(body)
	if err != nil {
		return nil, err
	}
	if ok {
		flag |= FlagCompressed
		body = cmpBody
	}

	out := make([]byte, 9+len(body))
	out[0] = flag
	binary.BigEndian.PutUint64(out[1:9], uint64(postPreprocLen))
	copy(out[9:], body)
	return out, nil
}

// Decompress reverses Compress: run the main decompressor if COMPRESSED is
// set, then reverse Delta-II if its bit is set, then reverse LZP if its
// bit is set.
func Decompress(envelope []byte, mainDecompress DecompressFunc) ([]byte, error) {
	if len(envelope) < 9 {
		return nil, fmt.Errorf("preproc: envelope too short: %d bytes", len(envelope))
	}
	flag := envelope[0]
	if flag&^knownFlags != 0 {
		return nil, fmt.Errorf("preproc: envelope flag 0x%02x has unknown bits set", flag)
	}
	postPreprocLen := int(binary.BigEndian.Uint64(envelope[1:9]))
	body := envelope[9:]

	var err error
	if flag&FlagCompressed != 0 {
		body, err = mainDecompress(body, postPreprocLen)
		if err != nil {
			return nil, err
		}
	}
	if flag&FlagDelta2 != 0 {
		body, err = delta2Decode(body)
		if err != nil {
			return nil, err
		}
	}
	if flag&FlagLZP != 0 {
		body, err = lzpDecompress(body)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}
