// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package dedupe implements the "narrow contract" Rabin/fixed dedupe
// internals spec.md SS1 treats as an external collaborator, and the
// Dedupe Adapter of spec.md SS4.3 that wraps them: index array + residual
// data layout, matrix transpose, and LZMA index compression
// "irrespective of the main algorithm".
package dedupe

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sehe/pcompress/transform"
)

// Mode selects how candidate blocks are delimited within a chunk, per
// spec.md SS6 (-D/-F/-G flags).
type Mode int

const (
	ModeRabin Mode = iota
	ModeFixed
)

// HeaderSize is the fixed size, in bytes, of the dedupe header that
// precedes the index array and residual data (spec.md SS4.3 layout:
// "[dedupe header (fixed size) | index array | residual data]").
const HeaderSize = 24

// Header is the fixed-size prefix of a deduplicated chunk body.
type Header struct {
	BlockCount    uint32
	IndexSize     uint32 // bytes, uncompressed
	DataSize      uint32 // bytes, uncompressed residual data
	IndexSizeCmp  uint32 // bytes, after LZMA (or verbatim copy)
	DataSizeCmp   uint32 // bytes, after the main compressor
	OrigChunkSize uint32
}

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.BlockCount)
	binary.BigEndian.PutUint32(buf[4:8], h.IndexSize)
	binary.BigEndian.PutUint32(buf[8:12], h.DataSize)
	binary.BigEndian.PutUint32(buf[12:16], h.IndexSizeCmp)
	binary.BigEndian.PutUint32(buf[16:20], h.DataSizeCmp)
	binary.BigEndian.PutUint32(buf[20:24], h.OrigChunkSize)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("dedupe: header too short: %d bytes", len(buf))
	}
	return Header{
		BlockCount:    binary.BigEndian.Uint32(buf[0:4]),
		IndexSize:     binary.BigEndian.Uint32(buf[4:8]),
		DataSize:      binary.BigEndian.Uint32(buf[8:12]),
		IndexSizeCmp:  binary.BigEndian.Uint32(buf[12:16]),
		DataSizeCmp:   binary.BigEndian.Uint32(buf[16:20]),
		OrigChunkSize: binary.BigEndian.Uint32(buf[20:24]),
	}, nil
}

// entryKind occupies the top 2 bits of each 4-byte index entry.
type entryKind uint32

const (
	kindLiteral entryKind = iota
	kindDuplicate
	kindSimilar
	kindGlobal
)

const (
	kindShift  = 30
	kindMask   = uint32(0x3) << kindShift
	payloadMax = uint32(1)<<kindShift - 1
)

func packEntry(kind entryKind, payload uint32) uint32 {
	return (uint32(kind) << kindShift) | (payload & payloadMax)
}

func unpackEntry(e uint32) (entryKind, uint32) {
	return entryKind(e >> kindShift), e & payloadMax
}

// indexVerbatimThreshold: the index must be at least this many bytes
// before LZMA is even attempted (spec.md SS4.3: "if the index is <90 bytes ... it is stored
// verbatim").
const indexVerbatimThreshold = 90

// compressIndex implements spec.md SS4.3's Open Question (a): leave the
// index verbatim whenever LZMA fails *or* does not shrink it.
func compressIndex(index []byte) (data []byte, compressed bool) {
	if len(index) < indexVerbatimThreshold {
		return index, false
	}
	out, err := transform.CompressIndex(index)
	if err != nil || len(out) >= len(index) {
		return index, false
	}
	return out, true
}

// GlobalIndex is the process-local, cross-chunk block cache spec.md SS4.3
// and SS4.5-4.7 describe for -G global dedupe: candidate blocks are
// checked against every block seen so far across the whole archive, not
// just the current chunk's own blocks. A single GlobalIndex is shared by
// pointer across every worker in a run; its ordered access is serialized
// by pipeline's index_sem chain, never by a lock here, exactly mirroring
// spec.md's "strict ordered access to a shared index" wording, so no
// mutex appears in this type.
//
// cache, when set (NewGlobalIndexWithCache, used when
// pipeline.Options.DedupeCacheAddr is non-empty), extends the same Lookup/Store pair across process and archive
// boundaries via Redis: a miss in the in-memory map falls through to the
// cache before being treated as a true miss, and every Store writes
// through to it.
type GlobalIndex struct {
	seen  map[uint64][]byte
	cache *IndexCache
	ctx   context.Context
}

// NewGlobalIndex returns an empty index ready for one compress or
// decompress run.
func NewGlobalIndex() *GlobalIndex {
	return &GlobalIndex{seen: make(map[uint64][]byte)}
}

// NewGlobalIndexWithCache returns an index backed by cache in addition to
// its own process-local map, for runs with a cache address. ctx bounds every
// Redis round trip Lookup/Store makes.
func NewGlobalIndexWithCache(cache *IndexCache, ctx context.Context) *GlobalIndex {
	return &GlobalIndex{seen: make(map[uint64][]byte), cache: cache, ctx: ctx}
}

// Lookup returns the content previously stored under sum, if any, checking
// the in-memory map first and falling through to the cache (if any) on a
// local miss.
func (g *GlobalIndex) Lookup(sum uint64) ([]byte, bool) {
	if b, ok := g.seen[sum]; ok {
		return b, true
	}
	if g.cache == nil {
		return nil, false
	}
	b, ok, err := g.cache.Lookup(g.ctx, sum)
	if err != nil || !ok {
		return nil, false
	}
	g.seen[sum] = b
	return b, true
}

// Store remembers content under sum for later chunks' Lookup calls,
// writing through to the cache (if any) the first time sum is seen.
func (g *GlobalIndex) Store(sum uint64, content []byte) {
	if _, ok := g.seen[sum]; ok {
		return
	}
	stored := append([]byte(nil), content...)
	g.seen[sum] = stored
	if g.cache != nil {
		// Best-effort: a cache-write failure degrades -G back to
		// per-chunk-only scope for this block, it does not corrupt the
		// archive, so it is not propagated as an error here.
		_ = g.cache.Store(g.ctx, sum, stored)
	}
}

func decompressIndex(buf []byte, h Header) ([]byte, error) {
	if h.IndexSizeCmp == h.IndexSize {
		return buf[:h.IndexSize], nil
	}
	return transform.DecompressIndex(buf[:h.IndexSizeCmp], int(h.IndexSize))
}

// transpose performs the spec.md SS4.3 "matrix transpose of 4-byte index
// entries (row->column)" used to cluster high-order bytes together ahead
// of entropy coding: byte j of row i moves to position j*rows+i.
// Decompress inverts it with untranspose.
func transpose(src []byte, entrySize int) []byte {
	if len(src)%entrySize != 0 {
		return append([]byte(nil), src...)
	}
	rows := len(src) / entrySize
	out := make([]byte, len(src))
	for row := 0; row < rows; row++ {
		for col := 0; col < entrySize; col++ {
			out[col*rows+row] = src[row*entrySize+col]
		}
	}
	return out
}

func untranspose(src []byte, entrySize int) []byte {
	if len(src)%entrySize != 0 {
		return append([]byte(nil), src...)
	}
	rows := len(src) / entrySize
	out := make([]byte, len(src))
	for row := 0; row < rows; row++ {
		for col := 0; col < entrySize; col++ {
			out[row*entrySize+col] = src[col*rows+row]
		}
	}
	return out
}
