// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package dedupe

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// CompressFunc and DecompressFunc mirror the main compressor's narrow
// contract as seen by preproc.CompressFunc/DecompressFunc: the dedupe
// adapter sits between the chunk and whichever of {main compressor,
// preprocessor stack} spec.md SS4.1's stage ordering places next.
type CompressFunc func(src []byte) (dst []byte, ok bool, err error)

// DecompressFunc mirrors CompressFunc for the reverse direction.
type DecompressFunc func(src []byte, originalLen int) ([]byte, error)

// Similarity controls the optional delta-against-closest-match encoding
// enabled by spec.md SS6's -E (on) and -EE (more aggressive scan) flags.
type Similarity struct {
	Enabled  bool
	Deep     bool // -EE: scan every prior block instead of just the hash-bucket head
	MinMatch int  // minimum combined prefix+suffix run to prefer "similar" over "literal"
}

// Options configures one call to Compress/Decompress.
type Options struct {
	Mode       Mode
	AvgSize    uint32
	Similarity Similarity

	// Global, when non-nil, extends matching across every chunk of the
	// run instead of just this chunk's own blocks (spec.md SS6 -G flag).
	// Callers are responsible for serializing access to it in chunk
	// order (pipeline's index_sem chain) before calling Compress or
	// Decompress with a non-nil Global.
	Global *GlobalIndex
}

// Compress implements the Dedupe Adapter of spec.md SS4.3: split data into
// blocks, replace repeated and (optionally) near-duplicate blocks with
// back-references, and lay out [header | index array | residual data].
// mainCompress is the chunk's already-selected main compressor, applied to
// the residual data only; the index is always run through transform's
// mandatory LZMA codec "irrespective of the main algorithm".
func Compress(data []byte, opts Options, mainCompress CompressFunc) ([]byte, error) {
	bounds := boundaries(data, opts.Mode, opts.AvgSize)

	blocks := make([]blockInfo, 0, len(bounds))
	start := uint32(0)
	for _, end := range bounds {
		blocks = append(blocks, blockInfo{off: start, length: end - start, sum: xxhash.Sum64(data[start:end])})
		start = end
	}

	seen := make(map[uint64][]int, len(blocks)) // hash -> indices of identical-content blocks seen so far
	index := make([]uint32, 0, len(blocks))
	var residual []byte

	for i, b := range blocks {
		content := data[b.off : b.off+b.length]

		if prior, ok := firstExactMatch(seen[b.sum], blocks, data, content); ok {
			index = append(index, packEntry(kindDuplicate, uint32(prior)))
			continue
		}

		if opts.Similarity.Enabled {
			if prior, prefix, suffix, ok := bestSimilarMatch(blocks, data, i, content, opts.Similarity); ok {
				middle := content[prefix : len(content)-suffix]
				index = append(index, packEntry(kindSimilar, uint32(prior)))
				residual = appendUint32(residual, uint32(prefix))
				residual = appendUint32(residual, uint32(suffix))
				residual = appendUint32(residual, uint32(len(middle)))
				residual = append(residual, middle...)
				seen[b.sum] = append(seen[b.sum], i)
				continue
			}
		}

		if opts.Global != nil {
			if prior, ok := opts.Global.Lookup(b.sum); ok && string(prior) == string(content) {
				index = append(index, packEntry(kindGlobal, 0))
				residual = appendUint64(residual, b.sum)
				seen[b.sum] = append(seen[b.sum], i)
				continue
			}
		}

		index = append(index, packEntry(kindLiteral, b.length))
		residual = appendUint32(residual, b.length)
		residual = append(residual, content...)
		seen[b.sum] = append(seen[b.sum], i)
		if opts.Global != nil {
			opts.Global.Store(b.sum, content)
		}
	}

	rawIndex := make([]byte, len(index)*4)
	for i, e := range index {
		binary.BigEndian.PutUint32(rawIndex[i*4:i*4+4], e)
	}
	transposed := transpose(rawIndex, 4)
	cmpIndex, indexCompressed := compressIndex(transposed)

	cmpData, ok, err := mainCompress(residual)
	if err != nil {
		return nil, fmt.Errorf("dedupe: compressing residual data: %w", err)
	}
	if !ok || len(cmpData) >= len(residual) {
		cmpData = residual
	}

	h := Header{
		BlockCount:    uint32(len(blocks)),
		IndexSize:     uint32(len(transposed)),
		DataSize:      uint32(len(residual)),
		IndexSizeCmp:  uint32(len(cmpIndex)),
		DataSizeCmp:   uint32(len(cmpData)),
		OrigChunkSize: uint32(len(data)),
	}
	if !indexCompressed {
		h.IndexSizeCmp = h.IndexSize
	}

	out := make([]byte, 0, HeaderSize+len(cmpIndex)+len(cmpData))
	out = append(out, h.encode()...)
	out = append(out, cmpIndex...)
	out = append(out, cmpData...)
	return out, nil
}

// Decompress reverses Compress. global, when non-nil, resolves kindGlobal
// entries and is updated with every literal block's content, mirroring
// Compress's bookkeeping; callers serialize access to it in chunk order.
func Decompress(body []byte, global *GlobalIndex, mainDecompress DecompressFunc) ([]byte, error) {
	h, err := decodeHeader(body)
	if err != nil {
		return nil, err
	}
	rest := body[HeaderSize:]
	if uint32(len(rest)) < h.IndexSizeCmp+h.DataSizeCmp {
		return nil, fmt.Errorf("dedupe: truncated body: have %d, want %d", len(rest), h.IndexSizeCmp+h.DataSizeCmp)
	}
	indexBuf := rest[:h.IndexSizeCmp]
	dataBuf := rest[h.IndexSizeCmp : h.IndexSizeCmp+h.DataSizeCmp]

	transposed, err := decompressIndex(indexBuf, h)
	if err != nil {
		return nil, fmt.Errorf("dedupe: decompressing index: %w", err)
	}
	rawIndex := untranspose(transposed, 4)
	if uint32(len(rawIndex)) != h.BlockCount*4 {
		return nil, fmt.Errorf("dedupe: index size mismatch: %d bytes for %d blocks", len(rawIndex), h.BlockCount)
	}
	index := make([]uint32, h.BlockCount)
	for i := range index {
		index[i] = binary.BigEndian.Uint32(rawIndex[i*4 : i*4+4])
	}

	// A residual the main compressor did not shrink is stored verbatim,
	// which Compress records as DataSizeCmp == DataSize.
	residual := dataBuf
	if h.DataSizeCmp != h.DataSize {
		residual, err = mainDecompress(dataBuf, int(h.DataSize))
		if err != nil {
			return nil, fmt.Errorf("dedupe: decompressing residual data: %w", err)
		}
	}

	out := make([]byte, 0, h.OrigChunkSize)
	blockBytes := make([][]byte, h.BlockCount)
	pos := 0
	for i, e := range index {
		kind, payload := unpackEntry(e)
		switch kind {
		case kindLiteral:
			length, n, err := readUint32(residual, pos)
			if err != nil {
				return nil, err
			}
			pos = n
			if pos+int(length) > len(residual) {
				return nil, fmt.Errorf("dedupe: literal block %d truncated", i)
			}
			content := residual[pos : pos+int(length)]
			pos += int(length)
			blockBytes[i] = content
			out = append(out, content...)
			if global != nil {
				global.Store(xxhash.Sum64(content), content)
			}

		case kindGlobal:
			sum, n, err := readUint64(residual, pos)
			if err != nil {
				return nil, err
			}
			pos = n
			if global == nil {
				return nil, fmt.Errorf("dedupe: block %d references the global index but none was supplied", i)
			}
			content, ok := global.Lookup(sum)
			if !ok {
				return nil, fmt.Errorf("dedupe: block %d references unknown global hash %x", i, sum)
			}
			blockBytes[i] = content
			out = append(out, content...)

		case kindDuplicate:
			if int(payload) >= i || blockBytes[payload] == nil {
				return nil, fmt.Errorf("dedupe: block %d duplicates unresolved block %d", i, payload)
			}
			content := blockBytes[payload]
			blockBytes[i] = content
			out = append(out, content...)

		case kindSimilar:
			if int(payload) >= i || blockBytes[payload] == nil {
				return nil, fmt.Errorf("dedupe: block %d similar-to unresolved block %d", i, payload)
			}
			prefixLen, n, err := readUint32(residual, pos)
			if err != nil {
				return nil, err
			}
			pos = n
			suffixLen, n, err := readUint32(residual, pos)
			if err != nil {
				return nil, err
			}
			pos = n
			middleLen, n, err := readUint32(residual, pos)
			if err != nil {
				return nil, err
			}
			pos = n
			if pos+int(middleLen) > len(residual) {
				return nil, fmt.Errorf("dedupe: similar block %d truncated", i)
			}
			middle := residual[pos : pos+int(middleLen)]
			pos += int(middleLen)

			ref := blockBytes[payload]
			if int(prefixLen)+int(suffixLen) > len(ref) {
				return nil, fmt.Errorf("dedupe: similar block %d prefix/suffix exceed reference length", i)
			}
			content := make([]byte, 0, int(prefixLen)+len(middle)+int(suffixLen))
			content = append(content, ref[:prefixLen]...)
			content = append(content, middle...)
			content = append(content, ref[len(ref)-int(suffixLen):]...)
			blockBytes[i] = content
			out = append(out, content...)

		default:
			return nil, fmt.Errorf("dedupe: unknown index entry kind %d at block %d", kind, i)
		}
	}
	if uint32(len(out)) != h.OrigChunkSize {
		return nil, fmt.Errorf("dedupe: reassembled %d bytes, want %d", len(out), h.OrigChunkSize)
	}
	return out, nil
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func readUint64(buf []byte, pos int) (uint64, int, error) {
	if pos+8 > len(buf) {
		return 0, 0, fmt.Errorf("dedupe: residual data truncated at offset %d", pos)
	}
	return binary.BigEndian.Uint64(buf[pos : pos+8]), pos + 8, nil
}

func readUint32(buf []byte, pos int) (uint32, int, error) {
	if pos+4 > len(buf) {
		return 0, 0, fmt.Errorf("dedupe: residual data truncated at offset %d", pos)
	}
	return binary.BigEndian.Uint32(buf[pos : pos+4]), pos + 4, nil
}

// blockInfo records one candidate dedupe block's extent within data and
// its content hash, used to locate exact and near-duplicate matches.
type blockInfo struct {
	off, length uint32
	sum         uint64
}

// firstExactMatch reports a prior block with identical content to
// content, if any of the hash-bucket candidates truly match (xxhash
// collisions are checked against, never trusted blind).
func firstExactMatch(candidates []int, blocks []blockInfo, data, content []byte) (int, bool) {
	for _, idx := range candidates {
		b := blocks[idx]
		if b.length == uint32(len(content)) && string(data[b.off:b.off+b.length]) == string(content) {
			return idx, true
		}
	}
	return 0, false
}

// bestSimilarMatch scans prior blocks (every one under -EE, otherwise a
// cheaper size-bucketed subset) for the block sharing the longest common
// prefix+suffix with content, following the "delta against the closest
// prior match" scheme spec.md SS6's -E/-EE flags describe.
func bestSimilarMatch(blocks []blockInfo, data []byte, upto int, content []byte, sim Similarity) (idx, prefix, suffix int, ok bool) {
	bestTotal := sim.MinMatch - 1
	scanned := 0
	for i := 0; i < upto; i++ {
		b := blocks[i]
		ref := data[b.off : b.off+b.length]
		if !sim.Deep {
			// Cheap mode: only compare against blocks of a comparable size,
			// bounding the scan cost for large archives.
			if b.length == 0 || content == nil {
				continue
			}
			ratio := float64(len(ref)) / float64(len(content))
			if ratio < 0.5 || ratio > 2.0 {
				continue
			}
		}
		scanned++
		p := commonPrefixLen(ref, content)
		s := commonSuffixLen(ref[p:], content[p:])
		total := p + s
		if total > bestTotal {
			bestTotal, idx, prefix, suffix, ok = total, i, p, s, true
		}
		if !sim.Deep && scanned >= 64 {
			break
		}
	}
	return
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
