// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package preproc

import "encoding/binary"

// lzpCompress implements LZ-Prediction: a hash of the preceding
// order-4 context predicts the next match position; runs that agree with
// the prediction are replaced by a (flag-bit, run-length) pair instead of
// their literal bytes. This reduces long repeated prefixes ahead of the
// main compressor (spec.md glossary: "LZP").
//
// Output format: the first lzpCtxOrder bytes are copied verbatim; after
// that every step emits a tag byte followed by one payload byte. Tag 0
// means the payload is a literal byte; tag 1 means the payload is a match
// length (lzpMinMatch..255) of bytes copied from the predicted position.
const (
	lzpMinMatch  = 8
	lzpCtxOrder  = 4
	lzpMaxHash   = 16 // bits
)

func lzpHash(ctx uint32) uint32 {
	h := ctx * 2654435761
	return h >> (32 - lzpMaxHash)
}

// lzpCompress returns a new buffer; the caller compares its length to the
// input's to decide whether LZP helped (spec.md SS4.2).
func lzpCompress(src []byte, historyBits int) []byte {
	if len(src) < lzpCtxOrder+lzpMinMatch {
		return src
	}
	tableSize := 1 << lzpMaxHash
	table := make([]int32, tableSize)
	for i := range table {
		table[i] = -1
	}

	out := make([]byte, 0, len(src))
	i := lzpCtxOrder
	out = append(out, src[:lzpCtxOrder]...)
	for i < len(src) {
		ctx := binary.BigEndian.Uint32(src[i-lzpCtxOrder : i])
		h := lzpHash(ctx)
		predicted := table[h]
		table[h] = int32(i)

		matched := 0
		if predicted >= 0 {
			p := int(predicted)
			for i+matched < len(src) && p+matched < i && src[p+matched] == src[i+matched] {
				matched++
				if matched == 255 {
					break
				}
			}
		}
		if predicted >= 0 && matched >= lzpMinMatch {
			out = append(out, 1, byte(matched))
			i += matched
			continue
		}
		out = append(out, 0, src[i])
		i++
	}
	return out
}

// lzpDecompress reverses lzpCompress using the same rolling context hash,
// rebuilt from the growing output rather than the (unavailable) original
// input.
func lzpDecompress(src []byte) ([]byte, error) {
	if len(src) < lzpCtxOrder {
		return append([]byte(nil), src...), nil
	}
	tableSize := 1 << lzpMaxHash
	table := make([]int32, tableSize)
	for i := range table {
		table[i] = -1
	}

	out := make([]byte, 0, len(src)*2)
	out = append(out, src[:lzpCtxOrder]...)
	pos := lzpCtxOrder
	for pos < len(src) {
		if pos+1 > len(src) {
			return nil, errLZPTruncated
		}
		tag := src[pos]
		pos++
		ctx := binary.BigEndian.Uint32(out[len(out)-lzpCtxOrder:])
		h := lzpHash(ctx)
		predicted := table[h]
		table[h] = int32(len(out))

		if tag == 0 {
			if pos >= len(src) {
				return nil, errLZPTruncated
			}
			out = append(out, src[pos])
			pos++
			continue
		}
		if pos >= len(src) {
			return nil, errLZPTruncated
		}
		n := int(src[pos])
		pos++
		if predicted < 0 {
			return nil, errLZPBadMatch
		}
		p := int(predicted)
		for k := 0; k < n; k++ {
			out = append(out, out[p+k])
		}
	}
	return out, nil
}

type lzpError string

func (e lzpError) Error() string { return string(e) }

const (
	errLZPTruncated = lzpError("preproc: LZP stream truncated")
	errLZPBadMatch  = lzpError("preproc: LZP match with no predicted position")
)
