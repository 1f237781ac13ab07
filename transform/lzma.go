// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transform

import (
	"bytes"
	"io"
	"sync/atomic"

	"github.com/ulikunitz/xz/lzma"
)

// lzmaPlugin wraps github.com/ulikunitz/xz/lzma, retrieved in
// _examples/other_examples (the ulikunitz-xz entries). Backs both the
// "lzma" and "lzmaMt" algorithm identifiers (see DESIGN.md for why
// lzmaMt doesn't get a distinct backend) and is also the fixed codec the
// dedupe adapter uses for its index regardless of the main algorithm
// (spec.md SS4.3).
type lzmaPlugin struct {
	bytesIn, bytesOut uint64
}

func newLzmaPlugin() *lzmaPlugin { return &lzmaPlugin{} }

func (p *lzmaPlugin) Init(level, nthreads int, chunksize uint64, op Op) error { return nil }
func (p *lzmaPlugin) Deinit()                                                {}

func (p *lzmaPlugin) Props(level int, chunksize uint64) Props {
	return Props{BufExtra: 128, NThreads: 1, Delta2Span: 4, DeltaCMinDistance: 32}
}

func (p *lzmaPlugin) Compress(src []byte, level int) ([]byte, bool, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{Properties: propsForLevel(level)}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, false, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, false, err
	}
	if err := w.Close(); err != nil {
		return nil, false, err
	}
	atomic.AddUint64(&p.bytesIn, uint64(len(src)))
	atomic.AddUint64(&p.bytesOut, uint64(buf.Len()))
	if buf.Len() >= len(src) {
		return nil, false, nil
	}
	return buf.Bytes(), true, nil
}

func (p *lzmaPlugin) Decompress(src []byte, originalLen int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	out := bytes.NewBuffer(make([]byte, 0, originalLen))
	if _, err := io.Copy(out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (p *lzmaPlugin) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&p.bytesIn), atomic.LoadUint64(&p.bytesOut)
}

// CompressIndex and DecompressIndex are the narrow entry points the dedupe
// adapter uses: per spec.md SS4.3 the dedupe index is always LZMA encoded,
// "irrespective of the main algorithm".
func CompressIndex(src []byte) ([]byte, error) {
	p := newLzmaPlugin()
	dst, ok, err := p.Compress(src, 6)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errIndexNotSmaller
	}
	return dst, nil
}

func DecompressIndex(src []byte, originalLen int) ([]byte, error) {
	return newLzmaPlugin().Decompress(src, originalLen)
}

var errIndexNotSmaller = errIndexNotSmallerType{}

type errIndexNotSmallerType struct{}

func (errIndexNotSmallerType) Error() string { return "transform: compressed index not smaller" }

func propsForLevel(level int) lzma.Properties {
	lc, lp, pb := uint32(3), uint32(0), uint32(2)
	if level >= 9 {
		pb = 0
	}
	return lzma.Properties{LC: lc, LP: lp, PB: pb}
}
