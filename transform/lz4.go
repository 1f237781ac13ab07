// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transform

import (
	"bytes"
	"io"
	"sync/atomic"

	"github.com/pierrec/lz4/v4"
)

// lz4Plugin wraps github.com/pierrec/lz4/v4, the classic Go LZ4
// implementation retrieved in _examples/other_examples (vendored by
// ethereum-go-ethereum).
type lz4Plugin struct {
	bytesIn, bytesOut uint64
}

func newLz4Plugin() *lz4Plugin { return &lz4Plugin{} }

func (p *lz4Plugin) Init(level, nthreads int, chunksize uint64, op Op) error { return nil }
func (p *lz4Plugin) Deinit()                                                {}

func (p *lz4Plugin) Props(level int, chunksize uint64) Props {
	return Props{BufExtra: 32, NThreads: 1, Delta2Span: 0}
}

func (p *lz4Plugin) Compress(src []byte, level int) ([]byte, bool, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	opts := []lz4.Option{lz4.CompressionLevelOption(clampLZ4Level(level))}
	if err := w.Apply(opts...); err != nil {
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

func (p *lz4Plugin) Decompress(src []byte, originalLen int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out := bytes.NewBuffer(make([]byte, 0, originalLen))
	if _, err := io.Copy(out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (p *lz4Plugin) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&p.bytesIn), atomic.LoadUint64(&p.bytesOut)
}

// clampLZ4Level maps the archive's 0..14 level range onto lz4's
// Fast..Level9 scale: levels up to 2 select lz4.Fast, 3..9 select
// lz4.Level3..lz4.Level9 (lz4's high-compression mode), and higher levels
// clamp to lz4.Level9.
func clampLZ4Level(level int) lz4.CompressionLevel {
	if level <= 2 {
		return lz4.Fast
	}
	if level > 9 {
		level = 9
	}
	return [...]lz4.CompressionLevel{lz4.Level3, lz4.Level4, lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9}[level-3]
}
