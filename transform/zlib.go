// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transform

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zlib"
)

// zlibPlugin wraps github.com/klauspost/compress/zlib behind an
// encoder pool keyed by level, following the pooling idiom used in
// _examples/falk-nsz-go/pkg/zstd/zstd.go for the sibling zstd codec in the
// same module.
type zlibPlugin struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool

	bytesIn, bytesOut uint64
}

func newZlibPlugin() *zlibPlugin {
	return &zlibPlugin{pools: make(map[int]*sync.Pool)}
}

func (p *zlibPlugin) Init(level, nthreads int, chunksize uint64, op Op) error { return nil }
func (p *zlibPlugin) Deinit()                                                {}

func (p *zlibPlugin) Props(level int, chunksize uint64) Props {
	return Props{BufExtra: 64, NThreads: 1, Delta2Span: 4, DeltaCMinDistance: 16}
}

func (p *zlibPlugin) pool(level int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, ok := p.pools[level]
	if ok {
		return pool
	}
	pool = &sync.Pool{
		New: func() interface{} {
			w, _ := zlib.NewWriterLevel(io.Discard, level)
			return w
		},
	}
	p.pools[level] = pool
	return pool
}

func (p *zlibPlugin) Compress(src []byte, level int) ([]byte, bool, error) {
	if level > zlib.BestCompression {
		level = zlib.BestCompression // archive levels run to MaxLevel; zlib's stop at 9
	}
	pool := p.pool(level)
	w := pool.Get().(*zlib.Writer)
	defer pool.Put(w)

	var buf bytes.Buffer
	w.Reset(&buf)
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

func (p *zlibPlugin) Decompress(src []byte, originalLen int) ([]byte, error) {
	rc, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	out := make([]byte, 0, originalLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *zlibPlugin) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&p.bytesIn), atomic.LoadUint64(&p.bytesOut)
}
