// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transform

import "sync/atomic"

// nonePlugin is the explicit "store uncompressed" identifier (spec.md
// SS4.2/SS7.6). It needs no library: Compress returns no output and
// always reports ok=false, so the caller clears the COMPRESSED flag and
// stores the body as-is.
type nonePlugin struct {
	bytesIn, bytesOut uint64
}

func newNonePlugin() *nonePlugin { return &nonePlugin{} }

func (p *nonePlugin) Init(level, nthreads int, chunksize uint64, op Op) error { return nil }
func (p *nonePlugin) Deinit()                                                {}
func (p *nonePlugin) Props(level int, chunksize uint64) Props                { return Props{} }

func (p *nonePlugin) Compress(src []byte, level int) ([]byte, bool, error) {
	atomic.AddUint64(&p.bytesIn, uint64(len(src)))
	atomic.AddUint64(&p.bytesOut, uint64(len(src)))
	return nil, false, nil
}

func (p *nonePlugin) Decompress(src []byte, originalLen int) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (p *nonePlugin) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&p.bytesIn), atomic.LoadUint64(&p.bytesOut)
}
