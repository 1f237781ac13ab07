// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package slab implements the out-of-scope "slab allocator" collaborator
// named in spec.md SS1, as a size-classed sync.Pool buffer pool. The
// pipeline draws only the workers' encryption/decryption scratch buffers
// from a Pool; chunk input buffers are allocated by the scheduler.
//
// Grounded directly on
// _examples/kenchrcum-s3-encryption-gateway/internal/crypto/buffer_pool.go's
// BufferPool: fixed size classes plus hit/miss counters, readable through
// Pool.Stats. The pipeline does not feed these counters into the -M
// report.
package slab

import (
	"sync"
	"sync/atomic"
)

// classSize is the set of buffer size classes the pool maintains,
// re-tuned from the gateway's 4B/12B/32B/64KB classes (nonce/key/chunk
// shaped) to this archiver's chunk-shaped buffers: a small class for
// frame headers and the chunksize-plus-slack class workers actually
// compress into.
type classSize int

// Pool is a thread-safe, size-classed buffer pool.
type Pool struct {
	mu      sync.Mutex
	classes []classSize
	pools   map[classSize]*sync.Pool

	hits, misses uint64
}

// New returns a Pool whose largest size class comfortably holds one
// chunk plus the compressed-length slack the spec allows (chunksize+256,
// spec.md SS4.1 "A length exceeding chunksize + 256 is fatal").
func New(chunksize uint64) *Pool {
	large := classSize(chunksize + 256)
	classes := []classSize{64, 4096, large}
	p := &Pool{classes: classes, pools: make(map[classSize]*sync.Pool, len(classes))}
	for _, c := range classes {
		c := c
		p.pools[c] = &sync.Pool{
			New: func() interface{} { return make([]byte, c) },
		}
	}
	return p
}

func (p *Pool) classFor(size int) classSize {
	for _, c := range p.classes {
		if int(c) >= size {
			return c
		}
	}
	return classSize(size)
}

// Get returns a buffer of at least size bytes, sliced to exactly size.
func (p *Pool) Get(size int) []byte {
	class := p.classFor(size)
	p.mu.Lock()
	pool, ok := p.pools[class]
	if !ok {
		pool = &sync.Pool{New: func() interface{} { return make([]byte, class) }}
		p.pools[class] = pool
		p.classes = append(p.classes, class)
	}
	p.mu.Unlock()

	buf := pool.Get().([]byte)
	if cap(buf) < size {
		atomic.AddUint64(&p.misses, 1)
		return make([]byte, size)
	}
	atomic.AddUint64(&p.hits, 1)
	return buf[:size]
}

// Put returns buf to the pool for reuse, zeroing it first: the chunk
// buffers it holds may contain cryptographic key material (spec.md SS5
// "the key material is wiped from the plaintext buffer") or plaintext
// from a prior chunk, so recycling without zeroing would leak it to the
// next chunk that happens to receive the same buffer.
func (p *Pool) Put(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	class := p.classFor(cap(buf))
	p.mu.Lock()
	pool, ok := p.pools[class]
	p.mu.Unlock()
	if !ok {
		return
	}
	pool.Put(buf[:cap(buf)])
}

// Stats reports cumulative hit/miss counts for the -M flag.
func (p *Pool) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&p.hits), atomic.LoadUint64(&p.misses)
}
