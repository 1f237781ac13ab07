// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package slab_test

import (
	"testing"

	"github.com/sehe/pcompress/slab"
)

func TestGetReturnsExactLength(t *testing.T) {
	p := slab.New(1 << 20)
	for _, size := range []int{1, 64, 100, 4096, 5000, 1 << 20} {
		buf := p.Get(size)
		if len(buf) != size {
			t.Errorf("Get(%d) returned %d bytes", size, len(buf))
		}
	}
}

func TestPutZeroesBeforeReuse(t *testing.T) {
	p := slab.New(1 << 20)
	buf := p.Get(64)
	for i := range buf {
		buf[i] = 0xFF
	}
	p.Put(buf)

	reused := p.Get(64)
	for i, b := range reused {
		if b != 0 {
			t.Fatalf("reused buffer not zeroed at offset %d: %x", i, b)
		}
	}
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	p := slab.New(1 << 20)
	hits0, misses0 := p.Stats()
	if hits0 != 0 || misses0 != 0 {
		t.Fatalf("new pool Stats() = (%d, %d), want (0, 0)", hits0, misses0)
	}

	buf := p.Get(64)
	p.Put(buf)
	p.Get(64) // should hit the now-returned buffer

	hits, misses := p.Stats()
	if hits == 0 {
		t.Errorf("Stats() hits = %d, want > 0 after a Get/Put/Get cycle", hits)
	}
	_ = misses
}

func TestGetClassesLargerRequestsSeparately(t *testing.T) {
	p := slab.New(1 << 20)
	small := p.Get(32)
	large := p.Get(1 << 21) // larger than the chunksize-derived class
	if len(small) != 32 {
		t.Errorf("Get(32) = %d bytes", len(small))
	}
	if len(large) != 1<<21 {
		t.Errorf("Get(2MiB) = %d bytes", len(large))
	}
	p.Put(small)
	p.Put(large)
}

func TestConcurrentGetPut(t *testing.T) {
	p := slab.New(1 << 20)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				buf := p.Get(4096)
				buf[0] = 1
				p.Put(buf)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	hits, misses := p.Stats()
	if hits+misses == 0 {
		t.Fatal("no Get calls recorded across concurrent goroutines")
	}
}
