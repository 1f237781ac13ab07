// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"fmt"
	"runtime"

	"github.com/sehe/pcompress/checksum"
	"github.com/sehe/pcompress/cryptutil"
	"github.com/sehe/pcompress/dedupe"
	"github.com/sehe/pcompress/transform"
)

// Version is the current on-disk archive format version this package
// writes; VersionMin is the oldest version it will still read (spec.md
// SS1 Non-goal: "backward-compatibility with archive versions older than
// VERSION-3").
const (
	Version    = 4
	VersionMin = Version - 3
)

// MaxLevel is the highest compression level any plugin accepts.
const MaxLevel = 14

// MinChunkSize is the smallest chunksize the CLI's -s flag will accept.
const MinChunkSize = 64 << 10

// DefaultChunkSize matches spec.md SS1's "default 5 MiB".
const DefaultChunkSize = 5 << 20

// DedupeMode selects how (or whether) chunks are deduplicated before
// compression, per spec.md SS6's -D/-F/-G flags.
type DedupeMode int

const (
	DedupeNone DedupeMode = iota
	DedupeRabin
	DedupeFixed
)

// Options configures one compress or decompress run. Fields mirror the
// CLI flags of spec.md SS6 one-to-one; cmd/pcompress builds this struct
// from parsed flags and the pipeline never looks at argv itself.
type Options struct {
	Algorithm Name // transform.Name is re-exported as pipeline.Name below
	ChunkSize uint64
	Level     int
	Threads   int

	Dedupe        DedupeMode
	DedupeBlock   dedupe.BlockSizeClass
	GlobalDedupe  bool
	DisableRabin  bool // -r: disable Rabin split, chunk boundaries unaligned
	Similarity    dedupe.Similarity

	// DedupeCacheAddr, when non-empty, names a Redis endpoint
	// (host:port) that backs the -G global dedupe index across
	// processes and archives, instead of the default in-memory-only
	// index. DedupeCachePrefix namespaces keys within that endpoint so
	// unrelated runs sharing a Redis instance don't collide.
	DedupeCacheAddr   string
	DedupeCachePrefix string

	LZP    bool
	Delta2 bool

	Checksum checksum.Algorithm

	Encrypt    bool
	CryptoAlgo cryptutil.Algorithm
	KeyLen     int
	Password   []byte

	PipeMode bool

	ShowAllocatorStats   bool
	ShowCompressionStats bool

	// MaxRAM is the RAM ceiling spec.md SS6's -s validation enforces
	// ("maximum 80% of total RAM"); zero disables the check (e.g. when
	// the caller can't determine it). cmd/pcompress fills this in from
	// the OS; tests can inject any value.
	MaxRAM uint64
}

// Name aliases transform.Name so callers only need to import one package
// for the common case of naming an algorithm.
type Name = transform.Name

// NThreads resolves the effective worker count: min(Threads, NumCPU),
// with GOMAXPROCS standing in for Threads when it is unset, and never
// less than 1. Clamping to one worker for an input that fits in a single
// chunk is left to the caller, which knows the input size.
func (o Options) NThreads() int {
	n := o.Threads
	if n <= 0 {
		n = runtime.GOMAXPROCS(-1)
	}
	if cpu := runtime.NumCPU(); n > cpu {
		n = cpu
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Validate rejects configuration combinations spec.md SS7 calls out as
// synchronous configuration errors.
func (o Options) Validate() error {
	if o.PipeMode && o.GlobalDedupe {
		return fmt.Errorf("%w: -p pipe mode is incompatible with global dedupe (-G)", ErrIncompatibleOptions)
	}
	if o.GlobalDedupe && o.Dedupe == DedupeNone {
		return fmt.Errorf("%w: -G global dedupe requires -D or -F", ErrIncompatibleOptions)
	}
	if o.PipeMode && o.Encrypt && len(o.Password) == 0 {
		return fmt.Errorf("%w: -p pipe mode requires -w when encrypting", ErrIncompatibleOptions)
	}
	if o.Level < 0 || o.Level > MaxLevel {
		return fmt.Errorf("%w: level %d", ErrBadLevel, o.Level)
	}
	if o.ChunkSize != 0 && o.ChunkSize < MinChunkSize {
		return fmt.Errorf("%w: chunksize %d below minimum %d", ErrBadChunksize, o.ChunkSize, MinChunkSize)
	}
	if o.ChunkSize != 0 {
		if err := ValidateChunkSize(o.ChunkSize, o.MaxRAM); err != nil {
			return err
		}
	}
	return nil
}
