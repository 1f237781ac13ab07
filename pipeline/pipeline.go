// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sehe/pcompress/checksum"
	"github.com/sehe/pcompress/cryptutil"
	"github.com/sehe/pcompress/dedupe"
	"github.com/sehe/pcompress/slab"
	"github.com/sehe/pcompress/stats"
	"github.com/sehe/pcompress/transform"
)

// Stats, when non-nil in a Run, collects the -C/-M counters cmd/pcompress
// renders at the end of a run.
type Run struct {
	Stats *stats.Collector
}

// Compress implements the top-level driver of spec.md SS2 item 8: open
// files (the caller already has), write the file header, seed workers,
// join on completion, handle cancellation. Grounded on cmd/pbzip2's
// unzip/cat command bodies (signal-driven context cancellation, error
// aggregation) generalized from decompress-only to the compress
// direction this repository adds.
func Compress(ctx context.Context, r io.Reader, w io.Writer, opts Options, run *Run) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	var crypto *cryptutil.Params
	var stream cryptutil.Stream
	var macKey []byte
	if opts.Encrypt {
		p, err := cryptutil.NewParams(opts.CryptoAlgo, opts.KeyLen)
		if err != nil {
			return err
		}
		key, err := cryptutil.DeriveKey(opts.Password, p.Salt, p.KeyLen, opts.Checksum)
		if err != nil {
			return err
		}
		s, err := cryptutil.NewStream(p, key)
		if err != nil {
			return err
		}
		crypto = &p
		stream = s
		macKey = key
		// spec.md SS5: "the key material is wiped from the plaintext
		// buffer once per-worker HMAC contexts are seeded" -- here, once
		// the key is derived the caller's password bytes are no longer
		// needed, so they are wiped in place before any worker exists
		// (not macKey itself, which every worker below shares for HMAC).
		wipe(opts.Password)
	}

	headerFlags := HeaderFlags(0)
	if opts.Encrypt {
		headerFlags |= HeaderFlagCrypto
	}
	switch opts.Dedupe {
	case DedupeRabin:
		headerFlags |= HeaderFlagDedupe
	case DedupeFixed:
		headerFlags |= HeaderFlagDedupe | HeaderFlagFixedDedupe
	}
	if opts.GlobalDedupe {
		headerFlags |= HeaderFlagGlobalDedupe
	}

	hdr := ArchiveHeader{
		Algorithm: opts.Algorithm,
		Version:   Version,
		Flags:     headerFlags,
		ChunkSize: chunkSize,
		Level:     uint32(opts.Level),
		Crypto:    crypto,
		Checksum:  opts.Checksum,
	}
	headerMac := headerMacFunc(opts, macKey)
	headerBytes, err := hdr.Encode(headerMac)
	if err != nil {
		return fmt.Errorf("pipeline: encoding file header: %w", err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("pipeline: writing file header: %w", err)
	}

	cancel := newCancelFlag()
	go func() {
		select {
		case <-ctx.Done():
			cancel.Cancel()
		case <-cancel.Done():
		}
	}()

	n := opts.NThreads()
	pool := slab.New(chunkSize)
	global := newGlobalIndex(ctx, opts)
	workers := make([]*Worker, n)
	for i := range workers {
		plugin, err := transform.New(opts.Algorithm)
		if err != nil {
			return err
		}
		if err := plugin.Init(opts.Level, 1, chunkSize, transform.OpCompress); err != nil {
			return fmt.Errorf("pipeline: initializing %s: %w", opts.Algorithm, err)
		}
		defer plugin.Deinit()
		workers[i] = newWorker(i, opts, plugin, pool, cancel, global, stream, macKey)
	}
	wireIndexChain(workers, opts.GlobalDedupe)

	var rabinAdjust func([]byte) int
	if opts.Dedupe != DedupeNone && !opts.DisableRabin {
		rabinAdjust = func(buf []byte) int { return dedupeLastBoundary(buf, opts) }
	}

	sched := newScheduler(workers, cancel, run.collector())
	if err := sched.runCompress(r, w, chunkSize, rabinAdjust); err != nil {
		return err
	}
	// The writer sets cancel itself once it sees termination, so only a
	// canceled ctx marks the run as aborted.
	if ctx.Err() != nil {
		return ErrCanceled
	}
	if _, err := w.Write(EncodeTrailer()); err != nil {
		return fmt.Errorf("pipeline: writing trailer: %w", err)
	}
	return nil
}

// Decompress implements the symmetric driver for spec.md SS4.7.
func Decompress(ctx context.Context, r io.Reader, w io.Writer, opts Options, run *Run) error {
	fixed := make([]byte, 24)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return fmt.Errorf("pipeline: reading file header: %w", err)
	}
	cryptoFlag := HeaderFlags(binary.BigEndian.Uint16(fixed[10:12]))&^HeaderFlagCksumMask&HeaderFlagCrypto != 0

	headerBytes := fixed
	if cryptoFlag {
		saltLenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, saltLenBuf); err != nil {
			return fmt.Errorf("pipeline: reading crypto salt length: %w", err)
		}
		saltLen := int(binary.BigEndian.Uint32(saltLenBuf))
		salt := make([]byte, saltLen)
		if _, err := io.ReadFull(r, salt); err != nil {
			return fmt.Errorf("pipeline: reading crypto salt: %w", err)
		}
		nonceLen := cryptutil.NonceSize(opts.CryptoAlgo)
		rest := make([]byte, nonceLen+4)
		if _, err := io.ReadFull(r, rest); err != nil {
			return fmt.Errorf("pipeline: reading crypto nonce/keylen: %w", err)
		}
		headerBytes = append(headerBytes, saltLenBuf...)
		headerBytes = append(headerBytes, salt...)
		headerBytes = append(headerBytes, rest...)
	}

	hdr, n, err := DecodeHeader(headerBytes)
	if err != nil {
		return err
	}
	if err := ValidateVersion(hdr.Version); err != nil {
		return err
	}
	if err := ValidateLevel(hdr.Level); err != nil {
		return err
	}
	if err := ValidateChunkSize(hdr.ChunkSize, opts.MaxRAM); err != nil {
		return err
	}

	var macKey []byte
	var stream cryptutil.Stream
	if cryptoFlag {
		crypto, nAfter, err := ResolveCrypto(headerBytes, n, opts.CryptoAlgo)
		if err != nil {
			return err
		}
		crypto.Salt = hdr.Crypto.Salt
		n = nAfter
		hdr.Crypto = &crypto

		key, err := cryptutil.DeriveKey(opts.Password, crypto.Salt, crypto.KeyLen, hdr.Checksum)
		if err != nil {
			return err
		}
		s, err := cryptutil.NewStream(crypto, key)
		if err != nil {
			return err
		}
		stream = s
		macKey = key
		wipe(opts.Password)
	}

	macWidth := checksum.Size(checksum.CRC32)
	var headerMac func([]byte) ([]byte, error)
	if cryptoFlag {
		macWidth = cryptutil.Size(hdr.Checksum)
		key := macKey
		digest := hdr.Checksum
		headerMac = func(data []byte) ([]byte, error) { return cryptutil.HMAC(key, digest, data) }
	}
	tag := make([]byte, macWidth)
	if _, err := io.ReadFull(r, tag); err != nil {
		return fmt.Errorf("pipeline: reading header integrity tag: %w", err)
	}
	if err := VerifyTrailer(headerBytes[:n], tag, headerMac); err != nil {
		return err
	}

	opts.Algorithm = hdr.Algorithm
	opts.ChunkSize = hdr.ChunkSize
	opts.Level = int(hdr.Level)
	opts.Checksum = hdr.Checksum
	opts.Encrypt = hdr.Flags&HeaderFlagCrypto != 0
	if hdr.Flags&HeaderFlagDedupe != 0 {
		if hdr.Flags&HeaderFlagFixedDedupe != 0 {
			opts.Dedupe = DedupeFixed
		} else {
			opts.Dedupe = DedupeRabin
		}
	}
	opts.GlobalDedupe = hdr.Flags&HeaderFlagGlobalDedupe != 0

	digestWidth := 0
	if !opts.Encrypt {
		digestWidth = checksum.Size(opts.Checksum)
	}
	frameMacWidth := checksum.Size(checksum.CRC32)
	if opts.Encrypt {
		frameMacWidth = cryptutil.Size(opts.Checksum)
	}

	cancel := newCancelFlag()
	go func() {
		select {
		case <-ctx.Done():
			cancel.Cancel()
		case <-cancel.Done():
		}
	}()

	nWorkers := opts.NThreads()
	pool := slab.New(opts.ChunkSize)
	global := newGlobalIndex(ctx, opts)
	workers := make([]*Worker, nWorkers)
	for i := range workers {
		plugin, err := transform.New(opts.Algorithm)
		if err != nil {
			return err
		}
		if err := plugin.Init(opts.Level, 1, opts.ChunkSize, transform.OpDecompress); err != nil {
			return fmt.Errorf("pipeline: initializing %s: %w", opts.Algorithm, err)
		}
		defer plugin.Deinit()
		workers[i] = newWorker(i, opts, plugin, pool, cancel, global, stream, macKey)
	}
	wireIndexChain(workers, opts.GlobalDedupe)

	sched := newScheduler(workers, cancel, run.collector())
	if err := sched.runDecompress(r, w, opts.ChunkSize, digestWidth, frameMacWidth); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ErrCanceled
	}
	return nil
}

func (r *Run) collector() *stats.Collector {
	if r == nil {
		return nil
	}
	return r.Stats
}

func headerMacFunc(opts Options, macKey []byte) func([]byte) ([]byte, error) {
	if !opts.Encrypt {
		return nil
	}
	digest := opts.Checksum
	return func(data []byte) ([]byte, error) { return cryptutil.HMAC(macKey, digest, data) }
}

// newGlobalIndex constructs the shared -G dedupe index for a run, backing
// it with a Redis-based cache when opts.DedupeCacheAddr names one (for
// index reuse across processes and archives) and falling back to a bare
// in-memory index otherwise.
func newGlobalIndex(ctx context.Context, opts Options) *dedupe.GlobalIndex {
	if !opts.GlobalDedupe {
		return nil
	}
	if opts.DedupeCacheAddr == "" {
		return dedupe.NewGlobalIndex()
	}
	cache := dedupe.NewIndexCache(opts.DedupeCacheAddr, opts.DedupeCachePrefix)
	return dedupe.NewGlobalIndexWithCache(cache, ctx)
}

// wireIndexChain links each worker's indexSemNext to the next worker's
// indexSem in round-robin order and pre-posts worker 0's indexSem, so the
// first chunk's global-dedupe access can proceed immediately (spec.md
// SS5: "index_sem = 0 except worker 0 is pre-posted by the scheduler").
func wireIndexChain(workers []*Worker, enabled bool) {
	if !enabled {
		return
	}
	n := len(workers)
	for i, w := range workers {
		w.indexSemNext = workers[(i+1)%n].indexSem
	}
	workers[0].indexSem <- struct{}{}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// dedupeLastBoundary reports the offset of the last content-defined
// dedupe boundary found inside buf, so the compress scheduler's
// read-ahead can realign the next chunk's start on a Rabin boundary
// (spec.md SS4.5 READ-AHEAD: "chunk boundaries are adjusted to the last
// Rabin boundary in the read buffer").
func dedupeLastBoundary(buf []byte, opts Options) int {
	mode := dedupe.ModeRabin
	if opts.Dedupe == DedupeFixed {
		mode = dedupe.ModeFixed
	}
	bounds := dedupe.Boundaries(buf, mode, dedupe.AvgSize(opts.DedupeBlock))
	// Boundaries always reports the end of buf as a trailing synthetic
	// boundary (there is no content-defined break there, just "data ran
	// out"); realignment only makes sense against a real interior
	// boundary, so skip it and report 0 when none exists.
	if len(bounds) == 0 {
		return 0
	}
	last := int(bounds[len(bounds)-1])
	if last >= len(buf) {
		if len(bounds) < 2 {
			return 0
		}
		last = int(bounds[len(bounds)-2])
	}
	return last
}
