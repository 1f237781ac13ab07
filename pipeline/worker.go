// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/sehe/pcompress/checksum"
	"github.com/sehe/pcompress/cryptutil"
	"github.com/sehe/pcompress/dedupe"
	"github.com/sehe/pcompress/preproc"
	"github.com/sehe/pcompress/slab"
	"github.com/sehe/pcompress/transform"
)

func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// chunkJob is what the scheduler hands a worker over start_sem. data/
// partial are used in the compress direction; frame is used in the
// decompress direction; offset addresses the stream cipher in either
// direction.
type chunkJob struct {
	data    []byte // exactly the bytes to process; len(data) <= chunksize
	partial bool   // true iff len(data) < chunksize (spec.md CHSIZE)
	frame   ChunkFrame
	offset  int64 // absolute byte offset of data within the stream, for stream-cipher addressing
	eof     bool  // rbytes==0: no more work, worker should terminate
}

// workerResult is what a worker hands the writer over cmp_done_sem.
// plainLen/compressedLen/duration carry the figures the writer/scheduler
// thread folds into stats.Collector: spec.md SS5 assigns statistics
// mutation exclusively to that thread, never to workers, so the worker
// only reports the numbers and leaves recording them to the caller.
type workerResult struct {
	frame         []byte // compress direction: the encoded chunk frame to write verbatim
	plain         []byte // decompress direction: the recovered plaintext to write verbatim
	lenCmp        int    // 0 signals termination, matching spec.md SS4.6
	plainLen      int    // uncompressed chunk size, either direction
	compressedLen int    // on-wire size: the whole encoded frame when compressing, the frame body when decompressing
	duration      time.Duration
	err           error
}

// Worker is one compression/decompression thread: it owns its buffers (by
// way of the shared slab.Pool), a compressor plugin instance, and the
// three-semaphore handshake of spec.md SS4.4/SS5. Modeled on
// parallel.go's worker goroutine, generalized from decompress-only to
// both directions and adapted to carry chunk payloads on the semaphore
// channels themselves, which removes the need for the teacher's shared
// mutable buffer fields while preserving the identical wait/post
// sequencing.
type Worker struct {
	id   int
	opts Options

	plugin transform.Plugin
	pool   *slab.Pool
	cancel *cancelFlag
	global *dedupe.GlobalIndex

	startSem     chan chunkJob
	cmpDoneSem   chan workerResult
	writeDoneSem chan struct{}

	// indexSem/indexSemNext implement spec.md SS4.3/SS5's index_sem
	// chain: a worker must hold its own indexSem before touching the
	// shared GlobalIndex, and posts indexSemNext (the next worker in
	// round-robin order's indexSem) once done, so global-dedupe access
	// stays ordered the same way chunk dispatch is. Only used when
	// opts.GlobalDedupe is set; wireIndexChain pre-posts worker 0's
	// indexSem exactly once, mirroring write_done_sem's priming.
	indexSem     chan struct{}
	indexSemNext chan struct{}

	stream cryptutil.Stream
	macKey []byte
}

func newWorker(id int, opts Options, plugin transform.Plugin, pool *slab.Pool, cancel *cancelFlag, global *dedupe.GlobalIndex, stream cryptutil.Stream, macKey []byte) *Worker {
	return &Worker{
		id:           id,
		opts:         opts,
		plugin:       plugin,
		pool:         pool,
		cancel:       cancel,
		global:       global,
		startSem:     make(chan chunkJob, 1),
		cmpDoneSem:   make(chan workerResult, 1),
		writeDoneSem: make(chan struct{}, 1),
		indexSem:     make(chan struct{}, 1),
		stream:       stream,
		macKey:       macKey,
	}
}

// runCompress is the worker loop of spec.md SS4.4, compress direction.
func (w *Worker) runCompress() {
	for {
		var job chunkJob
		select {
		case <-w.cancel.Done():
			w.cmpDoneSem <- workerResult{lenCmp: 0}
			return
		case job = <-w.startSem:
		}
		if job.eof {
			w.cmpDoneSem <- workerResult{lenCmp: 0}
			return
		}

		started := time.Now()
		frame, err := w.compressChunk(job)
		if err != nil {
			w.cancel.Cancel()
			w.cmpDoneSem <- workerResult{lenCmp: 0, err: err}
			return
		}
		w.cmpDoneSem <- workerResult{
			frame:         frame,
			lenCmp:        len(frame),
			plainLen:      len(job.data),
			compressedLen: len(frame),
			duration:      time.Since(started),
		}
	}
}

// runDecompress mirrors runCompress for the reverse direction; job.frame
// here carries the chunk frame (digest, mac, flag, body, and optional
// trailing size) already parsed by DecodeFrame in scheduler.runDecompress.
func (w *Worker) runDecompress() {
	for {
		var job chunkJob
		select {
		case <-w.cancel.Done():
			w.cmpDoneSem <- workerResult{lenCmp: 0}
			return
		case job = <-w.startSem:
		}
		if job.eof {
			w.cmpDoneSem <- workerResult{lenCmp: 0}
			return
		}

		started := time.Now()
		plain, err := w.decompressFrame(job.frame, job.offset)
		if err != nil {
			w.cancel.Cancel()
			w.cmpDoneSem <- workerResult{lenCmp: 0, err: err}
			return
		}
		w.cmpDoneSem <- workerResult{
			plain:         plain,
			lenCmp:        len(plain),
			plainLen:      len(plain),
			compressedLen: len(job.frame.Body),
			duration:      time.Since(started),
		}
	}
}

// compressChunk implements spec.md SS4.4 step 3, the compress path.
func (w *Worker) compressChunk(job chunkJob) ([]byte, error) {
	raw := job.data
	var digest []byte
	if w.opts.Encrypt {
		digest = nil // crypto mode: per-chunk-digest is zero-bytes-wide
	} else {
		d, err := checksum.Digest(w.opts.Checksum, raw)
		if err != nil {
			return nil, err
		}
		digest = d
	}

	body := raw
	flag := ChunkFlag(0)
	subAlgo := -1

	if w.opts.Dedupe != DedupeNone {
		mode := dedupe.ModeRabin
		if w.opts.Dedupe == DedupeFixed {
			mode = dedupe.ModeFixed
		}
		dedupeOpts := dedupe.Options{
			Mode:       mode,
			AvgSize:    dedupe.AvgSize(w.opts.DedupeBlock),
			Similarity: w.opts.Similarity,
		}
		if w.opts.GlobalDedupe {
			dedupeOpts.Global = w.global
			if err := w.waitIndexTurn(); err != nil {
				return nil, err
			}
		}
		encoded, err := dedupe.Compress(body, dedupeOpts, w.mainCompressFunc(&subAlgo))
		if w.opts.GlobalDedupe {
			w.postIndexNext()
		}
		if err != nil {
			return nil, fmt.Errorf("worker %d: dedupe compress: %w", w.id, err)
		}
		body = encoded
		flag |= ChunkFlagDedup | ChunkFlagCompressed
	} else {
		props := w.plugin.Props(w.opts.Level, w.opts.ChunkSize)
		preOpts := preproc.Options{
			LZP:            w.opts.LZP,
			Delta2:         w.opts.Delta2,
			Delta2Span:     props.Delta2Span,
			MaxHistoryBits: 16,
		}
		if preOpts.LZP || (preOpts.Delta2 && preOpts.Delta2Span > 0) {
			envelope, err := preproc.Compress(body, preOpts, w.mainCompressFunc(&subAlgo))
			if err != nil {
				return nil, fmt.Errorf("worker %d: preproc compress: %w", w.id, err)
			}
			body = envelope
			flag |= ChunkFlagPreproc
			if envelope[0]&preproc.FlagCompressed != 0 {
				flag |= ChunkFlagCompressed
			}
		} else {
			cmp, ok, err := w.mainCompressFunc(&subAlgo)(body)
			if err != nil {
				return nil, fmt.Errorf("worker %d: compress: %w", w.id, err)
			}
			if ok && len(cmp) < len(body) {
				body = cmp
				flag |= ChunkFlagCompressed
			}
		}
	}
	if subAlgo >= 0 {
		flag = flag.WithSubAlgo(subAlgo)
	}

	// The "store verbatim if the result isn't smaller" rule (spec.md
	// SS4.2/SS7.6) applies to every path except dedupe: once
	// dedupe has restructured the chunk into [header|index|residual], that
	// encoding is the only thing Decompress knows how to parse, so it
	// can't be replaced by the raw bytes even if it happens to be larger.
	lenCmp := uint64(len(body))
	if flag&ChunkFlagDedup == 0 && lenCmp >= uint64(len(raw)) {
		body = raw
		lenCmp = uint64(len(raw))
		flag &^= ChunkFlagCompressed | ChunkFlagPreproc
	}

	if w.opts.Encrypt {
		enc := w.pool.Get(len(body))
		w.stream.XORKeyStream(enc, body, job.offset)
		body = enc
		defer w.pool.Put(enc)
	}

	var originalSize *uint64
	if job.partial {
		v := uint64(len(raw))
		originalSize = &v
		flag |= ChunkFlagCHSize
	}

	macWidth := w.macWidth()
	computeMac := w.frameMacFunc()
	return EncodeFrame(lenCmp, digest, macWidth, flag, body, originalSize, computeMac)
}

// mainCompressFunc adapts the worker's transform.Plugin to the narrow
// CompressFunc contract the preproc/dedupe packages expect, recording
// which adapt-mode sub-algorithm fired (if any) into *subAlgo.
func (w *Worker) mainCompressFunc(subAlgo *int) func(src []byte) ([]byte, bool, error) {
	return func(src []byte) ([]byte, bool, error) {
		dst, ok, err := w.plugin.Compress(src, w.opts.Level)
		if ap, isAdapt := w.plugin.(interface{ LastSubAlgo() transform.SubAlgo }); isAdapt && ok {
			*subAlgo = int(ap.LastSubAlgo())
		}
		return dst, ok, err
	}
}

func (w *Worker) mainDecompressFunc(subAlgo int) func(src []byte, originalLen int) ([]byte, error) {
	if ap, isAdapt := w.plugin.(interface {
		DecompressSub(sub transform.SubAlgo, src []byte, originalLen int) ([]byte, error)
	}); isAdapt {
		return func(src []byte, originalLen int) ([]byte, error) {
			return ap.DecompressSub(transform.SubAlgo(subAlgo), src, originalLen)
		}
	}
	return w.plugin.Decompress
}

// decompressFrame implements spec.md SS4.4 step 4, the decompress path:
// verify first, then decrypt, then reverse dedupe/preproc/compress, then
// re-verify the plaintext digest in non-crypto mode.
func (w *Worker) decompressFrame(cf ChunkFrame, offset int64) ([]byte, error) {
	computeMac := w.frameMacFunc()
	mac, err := computeMac(cf.VerifyBytes)
	if err != nil {
		return nil, err
	}
	if !constantTimeEqual(mac, cf.Mac) {
		return nil, fmt.Errorf("worker %d: %w", w.id, ErrChunkIntegrity)
	}

	body := cf.Body
	if w.opts.Encrypt {
		dec := w.pool.Get(len(body))
		w.stream.XORKeyStream(dec, body, offset)
		body = dec
		defer w.pool.Put(dec)
	}

	originalLen := int(w.opts.ChunkSize)
	if cf.OriginalSize != nil {
		originalLen = int(*cf.OriginalSize)
	}

	subAlgo := cf.Flag.SubAlgo()
	var plain []byte
	switch {
	case cf.Flag&ChunkFlagDedup != 0:
		if w.opts.GlobalDedupe {
			if err := w.waitIndexTurn(); err != nil {
				return nil, err
			}
		}
		plain, err = dedupe.Decompress(body, w.global, w.mainDecompressFunc(subAlgo))
		if w.opts.GlobalDedupe {
			w.postIndexNext()
		}
	case cf.Flag&ChunkFlagPreproc != 0:
		plain, err = preproc.Decompress(body, w.mainDecompressFunc(subAlgo))
	case cf.Flag&ChunkFlagCompressed != 0:
		plain, err = w.mainDecompressFunc(subAlgo)(body, originalLen)
	default:
		plain = body
	}
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w: %v", w.id, ErrChunkIntegrity, err)
	}

	if !w.opts.Encrypt {
		digest, err := checksum.Digest(w.opts.Checksum, plain)
		if err != nil {
			return nil, err
		}
		if !constantTimeEqual(digest, cf.Digest) {
			return nil, fmt.Errorf("worker %d: %w: digest mismatch", w.id, ErrChunkIntegrity)
		}
	}
	return plain, nil
}

// waitIndexTurn blocks until this worker holds index_sem, or the run is
// canceled.
func (w *Worker) waitIndexTurn() error {
	select {
	case <-w.cancel.Done():
		return ErrCanceled
	case <-w.indexSem:
		return nil
	}
}

// postIndexNext releases index_sem to the next worker in round-robin
// order, mirroring write_done_sem's handoff.
func (w *Worker) postIndexNext() {
	select {
	case w.indexSemNext <- struct{}{}:
	case <-w.cancel.Done():
	}
}

func (w *Worker) macWidth() int {
	if w.opts.Encrypt {
		return cryptutil.Size(w.opts.Checksum)
	}
	return checksum.Size(checksum.CRC32)
}

func (w *Worker) frameMacFunc() func(frame []byte) ([]byte, error) {
	if w.opts.Encrypt {
		key := w.macKey
		digest := w.opts.Checksum
		return func(frame []byte) ([]byte, error) {
			return cryptutil.HMAC(key, digest, frame)
		}
	}
	return func(frame []byte) ([]byte, error) {
		return checksum.Digest(checksum.CRC32, frame)
	}
}
