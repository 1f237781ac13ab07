// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"fmt"
	"io"

	"github.com/sehe/pcompress/stats"
)

// scheduler drives the worker pool for one run, implementing spec.md
// SS4.5 (compress) / SS4.7 (decompress) and the single writer of SS4.6.
// Grounded on parallel.go's Decompressor/assemble pair, generalized to
// both directions and widened from its internal reorder-heap to strict
// round-robin, since this format carries no independent sequence number
// to reorder by -- chunk i+1 is defined as "whatever comes after chunk i
// in dispatch order", so lockstep dispatch/collect already preserves
// order for free.
type scheduler struct {
	workers []*Worker
	cancel  *cancelFlag
	stats   *stats.Collector
}

func newScheduler(workers []*Worker, cancel *cancelFlag, collector *stats.Collector) *scheduler {
	return &scheduler{workers: workers, cancel: cancel, stats: collector}
}

// runCompress implements the compress-direction scheduler and writer.
// in is the full input; chunksize bounds each dispatched job;
// rabinAdjust, when non-nil, moves each full chunk's end back to the last
// dedupe boundary it reports and carries the rest into the next chunk.
func (s *scheduler) runCompress(in io.Reader, out io.Writer, chunksize uint64, rabinAdjust func(buf []byte) int) error {
	n := len(s.workers)
	for _, w := range s.workers {
		go w.runCompress()
	}
	// spec.md SS5: write_done_sem initial count is 1, letting the
	// scheduler hand in the first chunk immediately.
	for _, w := range s.workers {
		w.writeDoneSem <- struct{}{}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.writeLoop(out, n, false)
	}()

	carry := make([]byte, 0, 4096)
	var offset int64

	for i := 0; ; i = (i + 1) % n {
		w := s.workers[i]

		select {
		case <-s.cancel.Done():
			return <-errc
		case <-w.writeDoneSem:
		}

		buf := make([]byte, chunksize)
		copy(buf, carry)
		nRead, err := io.ReadFull(in, buf[len(carry):])
		total := len(carry) + nRead
		carry = carry[:0]

		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			s.cancel.Cancel()
			return err
		}
		partial := total < int(chunksize)

		if rabinAdjust != nil && !partial && total > 0 {
			if boundary := rabinAdjust(buf[:total]); boundary > 0 && boundary < total {
				carry = append(carry, buf[boundary:total]...)
				total = boundary
				partial = true
			}
		}

		if total == 0 {
			// This worker's slot is the EOF marker; drain and terminate
			// every other worker before waiting for the writer to observe
			// termination (spec.md SS4.5 DRAIN/CLEANUP).
			w.startSem <- chunkJob{eof: true}
			for j := 1; j < n; j++ {
				wj := s.workers[(i+j)%n]
				select {
				case <-s.cancel.Done():
					return <-errc
				case <-wj.writeDoneSem:
				}
				wj.startSem <- chunkJob{eof: true}
			}
			return <-errc
		}

		job := chunkJob{data: buf[:total], partial: partial, offset: offset}
		offset += int64(total)
		w.startSem <- job
		// If this was the last (partial) chunk, the next worker in
		// round-robin order reads zero bytes next time and triggers the
		// drain above.
	}
}

// runDecompress implements the decompress-direction scheduler and
// writer, symmetric to runCompress but reading frames instead of raw
// bytes (spec.md SS4.7).
func (s *scheduler) runDecompress(in io.Reader, out io.Writer, chunksize uint64, digestWidth, macWidth int) error {
	n := len(s.workers)
	for _, w := range s.workers {
		go w.runDecompress()
	}
	for _, w := range s.workers {
		w.writeDoneSem <- struct{}{}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.writeLoop(out, n, true)
	}()

	defer func() {
		for _, w := range s.workers {
			select {
			case w.startSem <- chunkJob{eof: true}:
			default:
			}
		}
	}()

	var offset int64
	for i := 0; ; i = (i + 1) % n {
		w := s.workers[i]

		select {
		case <-s.cancel.Done():
			return <-errc
		case <-w.writeDoneSem:
		}

		cf, err := DecodeFrame(in, chunksize, digestWidth, macWidth)
		if err == io.EOF {
			w.startSem <- chunkJob{eof: true}
			// Drain the remaining workers' write_done_sem so the writer
			// sees termination from everyone, then wait for it to finish.
			for j := 1; j < n; j++ {
				wj := s.workers[(i+j)%n]
				select {
				case <-s.cancel.Done():
					return <-errc
				case <-wj.writeDoneSem:
				}
				wj.startSem <- chunkJob{eof: true}
			}
			return <-errc
		}
		if err != nil {
			s.cancel.Cancel()
			return fmt.Errorf("pipeline: reading chunk %d: %w", i, err)
		}

		job := chunkJob{frame: cf, offset: offset}
		// The stream cipher is keyed off the plaintext stream position
		// (compress advances offset by the plaintext chunk length, see
		// runCompress above), not the on-wire compressed body length, so
		// mirror that here using the decoded original size for a partial
		// chunk and chunksize otherwise.
		plainLen := chunksize
		if cf.OriginalSize != nil {
			plainLen = *cf.OriginalSize
		}
		offset += int64(plainLen)
		w.startSem <- job
	}
}

// writeLoop is the single writer goroutine of spec.md SS4.6: for p in
// 0..N-1, wait on worker[p].cmp_done_sem, write its bytes, post
// write_done_sem. It also owns the -C/-M statistics accumulation: spec.md
// SS5 assigns the largest/smallest/avg-chunk counters exclusively to the
// writer (compress direction) or scheduler (decompress direction)
// thread, never to workers, so workerResult only carries the raw numbers
// and this loop is what folds them into s.stats.
func (s *scheduler) writeLoop(out io.Writer, n int, decompress bool) error {
	for i := 0; ; i = (i + 1) % n {
		w := s.workers[i]
		res := <-w.cmpDoneSem
		if res.err != nil {
			s.cancel.Cancel()
			return res.err
		}
		if res.lenCmp == 0 {
			s.cancel.Cancel()
			return nil
		}

		payload := res.frame
		if decompress {
			payload = res.plain
		}
		if _, err := out.Write(payload); err != nil {
			s.cancel.Cancel()
			return fmt.Errorf("pipeline: write error: %w", err)
		}
		if s.stats != nil {
			s.stats.ChunkProcessed(res.plainLen, res.compressedLen, res.duration)
		}
		w.writeDoneSem <- struct{}{}
	}
}
