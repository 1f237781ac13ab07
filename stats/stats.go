// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package stats implements the -C (compression) and -M (allocator)
// reporting spec.md SS6 describes, as a process-local Prometheus
// registry: counters and histograms the run accumulates into and then
// renders to stdout when the run ends. There is no HTTP exporter here --
// this is a CLI, not a server -- so promhttp is never imported.
//
// Grounded on
// _examples/kenchrcum-s3-encryption-gateway/internal/metrics/metrics.go's
// counter/histogram shapes and registration pattern.
package stats

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Collector accumulates the counters spec.md SS6's -C/-M flags surface.
type Collector struct {
	registry *prometheus.Registry

	chunksIn      prometheus.Counter
	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	chunkDuration prometheus.Histogram
	slabHits      prometheus.Counter
	slabMisses    prometheus.Counter
	dedupeBlocks  prometheus.Counter
	dedupeSaved   prometheus.Counter
	largestChunk  prometheus.Gauge
	smallestChunk prometheus.Gauge

	haveChunk                 bool
	largestSeen, smallestSeen int

	start time.Time
}

// New returns a Collector with a fresh, process-local registry -- never
// shared with any default/global registry, so repeated runs within the
// same test binary don't collide on metric names.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		chunksIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcompress_chunks_processed_total",
			Help: "Chunks processed by any worker.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcompress_bytes_in_total",
			Help: "Uncompressed bytes read from input chunks.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcompress_bytes_out_total",
			Help: "Bytes written to the archive, post-framing.",
		}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pcompress_chunk_duration_seconds",
			Help:    "Wall time a worker spends on one chunk.",
			Buckets: prometheus.DefBuckets,
		}),
		slabHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcompress_slab_hits_total",
			Help: "Buffer pool gets satisfied from an idle buffer.",
		}),
		slabMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcompress_slab_misses_total",
			Help: "Buffer pool gets that allocated a new buffer.",
		}),
		dedupeBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcompress_dedupe_blocks_total",
			Help: "Dedupe blocks classified across all chunks.",
		}),
		dedupeSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcompress_dedupe_bytes_saved_total",
			Help: "Bytes elided by duplicate/similar dedupe matches.",
		}),
		largestChunk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pcompress_largest_chunk_bytes",
			Help: "Largest on-wire chunk body size seen so far.",
		}),
		smallestChunk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pcompress_smallest_chunk_bytes",
			Help: "Smallest on-wire chunk body size seen so far.",
		}),
		start: timeNow(),
	}
	reg.MustRegister(c.chunksIn, c.bytesIn, c.bytesOut, c.chunkDuration,
		c.slabHits, c.slabMisses, c.dedupeBlocks, c.dedupeSaved,
		c.largestChunk, c.smallestChunk)
	return c
}

// timeNow is a seam so tests can avoid wall-clock flakiness if needed;
// production code always calls the real clock.
var timeNow = time.Now

// ChunkProcessed records one chunk's pass through the pipeline: spec.md
// SS5 assigns this mutation exclusively to the writer (compress
// direction) or scheduler (decompress direction) thread, never to
// workers, so callers are pipeline.scheduler.writeLoop, not Worker.
// bytesOut is the chunk's on-wire size as the writer reports it (the
// whole frame when compressing, the frame body when decompressing),
// which is what feeds the largest/smallest-chunk gauges.
func (c *Collector) ChunkProcessed(bytesIn, bytesOut int, d time.Duration) {
	c.chunksIn.Inc()
	c.bytesIn.Add(float64(bytesIn))
	c.bytesOut.Add(float64(bytesOut))
	c.chunkDuration.Observe(d.Seconds())
	if !c.haveChunk || bytesOut > c.largestSeen {
		c.largestSeen = bytesOut
		c.largestChunk.Set(float64(bytesOut))
	}
	if !c.haveChunk || bytesOut < c.smallestSeen {
		c.smallestSeen = bytesOut
		c.smallestChunk.Set(float64(bytesOut))
	}
	c.haveChunk = true
}

// SlabEvent records one allocator pool Get outcome.
func (c *Collector) SlabEvent(hit bool) {
	if hit {
		c.slabHits.Inc()
		return
	}
	c.slabMisses.Inc()
}

// DedupeBlock records one classified dedupe block and how many bytes its
// match elided relative to storing it literally.
func (c *Collector) DedupeBlock(savedBytes int) {
	c.dedupeBlocks.Inc()
	if savedBytes > 0 {
		c.dedupeSaved.Add(float64(savedBytes))
	}
}

// Report renders the -C/-M summary spec.md SS6 calls for at the end of a
// run: compression ratio, throughput, and allocator hit rate.
func (c *Collector) Report(w io.Writer) error {
	elapsed := timeNow().Sub(c.start)

	in := testutil.ToFloat64(c.bytesIn)
	out := testutil.ToFloat64(c.bytesOut)
	hits := testutil.ToFloat64(c.slabHits)
	misses := testutil.ToFloat64(c.slabMisses)
	blocks := testutil.ToFloat64(c.dedupeBlocks)
	saved := testutil.ToFloat64(c.dedupeSaved)
	largest := testutil.ToFloat64(c.largestChunk)
	smallest := testutil.ToFloat64(c.smallestChunk)

	ratio := 0.0
	if out > 0 {
		ratio = in / out
	}
	throughput := 0.0
	if elapsed.Seconds() > 0 {
		throughput = in / elapsed.Seconds() / (1 << 20)
	}
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = 100 * hits / (hits + misses)
	}

	_, err := fmt.Fprintf(w,
		"chunks=%d in=%.0fB out=%.0fB ratio=%.3f throughput=%.2fMB/s slab_hit_rate=%.1f%% dedupe_blocks=%.0f dedupe_saved=%.0fB largest_chunk=%.0fB smallest_chunk=%.0fB\n",
		int(testutil.ToFloat64(c.chunksIn)), in, out, ratio, throughput, hitRate, blocks, saved, largest, smallest)
	return err
}
