// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package pipeline implements the chunked, parallel compression pipeline:
// the producer/consumer coordination that reads input, feeds N worker
// stages in strict sequence order, gathers their output, and serializes
// it to a self-describing archive, together with the chunk framing
// format and the integrity verification that binds them.
//
// The worker pool, round-robin dispatch, and single writer goroutine are
// generalized from parallel.go's Decompressor/worker/assemble triad,
// widened from a decompress-only pipeline to a bidirectional one, and
// from that triad's heap-based block reordering to strict round-robin
// dispatch -- the chunk stream here carries no independent sequence
// numbers to reorder by, so lockstep dispatch/collection is both
// sufficient and simpler.
package pipeline
