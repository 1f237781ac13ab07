// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import "sync/atomic"

// cancelFlag is the process-wide main_cancel of spec.md SS5/SS9, modeled
// as an atomic.Bool shared across the scheduler, writer, and every
// worker, rather than a single context.Context: a worker that detects a
// fatal integrity failure must flip this flag synchronously from inside
// its own goroutine and have every other party observe it on their very
// next semaphore wait, which a shared flag gives for free and a
// context cancellation (itself just a close-once channel under the
// hood) would too -- the two are combined below so blocked channel
// operations wake immediately.
type cancelFlag struct {
	flag atomic.Bool
	done chan struct{}
}

func newCancelFlag() *cancelFlag {
	return &cancelFlag{done: make(chan struct{})}
}

// Cancel sets the flag and wakes anyone selecting on Done(). Safe to call
// more than once or concurrently.
func (c *cancelFlag) Cancel() {
	if c.flag.CompareAndSwap(false, true) {
		close(c.done)
	}
}

// Canceled reports whether Cancel has been called.
func (c *cancelFlag) Canceled() bool { return c.flag.Load() }

// Done returns a channel closed once Cancel has been called, suitable
// for use in a select alongside a worker's semaphore channels.
func (c *cancelFlag) Done() <-chan struct{} { return c.done }
