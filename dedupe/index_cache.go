// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package dedupe

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// IndexCache extends block-level dedupe matching across chunk (and
// process) boundaries: spec.md SS4.3 scopes the index to a single chunk's
// blocks, but a long-lived Redis-backed cache lets -G runs against
// similar archives reuse hashes seen by an earlier invocation. This is an
// enrichment SPEC_FULL.md SS10 adds; archives built without a cache
// (pipeline.Options.DedupeCacheAddr empty) remain fully self-contained,
// matching spec.md SS4.3 exactly.
type IndexCache struct {
	rdb    *redis.Client
	prefix string
}

// NewIndexCache dials addr (e.g. "localhost:6379") and scopes all keys
// under prefix, so unrelated archiving runs sharing one Redis instance
// don't collide.
func NewIndexCache(addr, prefix string) *IndexCache {
	return &IndexCache{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (c *IndexCache) key(sum uint64) string {
	return fmt.Sprintf("%s:blk:%x", c.prefix, sum)
}

// Lookup returns the content previously stored for sum, if the cache has
// seen it before.
func (c *IndexCache) Lookup(ctx context.Context, sum uint64) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.key(sum)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Store remembers content under sum for future Lookup calls in this or a
// later process.
func (c *IndexCache) Store(ctx context.Context, sum uint64, content []byte) error {
	return c.rdb.Set(ctx, c.key(sum), content, 0).Err()
}

// Close releases the underlying Redis connection pool.
func (c *IndexCache) Close() error {
	return c.rdb.Close()
}
