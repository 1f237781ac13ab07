// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package checksum provides the selectable per-chunk digest algorithms
// named by the archive file header's cksum field (spec.md -S flag) and the
// hash constructor used to derive keys and HMACs in cryptutil.
package checksum

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// Algorithm identifies one of the selectable chunk-digest algorithms.
type Algorithm string

// Supported checksum algorithms. CRC32 is the mandatory algorithm used for
// the file header and chunk framing integrity tag in non-crypto mode
// (spec.md SS4.1/SS4.8); SHA256 and XXHash are selectable whole-chunk
// digests (spec.md -S flag).
const (
	CRC32  Algorithm = "crc32"
	SHA256 Algorithm = "sha256"
	XXHash Algorithm = "xxhash"
)

// Size returns the width, in bytes, of the digest produced by algo.
func Size(algo Algorithm) int {
	switch algo {
	case CRC32:
		return 4
	case SHA256:
		return sha256.Size
	case XXHash:
		return 8
	default:
		return 0
	}
}

// New returns a fresh hash.Hash for algo.
func New(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case CRC32:
		return crc32.NewIEEE(), nil
	case SHA256:
		return sha256.New(), nil
	case XXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("checksum: unknown algorithm %q", algo)
	}
}

// HashFunc returns a constructor suitable for crypto/hmac.New and
// golang.org/x/crypto/pbkdf2.Key.
func HashFunc(algo Algorithm) (func() hash.Hash, error) {
	switch algo {
	case CRC32:
		return func() hash.Hash { return crc32.NewIEEE() }, nil
	case SHA256:
		return sha256.New, nil
	case XXHash:
		return func() hash.Hash { return xxhash.New() }, nil
	default:
		return nil, fmt.Errorf("checksum: unknown algorithm %q", algo)
	}
}

// Digest computes the digest of data using algo.
func Digest(algo Algorithm, data []byte) ([]byte, error) {
	h, err := New(algo)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// Parse validates and normalizes a user-supplied -S value.
func Parse(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case CRC32, SHA256, XXHash:
		return Algorithm(name), nil
	default:
		return "", fmt.Errorf("checksum: unsupported -S algorithm %q", name)
	}
}
