// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import "errors"

var (
	// ErrCanceled is returned when a run is aborted through its context
	// (e.g. by a signal). A worker's integrity failure is reported as
	// ErrChunkIntegrity instead.
	ErrCanceled = errors.New("pipeline: canceled")

	// ErrBadMagic is returned when a header's algorithm field is not a
	// known identifier.
	ErrBadMagic = errors.New("pipeline: unrecognized algorithm identifier in file header")

	// ErrBadVersion is returned when a header's version is outside
	// [VERSION-3, VERSION].
	ErrBadVersion = errors.New("pipeline: unsupported archive version")

	// ErrBadChunksize is returned when a header's chunksize exceeds the
	// configured RAM ceiling, or is zero.
	ErrBadChunksize = errors.New("pipeline: chunksize out of range")

	// ErrBadLevel is returned when a header's level is outside
	// [0, MaxLevel].
	ErrBadLevel = errors.New("pipeline: compression level out of range")

	// ErrHeaderIntegrity is returned when the file header's trailing
	// CRC32/HMAC does not match.
	ErrHeaderIntegrity = errors.New("pipeline: header verification failed")

	// ErrChunkIntegrity is returned when a chunk's CRC32/HMAC/digest does
	// not match -- always fatal, per spec: the pipeline aborts rather
	// than attempt recovery.
	ErrChunkIntegrity = errors.New("pipeline: chunk verification failed")

	// ErrChunkTooLarge is returned when a decoded chunk length exceeds
	// chunksize+256.
	ErrChunkTooLarge = errors.New("pipeline: chunk length exceeds maximum")

	// ErrIncompatibleOptions is returned for option combinations the
	// configuration layer rejects synchronously (e.g. -F with -D, -G
	// with -p).
	ErrIncompatibleOptions = errors.New("pipeline: incompatible option combination")
)
