// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transform

import (
	"bytes"
	"compress/bzip2"
	"io"
)

// bzip2Plugin is decode-only: there is no third-party Go bzip2 encoder
// anywhere in the retrieval pack, and the teacher's own
// internal/bzip2 package (deleted, see DESIGN.md) was itself a vendored
// copy of this same standard library decompressor, not bespoke encoder
// code. Compress therefore returns ErrUnsupportedDirection, consistent
// with bzip2 being one of the explicitly out-of-scope compressors named
// in spec.md SS1.
type bzip2Plugin struct {
	bytesOut uint64
}

func newBzip2Plugin() *bzip2Plugin { return &bzip2Plugin{} }

func (p *bzip2Plugin) Init(level, nthreads int, chunksize uint64, op Op) error {
	if op == OpCompress {
		return ErrUnsupportedDirection
	}
	return nil
}
func (p *bzip2Plugin) Deinit()                                 {}
func (p *bzip2Plugin) Props(level int, chunksize uint64) Props { return Props{} }

func (p *bzip2Plugin) Compress(src []byte, level int) ([]byte, bool, error) {
	return nil, false, ErrUnsupportedDirection
}

func (p *bzip2Plugin) Decompress(src []byte, originalLen int) ([]byte, error) {
	r := bzip2.NewReader(bytes.NewReader(src))
	out := bytes.NewBuffer(make([]byte, 0, originalLen))
	if _, err := io.Copy(out, r); err != nil {
		return nil, err
	}
	p.bytesOut += uint64(out.Len())
	return out.Bytes(), nil
}

func (p *bzip2Plugin) Stats() (uint64, uint64) { return 0, p.bytesOut }
