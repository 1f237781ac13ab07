// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transform

// SubAlgo is the 3-bit sub-algorithm id recorded in ChunkFlags bits 4-6
// when the main algorithm is "adapt" (spec.md SS3/SS9 "Adaptive mode").
type SubAlgo uint8

const (
	SubZlib SubAlgo = iota
	SubLZ4
)

// adaptPlugin picks the smaller of {zlib, lz4} per chunk, recording the
// winner so Decompress can dispatch on it (spec.md SS9: "decompressor
// dispatches on that sub-id to pick the inverse"). The original C tool's
// adapt mode chose between bzip2/ppmd; this repository substitutes the
// two compressors it implements in full (see DESIGN.md Open Question
// decisions).
type adaptPlugin struct {
	zlib    *zlibPlugin
	lz4     *lz4Plugin
	lastSub SubAlgo
}

func newAdaptPlugin() *adaptPlugin {
	return &adaptPlugin{zlib: newZlibPlugin(), lz4: newLz4Plugin()}
}

func (p *adaptPlugin) Init(level, nthreads int, chunksize uint64, op Op) error { return nil }
func (p *adaptPlugin) Deinit()                                                {}

func (p *adaptPlugin) Props(level int, chunksize uint64) Props {
	return Props{BufExtra: 64, NThreads: 1, Delta2Span: 4, DeltaCMinDistance: 16}
}

// Compress runs both candidate codecs and keeps the smaller result. The
// chosen sub-algorithm is recorded in LastSubAlgo for the caller to fold
// into ChunkFlags bits 4-6 before Decompress is ever invoked.
func (p *adaptPlugin) Compress(src []byte, level int) ([]byte, bool, error) {
	zDst, zOK, zErr := p.zlib.Compress(src, level)
	lDst, lOK, lErr := p.lz4.Compress(src, level)

	switch {
	case zErr != nil && lErr != nil:
		return nil, false, zErr
	case zOK && (!lOK || len(zDst) <= len(lDst)):
		p.lastSub = SubZlib
		return zDst, true, nil
	case lOK:
		p.lastSub = SubLZ4
		return lDst, true, nil
	default:
		return nil, false, nil
	}
}

// LastSubAlgo reports which codec the most recent successful Compress
// call chose.
func (p *adaptPlugin) LastSubAlgo() SubAlgo { return p.lastSub }

// DecompressSub decompresses a body previously produced by adapt mode,
// using the sub-algorithm recorded in the chunk's flag bits.
func (p *adaptPlugin) DecompressSub(sub SubAlgo, src []byte, originalLen int) ([]byte, error) {
	switch sub {
	case SubZlib:
		return p.zlib.Decompress(src, originalLen)
	case SubLZ4:
		return p.lz4.Decompress(src, originalLen)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// Decompress exists to satisfy the Plugin interface; callers that know
// they are dealing with adapt mode should use DecompressSub directly with
// the sub-algorithm recorded in the chunk's flags.
func (p *adaptPlugin) Decompress(src []byte, originalLen int) ([]byte, error) {
	return p.DecompressSub(p.lastSub, src, originalLen)
}

func (p *adaptPlugin) Stats() (uint64, uint64) {
	zi, zo := p.zlib.Stats()
	li, lo := p.lz4.Stats()
	return zi + li, zo + lo
}
