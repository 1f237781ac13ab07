// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package preproc

import "fmt"

// delta2Encode applies second-order numeric differencing: each span-wide
// element is replaced by the difference of differences against its
// predecessor (spec.md glossary: "Delta-II"), intended for tables of
// numerical values (audio samples, sensor readings, sorted integer
// columns) where first differences are themselves locally smooth.
//
// Only span-aligned data (1, 2, 4, or 8 bytes) is handled; this mirrors
// spec.md SS1's framing of Delta-II as a narrow, external-collaborator
// contract rather than a general transform. ok=false means the preceding
// stage's output isn't span-aligned and the stage is skipped for this
// chunk (spec.md SS7.5: "Preprocess failures -- silent: if a
// preprocessor cannot compress, it is simply disabled for that chunk").
func delta2Encode(src []byte, span int) ([]byte, bool) {
	if span != 1 && span != 2 && span != 4 && span != 8 {
		return nil, false
	}
	if len(src)%span != 0 || len(src) < span*3 {
		return nil, false
	}
	out := make([]byte, len(src))
	copy(out, src[:span*2])

	prevDelta := make([]byte, span)
	subSpan(prevDelta, src[span:span*2], src[0:span])

	for i := span * 2; i+span <= len(src); i += span {
		delta := make([]byte, span)
		subSpan(delta, src[i:i+span], src[i-span:i])

		d2 := make([]byte, span)
		subSpan(d2, delta, prevDelta)
		copy(out[i:i+span], d2)

		prevDelta = delta
	}
	return out, true
}

func delta2Decode(src []byte) ([]byte, error) {
	// The span used on encode isn't recorded: the framing records only
	// "Delta-II ran", not which span. Decoding always assumes span 4,
	// the Delta2Span every plugin that enables Delta-II reports (see
	// transform.Props.Delta2Span); a stream encoded with another span is
	// not decoded correctly.
	span := 4
	if len(src)%span != 0 {
		return nil, fmt.Errorf("delta2: stream length %d not a multiple of span %d", len(src), span)
	}
	if len(src) < span*2 {
		return append([]byte(nil), src...), nil
	}

	out := make([]byte, len(src))
	copy(out, src[:span*2])

	prevDelta := make([]byte, span)
	subSpan(prevDelta, out[span:span*2], out[0:span])

	for i := span * 2; i+span <= len(src); i += span {
		d2 := src[i : i+span]
		delta := make([]byte, span)
		addSpan(delta, d2, prevDelta)

		val := make([]byte, span)
		addSpan(val, delta, out[i-span:i])
		copy(out[i:i+span], val)

		prevDelta = delta
	}
	return out, nil
}

// subSpan/addSpan treat a span-wide byte slice as a big-endian unsigned
// integer and perform wrap-around subtraction/addition, so the transform
// is its own exact inverse regardless of overflow.
func subSpan(dst, a, b []byte) {
	borrow := 0
	for i := len(a) - 1; i >= 0; i-- {
		v := int(a[i]) - int(b[i]) - borrow
		if v < 0 {
			v += 256
			borrow = 1
		} else {
			borrow = 0
		}
		dst[i] = byte(v)
	}
}

func addSpan(dst, a, b []byte) {
	carry := 0
	for i := len(a) - 1; i >= 0; i-- {
		v := int(a[i]) + int(b[i]) + carry
		if v > 255 {
			v -= 256
			carry = 1
		} else {
			carry = 0
		}
		dst[i] = byte(v)
	}
}
