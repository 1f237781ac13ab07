// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v2"
	"golang.org/x/crypto/ssh/terminal"
)

// countingReader wraps an io.Reader and reports every Read to a
// progressbar.ProgressBar, mirroring the teacher's progressBar goroutine
// (cmd/pbzip2/main.go's progressBar/bzip2.Progress channel) but adapted to
// this pipeline's plain io.Reader/io.Writer driver contract (pipeline.go
// has no per-chunk progress channel of its own to subscribe to).
type countingReader struct {
	r   io.Reader
	bar *progressbar.ProgressBar
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.bar != nil {
		c.bar.Add(n)
	}
	return n, err
}

// newProgressReader wraps r in a progress bar of the given total size,
// always writing to stderr (so output sent to stdout never interleaves
// bar frames with archive bytes).
func newProgressReader(r io.Reader, size int64) io.Reader {
	if size <= 0 {
		return r
	}
	out := os.Stderr
	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		out = os.Stderr
	}
	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetBytes64(size),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetPredictTime(true))
	bar.RenderBlank()
	return &countingReader{r: r, bar: bar}
}
