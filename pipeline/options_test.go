// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/sehe/pcompress/pipeline"
)

func TestOptionsValidateAcceptsZeroValue(t *testing.T) {
	if err := (pipeline.Options{}).Validate(); err != nil {
		t.Fatalf("Validate() on zero-value Options = %v, want nil", err)
	}
}

func TestOptionsValidatePipeModeWithGlobalDedupe(t *testing.T) {
	opts := pipeline.Options{PipeMode: true, GlobalDedupe: true, Dedupe: pipeline.DedupeFixed}
	if err := opts.Validate(); !errors.Is(err, pipeline.ErrIncompatibleOptions) {
		t.Fatalf("Validate() = %v, want ErrIncompatibleOptions", err)
	}
}

func TestOptionsValidateGlobalDedupeRequiresDedupeMode(t *testing.T) {
	opts := pipeline.Options{GlobalDedupe: true, Dedupe: pipeline.DedupeNone}
	if err := opts.Validate(); !errors.Is(err, pipeline.ErrIncompatibleOptions) {
		t.Fatalf("Validate() = %v, want ErrIncompatibleOptions", err)
	}
}

func TestOptionsValidatePipeModeEncryptRequiresPassword(t *testing.T) {
	opts := pipeline.Options{PipeMode: true, Encrypt: true}
	if err := opts.Validate(); !errors.Is(err, pipeline.ErrIncompatibleOptions) {
		t.Fatalf("Validate() = %v, want ErrIncompatibleOptions", err)
	}
	opts.Password = []byte("secret")
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate() with password set = %v, want nil", err)
	}
}

func TestOptionsValidateLevelRange(t *testing.T) {
	if err := (pipeline.Options{Level: -1}).Validate(); !errors.Is(err, pipeline.ErrBadLevel) {
		t.Fatalf("Validate(level=-1) = %v, want ErrBadLevel", err)
	}
	if err := (pipeline.Options{Level: pipeline.MaxLevel + 1}).Validate(); !errors.Is(err, pipeline.ErrBadLevel) {
		t.Fatalf("Validate(level=max+1) = %v, want ErrBadLevel", err)
	}
	if err := (pipeline.Options{Level: pipeline.MaxLevel}).Validate(); err != nil {
		t.Fatalf("Validate(level=max) = %v, want nil", err)
	}
}

func TestOptionsValidateChunkSizeBelowMinimum(t *testing.T) {
	opts := pipeline.Options{ChunkSize: pipeline.MinChunkSize - 1}
	if err := opts.Validate(); !errors.Is(err, pipeline.ErrBadChunksize) {
		t.Fatalf("Validate() = %v, want ErrBadChunksize", err)
	}
}

func TestOptionsValidateChunkSizeAgainstRAMCeiling(t *testing.T) {
	totalRAM := uint64(1 << 30)
	opts := pipeline.Options{ChunkSize: totalRAM, MaxRAM: totalRAM}
	if err := opts.Validate(); !errors.Is(err, pipeline.ErrBadChunksize) {
		t.Fatalf("Validate() with chunksize == all of RAM = %v, want ErrBadChunksize", err)
	}
	opts.ChunkSize = totalRAM / 2
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate() with chunksize == 50%% of RAM = %v, want nil", err)
	}
}

func TestNThreadsClampsToNumCPU(t *testing.T) {
	opts := pipeline.Options{Threads: runtime.NumCPU() * 10}
	if got := opts.NThreads(); got != runtime.NumCPU() {
		t.Errorf("NThreads() = %d, want %d (NumCPU)", got, runtime.NumCPU())
	}
}

func TestNThreadsDefaultsWhenUnset(t *testing.T) {
	opts := pipeline.Options{Threads: 0}
	if got := opts.NThreads(); got < 1 {
		t.Errorf("NThreads() = %d, want >= 1", got)
	}
}

func TestNThreadsRespectsExplicitValue(t *testing.T) {
	if runtime.NumCPU() < 2 {
		t.Skip("host has fewer than 2 CPUs")
	}
	opts := pipeline.Options{Threads: 2}
	if got := opts.NThreads(); got != 2 {
		t.Errorf("NThreads() = %d, want 2", got)
	}
}
