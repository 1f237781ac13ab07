// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command pcompress implements the top-level driver of spec.md SS2 item
// 8 and the CLI surface of spec.md SS6: it parses the flat, single-dash
// flag set, opens the input/output files (or stdin/stdout in -p mode),
// and calls pipeline.Compress/pipeline.Decompress.
//
// Grounded on cmd/pbzip2/main.go's overall shape (signal-driven context
// cancellation via cmdutil.HandleSignals, openFileOrURL/createFile-style
// file helpers, errors.M error aggregation, progress bar wiring) but
// with cloudeng.io/cmdutil/subcmd's command-tree flag registration
// dropped in favor of the stdlib flag package -- see DESIGN.md for why:
// this CLI is one command with mutually exclusive -c/-d modes and a flat
// set of short flags, which a subcommand tree doesn't model, and flag
// natively accepts single-dash names.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"cloudeng.io/cmdutil"
	"cloudeng.io/errors"
	"github.com/sirupsen/logrus"

	"github.com/sehe/pcompress/checksum"
	"github.com/sehe/pcompress/cryptutil"
	"github.com/sehe/pcompress/dedupe"
	"github.com/sehe/pcompress/pipeline"
	"github.com/sehe/pcompress/stats"
	"github.com/sehe/pcompress/transform"
)

var log = logrus.New()

func main() {
	os.Exit(run(os.Args[1:]))
}

// run parses args, builds a pipeline.Options, and drives one compress or
// decompress pass, returning the process exit code spec.md SS6 specifies:
// 0 on success, 1 for any configuration, I/O, or integrity error.
func run(args []string) int {
	fs := flag.NewFlagSet("pcompress", flag.ContinueOnError)
	var (
		compressAlgo = fs.String("c", "", "compress with `algorithm` (zlib|lzma|lzmaMt|bzip2|lz4|none|adapt)")
		decompress   = fs.Bool("d", false, "decompress")
		sizeStr      = fs.String("s", "", "chunksize, suffixes k/m/g (default 5m)")
		level        = fs.Int("l", 6, "compression level 0..14")
		dedupeBlock  = fs.Int("B", 2, "average dedupe block size class 1..5 (4k/8k/16k/32k/64k)")
		threads      = fs.Int("t", runtime.GOMAXPROCS(-1), "thread count 1..256")
		pipeMode     = fs.Bool("p", false, "pipe mode: read stdin, write stdout")
		rabinDedupe  = fs.Bool("D", false, "Rabin (content-defined) dedupe")
		globalDedupe = fs.Bool("G", false, "global dedupe across all chunks")
		fixedDedupe  = fs.Bool("F", false, "fixed-block dedupe")
		similarity   = newCountFlag()
		disableRabin = fs.Bool("r", false, "disable Rabin split, chunk boundaries unaligned")
		lzpFlag      = fs.Bool("L", false, "enable LZP preprocessor")
		delta2Flag   = fs.Bool("P", false, "enable Delta-II preprocessor")
		cksumStr     = fs.String("S", "crc32", "chunk digest algorithm (crc32|sha256|xxhash)")
		encryptAlgo  = fs.String("e", "", "enable encryption: AES or SALSA20")
		pwFile       = fs.String("w", "", "password file")
		keyLen       = fs.Int("k", 32, "key length 16|32")
		allocStats   = fs.Bool("M", false, "show allocator stats")
		compStats    = fs.Bool("C", false, "show compression stats")
	)
	fs.Var(similarity, "E", "Rabin + delta similarity encoding (repeat -EE to raise the threshold)")
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: pcompress -c <algo>|-d [flags] infile [outfile]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	opts, pos, err := buildOptions(*compressAlgo, *decompress, *sizeStr, *level,
		*dedupeBlock, *threads, *pipeMode, *rabinDedupe, *globalDedupe, *fixedDedupe,
		similarity, *disableRabin, *lzpFlag, *delta2Flag, *cksumStr, *encryptAlgo,
		*pwFile, *keyLen, *allocStats, *compStats, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "pcompress: %v\n", err)
		fs.Usage()
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmdutil.HandleSignals(cancel, os.Interrupt, syscall.SIGTERM)

	var collector *stats.Collector
	if *allocStats || *compStats {
		collector = stats.New()
	}

	if err := dispatch(ctx, opts, pos, *decompress, collector); err != nil {
		log.WithError(err).Error("pcompress: run failed")
		fmt.Fprintf(os.Stderr, "pcompress: %v\n", err)
		return 1
	}

	if collector != nil {
		collector.Report(os.Stdout)
	}
	return 0
}

// countFlag implements flag.Value for the repeatable -E/-EE switch:
// spec.md SS6 "-E Rabin + delta (repeatable: -EE raises similarity
// threshold)".
type countFlag struct{ n int }

func newCountFlag() *countFlag      { return &countFlag{} }
func (c *countFlag) String() string { return strconv.Itoa(c.n) }
func (c *countFlag) Set(string) error {
	c.n++
	return nil
}
func (c *countFlag) IsBoolFlag() bool { return true }

func buildOptions(compressAlgo string, decompress bool, sizeStr string, level,
	dedupeBlock, threads int, pipeMode, rabinDedupe, globalDedupe, fixedDedupe bool,
	similarity *countFlag, disableRabin, lzp, delta2 bool, cksumStr, encryptAlgo,
	pwFile string, keyLen int, allocStats, compStats bool, positional []string) (pipeline.Options, []string, error) {

	if compressAlgo == "" && !decompress {
		return pipeline.Options{}, nil, fmt.Errorf("exactly one of -c <algo> or -d is required")
	}
	if compressAlgo != "" && decompress {
		return pipeline.Options{}, nil, fmt.Errorf("-c and -d are mutually exclusive")
	}
	if fixedDedupe && rabinDedupe {
		return pipeline.Options{}, nil, fmt.Errorf("-F and -D are mutually exclusive")
	}
	if globalDedupe && pipeMode {
		return pipeline.Options{}, nil, fmt.Errorf("-G global dedupe is incompatible with -p pipe mode")
	}

	minArgs := 1
	if pipeMode {
		minArgs = 0
	}
	if len(positional) < minArgs {
		return pipeline.Options{}, nil, fmt.Errorf("missing input filename")
	}

	opts := pipeline.Options{
		Algorithm:            transform.Name(compressAlgo),
		Level:                level,
		Threads:              threads,
		DedupeBlock:          dedupe.BlockSizeClass(dedupeBlock),
		GlobalDedupe:         globalDedupe,
		DisableRabin:         disableRabin,
		LZP:                  lzp,
		Delta2:               delta2,
		PipeMode:             pipeMode,
		ShowAllocatorStats:   allocStats,
		ShowCompressionStats: compStats,
		MaxRAM:               systemRAM(),
	}

	switch {
	case rabinDedupe:
		opts.Dedupe = pipeline.DedupeRabin
	case fixedDedupe:
		opts.Dedupe = pipeline.DedupeFixed
	}
	if similarity.n > 0 {
		opts.Similarity = dedupe.Similarity{
			Enabled:  true,
			Deep:     similarity.n > 1,
			MinMatch: 16,
		}
		// -E implies Rabin dedupe when no dedupe mode was chosen.
		if opts.Dedupe == pipeline.DedupeNone {
			opts.Dedupe = pipeline.DedupeRabin
		}
	}

	if sizeStr != "" {
		size, err := parseSize(sizeStr)
		if err != nil {
			return pipeline.Options{}, nil, err
		}
		opts.ChunkSize = size
	}

	cksum, err := checksum.Parse(cksumStr)
	if err != nil {
		return pipeline.Options{}, nil, err
	}
	opts.Checksum = cksum

	if encryptAlgo != "" {
		opts.Encrypt = true
		opts.CryptoAlgo = cryptutil.Algorithm(strings.ToUpper(encryptAlgo))
		opts.KeyLen = keyLen
		if pipeMode && pwFile == "" {
			return pipeline.Options{}, nil, fmt.Errorf("-p pipe mode requires -w when encrypting")
		}
		if pwFile != "" {
			pw, err := cryptutil.ReadPasswordFile(pwFile)
			if err != nil {
				return pipeline.Options{}, nil, fmt.Errorf("reading password file %s: %w", pwFile, err)
			}
			opts.Password = pw
		}
	}

	if err := opts.Validate(); err != nil {
		return pipeline.Options{}, nil, err
	}
	return opts, positional, nil
}

// parseSize accepts the -s flag's k/m/g suffixed sizes (spec.md SS6).
func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid -s chunksize %q: %w", s, err)
	}
	return n * mult, nil
}

// dispatch opens the input/output streams (stdin/stdout for -p, files
// otherwise) and runs the compress or decompress driver. On compress, a
// failure unlinks the partial output file, per spec.md SS7 I/O error
// handling ("on compress, the temp file is unlinked").
func dispatch(ctx context.Context, opts pipeline.Options, positional []string, decompress bool, collector *stats.Collector) error {
	errs := &errors.M{}

	if opts.PipeMode {
		run := &pipeline.Run{Stats: collector}
		if decompress {
			return pipeline.Decompress(ctx, os.Stdin, os.Stdout, opts, run)
		}
		in := os.Stdin
		var size int64 = -1
		if info, statErr := in.Stat(); statErr == nil {
			size = info.Size()
		}
		return pipeline.Compress(ctx, newProgressReader(in, size), os.Stdout, opts, run)
	}

	inName := positional[0]
	in, err := os.Open(inName)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inName, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", inName, err)
	}

	outName := outputName(positional, inName, decompress)
	tmpName := outName + ".tmp"
	out, err := os.Create(tmpName)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpName, err)
	}

	run := &pipeline.Run{Stats: collector}
	var runErr error
	if decompress {
		runErr = pipeline.Decompress(ctx, in, out, opts, run)
	} else {
		runErr = pipeline.Compress(ctx, newProgressReader(in, info.Size()), out, opts, run)
	}

	errs.Append(runErr)
	errs.Append(out.Close())
	if runErr != nil {
		errs.Append(os.Remove(tmpName))
		return errs.Err()
	}
	if err := os.Rename(tmpName, outName); err != nil {
		errs.Append(err)
	}
	return errs.Err()
}

// outputName derives the default output filename spec.md SS8 scenario 1
// exercises ("pcompress -c lz4 -s 1m a" writes "a.pz"): compress appends
// ".pz" to the input name; decompress strips it if present. An explicit
// second positional argument always wins.
func outputName(positional []string, inName string, decompress bool) string {
	if len(positional) > 1 {
		return positional[1]
	}
	if decompress {
		if strings.HasSuffix(inName, ".pz") {
			return strings.TrimSuffix(inName, ".pz")
		}
		return inName + ".out"
	}
	return inName + ".pz"
}
