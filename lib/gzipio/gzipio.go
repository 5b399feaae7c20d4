// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package gzipio writes gzip output for the split pipeline: a
// chunk-at-a-time streaming encoder with an explicit finalize step,
// and the compress- and decompress-then-replace file operations the
// pgzip command and the chunk extractor share.
//
// Compression runs on pgzip, which cuts input into fixed-size blocks
// and compresses them on parallel goroutines. Because each block is
// compressed independently and emitted in order, the output bytes
// depend only on the input, the level, and the block size — never on
// goroutine scheduling — so identical inputs produce identical
// archives, which the split tests rely on.
package gzipio

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
)

// DefaultLevel is the compression level used when the caller does not
// choose one. It matches pgzip's and zlib's default.
const DefaultLevel = pgzip.DefaultCompression

// blockSize is the fixed pgzip block granularity. Part of the output
// format in effect: changing it changes every produced archive.
const blockSize = 512 << 10

// blocksInFlight bounds the blocks buffered for parallel compression.
// It caps encoder memory at roughly blockSize*blocksInFlight per
// writer; parallelism across files comes from the batch runner, so a
// modest per-writer depth is enough.
const blocksInFlight = 4

// Writer is a streaming gzip encoder. Bytes written accumulate into
// fixed-size blocks compressed in the background; Close flushes the
// final partial block and writes the gzip trailer. A Writer produces
// exactly one gzip member.
type Writer struct {
	w *pgzip.Writer
}

// NewWriter returns a Writer compressing to w at the given level.
// Level follows the gzip scale: 0 stores, 1 is fastest, 9 smallest;
// DefaultLevel picks the standard tradeoff.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	zw, err := pgzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("gzipio: level %d: %w", level, err)
	}
	if err := zw.SetConcurrency(blockSize, blocksInFlight); err != nil {
		return nil, fmt.Errorf("gzipio: configuring block size: %w", err)
	}
	return &Writer{w: zw}, nil
}

// Write queues p for compression. It never returns a short count
// without an error.
func (w *Writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Close finalizes the gzip member: the last partial block is
// compressed and the trailer (CRC32, length) written. The Writer is
// unusable afterward. Close does not close the underlying writer.
func (w *Writer) Close() error {
	return w.w.Close()
}

// CompressFile compresses path to path+".gz" and removes the original
// on success. The output is written to a temporary sibling first and
// renamed into place, so a crash or error never leaves a truncated
// .gz next to a deleted source. On error the original is untouched.
func CompressFile(path string, level int) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("gzipio: opening %s: %w", path, err)
	}
	defer in.Close()

	outPath := path + ".gz"
	tmpPath := outPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("gzipio: creating %s: %w", tmpPath, err)
	}

	fail := func(step string, err error) error {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("gzipio: %s %s: %w", step, path, err)
	}

	zw, err := NewWriter(out, level)
	if err != nil {
		return fail("compressing", err)
	}
	if _, err := io.Copy(zw, in); err != nil {
		return fail("compressing", err)
	}
	if err := zw.Close(); err != nil {
		return fail("finalizing", err)
	}
	if err := out.Close(); err != nil {
		return fail("closing output for", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("gzipio: renaming %s: %w", tmpPath, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("gzipio: removing original %s: %w", path, err)
	}
	return nil
}

// DecompressFile inflates a .gz file to the same path without the
// suffix and removes the archive on success, inverting CompressFile.
// Like CompressFile it writes to a temporary sibling and renames, so
// the archive survives any failure. Multi-member archives decompress
// in full. Returns an error if path does not end in ".gz".
func DecompressFile(path string) error {
	outPath := strings.TrimSuffix(path, ".gz")
	if outPath == path {
		return fmt.Errorf("gzipio: %s: not a .gz file", path)
	}

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("gzipio: opening %s: %w", path, err)
	}
	defer in.Close()

	tmpPath := outPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("gzipio: creating %s: %w", tmpPath, err)
	}

	fail := func(step string, err error) error {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("gzipio: %s %s: %w", step, path, err)
	}

	zr, err := pgzip.NewReader(in)
	if err != nil {
		return fail("reading", err)
	}
	if _, err := io.Copy(out, zr); err != nil {
		return fail("decompressing", err)
	}
	if err := zr.Close(); err != nil {
		return fail("finalizing", err)
	}
	if err := out.Close(); err != nil {
		return fail("closing output for", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("gzipio: renaming %s: %w", tmpPath, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("gzipio: removing archive %s: %w", path, err)
	}
	return nil
}
