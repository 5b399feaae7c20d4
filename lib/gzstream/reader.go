// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package gzstream

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tracekit/tracekit/lib/catalog"
	"github.com/tracekit/tracekit/lib/lineio"
)

// Options configures a Reader.
type Options struct {
	// Logger receives catalog pool messages. Nil discards them.
	Logger *slog.Logger

	// PoolSize bounds concurrent catalog read connections. Zero picks
	// the sqlitepool default.
	PoolSize int

	// ReadRetries is how many times a failed raw archive read is
	// repeated before the stream fails. Negative selects
	// lineio.DefaultReadRetries; zero disables retries.
	ReadRetries int

	// BufferSize is the per-stream decode buffer. Zero selects
	// lineio.DefaultBufferSize.
	BufferSize int
}

// Reader is an open archive and its catalog entry. It validates the
// pairing once at Open and then serves any number of independent
// ranged streams. Safe for concurrent use; the streams it returns are
// not.
type Reader struct {
	archivePath string
	cat         *catalog.Catalog
	file        catalog.File
	retries     int
	bufSize     int
}

// Open pairs an archive with its catalog. It fails with
// [catalog.ErrIndexMissing] when the catalog database or the
// archive's entry in it does not exist, and with
// [catalog.ErrIndexStale] when the entry no longer matches the
// archive on disk (size, modification time, or schema version).
func Open(ctx context.Context, archivePath, catalogPath string, opts Options) (*Reader, error) {
	// Catalogs key archives by absolute path; resolve before lookup so
	// relative invocations find the entry the indexer wrote.
	archivePath, err := filepath.Abs(archivePath)
	if err != nil {
		return nil, fmt.Errorf("gzstream: resolving %s: %w", archivePath, err)
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("gzstream: archive %s: %w", archivePath, err)
	}
	if _, err := os.Stat(catalogPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no catalog at %s", catalog.ErrIndexMissing, catalogPath)
		}
		return nil, fmt.Errorf("gzstream: catalog %s: %w", catalogPath, err)
	}

	cat, err := catalog.Open(catalogPath, catalog.Options{
		Logger:   opts.Logger,
		PoolSize: opts.PoolSize,
	})
	if err != nil {
		return nil, err
	}

	file, err := cat.FileByPath(ctx, archivePath)
	if err != nil {
		cat.Close()
		return nil, err
	}
	if err := checkFresh(file, info); err != nil {
		cat.Close()
		return nil, err
	}

	retries := opts.ReadRetries
	if retries < 0 {
		retries = lineio.DefaultReadRetries
	}
	return &Reader{
		archivePath: archivePath,
		cat:         cat,
		file:        file,
		retries:     retries,
		bufSize:     opts.BufferSize,
	}, nil
}

// checkFresh compares the catalog entry against the archive on disk.
func checkFresh(file catalog.File, info os.FileInfo) error {
	if file.SchemaVersion != catalog.SchemaVersion {
		return fmt.Errorf("%w: catalog schema version %d, want %d",
			catalog.ErrIndexStale, file.SchemaVersion, catalog.SchemaVersion)
	}
	if file.SizeCompressed != info.Size() {
		return fmt.Errorf("%w: archive is %d bytes, index built over %d",
			catalog.ErrIndexStale, info.Size(), file.SizeCompressed)
	}
	if file.ModTime.Unix() != info.ModTime().Unix() {
		return fmt.Errorf("%w: archive modified at %d, index built over %d",
			catalog.ErrIndexStale, info.ModTime().Unix(), file.ModTime.Unix())
	}
	return nil
}

// Close releases the catalog connection pool. Streams already
// produced keep working; they hold no catalog state after
// construction.
func (r *Reader) Close() error {
	return r.cat.Close()
}

// NumLines returns the archive's line count. A final line without a
// trailing newline counts.
func (r *Reader) NumLines() int64 {
	return r.file.NumLines
}

// NumBytes returns the archive's decompressed size.
func (r *Reader) NumBytes() int64 {
	return r.file.SizeDecompressed
}

// File returns the archive's catalog row.
func (r *Reader) File() catalog.File {
	return r.file
}

// Checkpoints returns every resume point recorded for the archive.
func (r *Reader) Checkpoints(ctx context.Context) ([]catalog.Checkpoint, error) {
	return r.cat.Checkpoints(ctx, r.file.ID)
}

// EstimateLinesInRange predicts how many lines start in the byte
// range [startByte, endByte) from the archive's overall line density,
// biased 10% high so callers can use it to size allocations.
func (r *Reader) EstimateLinesInRange(startByte, endByte int64) int64 {
	if r.file.SizeDecompressed == 0 || endByte <= startByte {
		return 0
	}
	density := float64(r.file.NumLines) / float64(r.file.SizeDecompressed)
	return int64(float64(endByte-startByte)*density*1.10) + 1
}

// Bytes returns a stream of the raw decompressed bytes of rng.
func (r *Reader) Bytes(ctx context.Context, rng Range) (*ByteStream, error) {
	switch rng.kind {
	case rangeBytes, rangeAll:
		start, end, err := r.byteBounds(rng)
		if err != nil {
			return nil, err
		}
		if start >= end {
			return &ByteStream{done: true}, nil
		}
		src, err := r.sourceAtByte(ctx, start)
		if err != nil {
			return nil, err
		}
		return &ByteStream{src: src, remaining: end - start, linesLeft: -1}, nil

	case rangeLines:
		start, end, err := r.lineBounds(rng)
		if err != nil {
			return nil, err
		}
		if start == 0 {
			return &ByteStream{done: true}, nil
		}
		src, err := r.sourceAtLine(ctx, start)
		if err != nil {
			return nil, err
		}
		return &ByteStream{src: src, remaining: -1, linesLeft: end - start + 1}, nil

	default:
		return nil, fmt.Errorf("%w: unknown range kind", lineio.ErrInvalidRange)
	}
}

// Lines returns a stream yielding one parsed line per call.
func (r *Reader) Lines(ctx context.Context, rng Range) (*LineStream, error) {
	ls, err := r.lineSource(ctx, rng)
	if err != nil {
		return nil, err
	}
	return &LineStream{ls: ls}, nil
}

// MultiLines returns a stream yielding batches of parsed lines.
func (r *Reader) MultiLines(ctx context.Context, rng Range) (*MultiLineStream, error) {
	ls, err := r.lineSource(ctx, rng)
	if err != nil {
		return nil, err
	}
	return &MultiLineStream{ls: ls}, nil
}

// LineBytes returns a stream yielding one raw line per call into a
// caller-provided buffer.
func (r *Reader) LineBytes(ctx context.Context, rng Range) (*LineBytesStream, error) {
	ls, err := r.lineSource(ctx, rng)
	if err != nil {
		return nil, err
	}
	return &LineBytesStream{ls: ls}, nil
}

// MultiLineBytes returns a stream filling a caller-provided buffer
// with complete raw lines.
func (r *Reader) MultiLineBytes(ctx context.Context, rng Range) (*MultiLineBytesStream, error) {
	ls, err := r.lineSource(ctx, rng)
	if err != nil {
		return nil, err
	}
	return &MultiLineBytesStream{ls: ls}, nil
}

// byteBounds validates and clamps a byte-addressed range.
func (r *Reader) byteBounds(rng Range) (start, end int64, err error) {
	if rng.kind == rangeAll {
		return 0, r.file.SizeDecompressed, nil
	}
	if rng.start < 0 || rng.end < rng.start {
		return 0, 0, fmt.Errorf("%w: %s", lineio.ErrInvalidRange, rng)
	}
	end = rng.end
	if end > r.file.SizeDecompressed {
		end = r.file.SizeDecompressed
	}
	return rng.start, end, nil
}

// lineBounds validates a line-addressed range against the archive.
// start == 0 means the range is empty (an All range over an empty
// archive).
func (r *Reader) lineBounds(rng Range) (start, end int64, err error) {
	if rng.kind == rangeAll {
		if r.file.NumLines == 0 {
			return 0, 0, nil
		}
		return 1, r.file.NumLines, nil
	}
	if rng.start < 1 || rng.end < rng.start || rng.end > r.file.NumLines {
		return 0, 0, fmt.Errorf("%w: %s of %d lines", lineio.ErrInvalidRange, rng, r.file.NumLines)
	}
	return rng.start, rng.end, nil
}

// lineSource builds the shared engine behind the four line-oriented
// stream kinds.
func (r *Reader) lineSource(ctx context.Context, rng Range) (*lineSource, error) {
	switch rng.kind {
	case rangeLines, rangeAll:
		start, end, err := r.lineBounds(rng)
		if err != nil {
			return nil, err
		}
		if start == 0 {
			return &lineSource{done: true}, nil
		}
		src, err := r.sourceAtLine(ctx, start)
		if err != nil {
			return nil, err
		}
		return &lineSource{src: src, cur: start, linesLeft: end - start + 1, endOff: -1}, nil

	case rangeBytes:
		start, end, err := r.byteBounds(rng)
		if err != nil {
			return nil, err
		}
		if start >= end {
			return &lineSource{done: true}, nil
		}
		src, first, err := r.sourceAtFirstLineIn(ctx, start)
		if err != nil {
			return nil, err
		}
		if src == nil {
			return &lineSource{done: true}, nil
		}
		return &lineSource{src: src, cur: first, linesLeft: -1, endOff: end}, nil

	default:
		return nil, fmt.Errorf("%w: unknown range kind", lineio.ErrInvalidRange)
	}
}
