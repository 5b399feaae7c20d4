// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package indexer builds catalogs over gzip trace archives in one
// decompression pass. The scan walks the archive through the
// checkpointing inflater, counting lines and recording three kinds of
// rows as it goes: resume checkpoints at DEFLATE block boundaries
// (one per checkpoint interval), sparse line-map rows (one per line
// stride, plus anchors for line 1, the final line, and every
// checkpoint's line), and finally the file row whose presence marks
// the build complete. The whole build is one catalog transaction; a
// crash leaves either the previous index or none.
package indexer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/tracekit/tracekit/lib/catalog"
	"github.com/tracekit/tracekit/lib/lineio"
	"github.com/tracekit/tracekit/lib/zseek"
)

const (
	// DefaultCheckpointSize is the decompressed-byte spacing between
	// resume checkpoints when the caller does not choose one. Each
	// ranged read costs at most this much extra decompression, and
	// each checkpoint costs one stored 32 KiB window.
	DefaultCheckpointSize = 32 << 20

	// DefaultLineStride is the line-map granularity: every how many
	// lines a line-start row is stored.
	DefaultLineStride = 4096
)

// Options configures a build.
type Options struct {
	// CheckpointSize is the decompressed-byte spacing between
	// checkpoints. Zero selects DefaultCheckpointSize.
	CheckpointSize int64

	// LineStride is the line map granularity. Zero selects
	// DefaultLineStride.
	LineStride int64

	// ForceRebuild rebuilds even when a matching index exists.
	ForceRebuild bool

	// Logger receives build progress. Nil discards it.
	Logger *slog.Logger
}

// Result reports one completed (or skipped) build.
type Result struct {
	ArchivePath  string
	CatalogPath  string
	NumLines     int64
	NumBytes     int64 // decompressed
	Checkpoints  int64
	AlreadyBuilt bool
}

// CatalogPath returns where the catalog for an archive lives. With an
// index directory, catalogs are collected there under the archive's
// base name plus a short path hash, so same-named archives from
// different directories cannot collide. With none, the catalog sits
// next to the archive.
func CatalogPath(indexDir, archivePath string) string {
	if indexDir == "" {
		return archivePath + ".idx"
	}
	abs, err := filepath.Abs(archivePath)
	if err != nil {
		abs = archivePath
	}
	sum := blake3.Sum256([]byte(abs))
	return filepath.Join(indexDir, fmt.Sprintf("%s-%x.idx", filepath.Base(archivePath), sum[:4]))
}

// Build indexes one gzip archive into the catalog at catalogPath,
// creating the catalog database if needed. With ForceRebuild unset, a
// catalog entry matching the archive on disk (size, mtime, checkpoint
// size, schema version) short-circuits the scan and reports
// AlreadyBuilt; any mismatch rebuilds in place.
//
// Failures leave the catalog as it was: all rows land in one
// transaction committed after the scan validates the gzip trailer.
func Build(ctx context.Context, archivePath, catalogPath string, opts Options) (Result, error) {
	if opts.CheckpointSize <= 0 {
		opts.CheckpointSize = DefaultCheckpointSize
	}
	if opts.LineStride <= 0 {
		opts.LineStride = DefaultLineStride
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	abs, err := filepath.Abs(archivePath)
	if err != nil {
		return Result{}, fmt.Errorf("indexer: resolving %s: %w", archivePath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Result{}, fmt.Errorf("indexer: archive %s: %w", archivePath, err)
	}

	cat, err := catalog.Open(catalogPath, catalog.Options{Logger: logger, PoolSize: 1})
	if err != nil {
		return Result{}, err
	}
	defer cat.Close()

	if !opts.ForceRebuild {
		existing, err := cat.FileByPath(ctx, abs)
		if err == nil && matches(existing, info, opts.CheckpointSize) {
			return Result{
				ArchivePath:  abs,
				CatalogPath:  catalogPath,
				NumLines:     existing.NumLines,
				NumBytes:     existing.SizeDecompressed,
				Checkpoints:  countCheckpoints(ctx, cat, existing.ID),
				AlreadyBuilt: true,
			}, nil
		}
	}

	res, err := scanArchive(ctx, cat, abs, info, opts, logger)
	if err != nil {
		return Result{}, err
	}
	res.CatalogPath = catalogPath
	return res, nil
}

func matches(f catalog.File, info os.FileInfo, checkpointSize int64) bool {
	return f.SchemaVersion == catalog.SchemaVersion &&
		f.SizeCompressed == info.Size() &&
		f.ModTime.Unix() == info.ModTime().Unix() &&
		f.CheckpointSize == checkpointSize
}

func countCheckpoints(ctx context.Context, cat *catalog.Catalog, fileID int64) int64 {
	cks, err := cat.Checkpoints(ctx, fileID)
	if err != nil {
		return 0
	}
	return int64(len(cks))
}

// scanArchive is the single-pass build: decompress, count, checkpoint,
// commit.
func scanArchive(ctx context.Context, cat *catalog.Catalog, abs string, info os.FileInfo, opts Options, logger *slog.Logger) (Result, error) {
	f, err := os.Open(abs)
	if err != nil {
		return Result{}, fmt.Errorf("indexer: opening %s: %w", abs, err)
	}
	defer f.Close()
	lineio.AdviseSequential(f)

	// The fingerprint hashes every compressed byte. Feeding the
	// scanner through a tee costs nothing extra: the same read pass
	// serves both.
	fingerprinter := blake3.New()
	tee := io.TeeReader(f, fingerprinter)

	sc, err := zseek.NewScanner(tee)
	if err != nil {
		return Result{}, fmt.Errorf("indexer: %s: %w", abs, err)
	}

	build, err := cat.BeginBuild(ctx, abs)
	if err != nil {
		return Result{}, err
	}
	defer build.Rollback()

	if err := build.AddCheckpoint(catalog.Checkpoint{
		Index:      0,
		LineNumber: 1,
		Snapshot:   sc.InitialSnapshot(),
	}); err != nil {
		return Result{}, err
	}

	var (
		newlines      int64 // completed lines so far
		curLineStart  int64 // where the open line (newlines+1) began
		prevLineStart int64 // where line `newlines` began
		lastByte      byte
		lastCkptOff   int64
		ckptCount     int64 = 1
		anchorPending bool // a mid-line checkpoint awaits its line's start
		buf                = make([]byte, 256<<10)
	)

	for {
		n, readErr := sc.Read(buf)
		base := sc.Decompressed() - int64(n)
		for i := 0; i < n; i++ {
			if buf[i] != '\n' {
				continue
			}
			q := base + int64(i)
			newlines++
			prevLineStart = curLineStart
			curLineStart = q + 1
			opened := newlines + 1
			if anchorPending {
				if err := build.AddLine(opened, curLineStart); err != nil {
					return Result{}, err
				}
				anchorPending = false
			} else if (opened-1)%opts.LineStride == 0 {
				if err := build.AddLine(opened, curLineStart); err != nil {
					return Result{}, err
				}
			}
		}
		if n > 0 {
			lastByte = buf[n-1]
		}

		if sc.AtBoundary() && sc.Decompressed()-lastCkptOff >= opts.CheckpointSize {
			off := sc.Decompressed()
			line := newlines + 1
			atLineStart := off == 0 || lastByte == '\n'
			if !atLineStart {
				line = newlines + 2
			}
			if err := build.AddCheckpoint(catalog.Checkpoint{
				Index:           ckptCount,
				DecompressedOff: off,
				LineNumber:      line,
				Snapshot:        sc.Snapshot(),
			}); err != nil {
				return Result{}, err
			}
			// Guarantee a line map row at the checkpoint's line so
			// ranged reads can always walk from a known line start.
			if atLineStart {
				if err := build.AddLine(line, off); err != nil {
					return Result{}, err
				}
			} else {
				anchorPending = true
			}
			ckptCount++
			lastCkptOff = off
			logger.Debug("checkpoint recorded",
				"archive", abs, "index", ckptCount-1, "offset", off, "line", line)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{}, fmt.Errorf("indexer: scanning %s: %w", abs, readErr)
		}
	}

	numBytes := sc.Decompressed()
	var numLines int64
	if numBytes > 0 {
		numLines = newlines
		if lastByte != '\n' {
			numLines++
		}
	}

	// Anchor rows the stride may have missed: the first line and the
	// last. Duplicates are ignored by the build.
	if numLines > 0 {
		if err := build.AddLine(1, 0); err != nil {
			return Result{}, err
		}
		finalStart := curLineStart
		if lastByte == '\n' {
			finalStart = prevLineStart
		}
		if err := build.AddLine(numLines, finalStart); err != nil {
			return Result{}, err
		}
	}

	// Hash any compressed bytes past the first member so the
	// fingerprint always covers the whole file.
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return Result{}, fmt.Errorf("indexer: fingerprinting %s: %w", abs, err)
	}

	if err := build.Commit(catalog.File{
		Path:             abs,
		SizeCompressed:   info.Size(),
		SizeDecompressed: numBytes,
		NumLines:         numLines,
		CheckpointSize:   opts.CheckpointSize,
		ModTime:          info.ModTime(),
		Fingerprint:      fingerprinter.Sum(nil),
	}); err != nil {
		return Result{}, err
	}

	logger.Info("index built",
		"archive", abs,
		"lines", numLines,
		"bytes", numBytes,
		"checkpoints", ckptCount,
	)
	return Result{
		ArchivePath: abs,
		NumLines:    numLines,
		NumBytes:    numBytes,
		Checkpoints: ckptCount,
	}, nil
}
