// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package splitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tracekit/tracekit/lib/batch"
	"github.com/tracekit/tracekit/lib/indexer"
	"github.com/tracekit/tracekit/lib/lineio"
	"github.com/tracekit/tracekit/lib/tracejson"
)

// FileMetadata describes one input trace file after the collect
// phase. The planner consumes these; plan files persist them. The
// json tags name the fields in both the CBOR plan encoding and
// `tracekit plan --json` output.
type FileMetadata struct {
	// Path is the absolute path of the trace file.
	Path string `json:"path"`

	// CatalogPath is the line index backing Path, or "" for plain
	// (uncompressed) files, which need no index.
	CatalogPath string `json:"catalog_path,omitempty"`

	// SizeMB is the file's planning weight in MiB: the on-disk size
	// for archives, the summed size of valid event lines for plain
	// files.
	SizeMB float64 `json:"size_mb"`

	// SizeBytes is the decompressed byte length of the file. Byte
	// offsets in ChunkSpecs are interpolated against it.
	SizeBytes int64 `json:"size_bytes"`

	// StartLine and EndLine bound the file's line span, 1-based
	// inclusive. EndLine is zero for an empty file.
	StartLine int64 `json:"start_line"`
	EndLine   int64 `json:"end_line"`

	// ValidEvents counts the lines that carry events: exact for plain
	// files, EndLine-2 (the array wrapper lines) for archives.
	ValidEvents int64 `json:"valid_events"`

	// SizePerLine is SizeMB / ValidEvents, the planner's estimate of
	// one event's weight.
	SizePerLine float64 `json:"size_per_line"`

	// Success is false when collection failed; Error says why. Failed
	// files are reported but never planned.
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CollectOptions configures the collect phase.
type CollectOptions struct {
	// IndexDir is where archive indexes are written. Empty places
	// each index next to its archive.
	IndexDir string

	// CheckpointSize and LineStride tune index construction. Zero
	// selects the indexer defaults.
	CheckpointSize int64
	LineStride     int64

	// ForceRebuild reindexes archives even when a fresh index exists.
	ForceRebuild bool

	// Threads bounds the worker pool. Zero or negative selects
	// all cores.
	Threads int

	// Logger receives per-file progress. Nil discards it.
	Logger *slog.Logger
}

// Collect gathers FileMetadata for every path, indexing gzip archives
// as a side effect. Results are in input order; a file that cannot be
// read or indexed yields a metadata entry with Success=false rather
// than failing the batch.
func Collect(ctx context.Context, paths []string, opts CollectOptions) []FileMetadata {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	results := batch.Map(ctx, opts.Threads, paths, func(ctx context.Context, path string) (FileMetadata, error) {
		return collectOne(ctx, path, opts, logger)
	})

	metadata := make([]FileMetadata, len(results))
	for i, res := range results {
		if res.Err != nil {
			metadata[i] = FileMetadata{Path: paths[i], Error: res.Err.Error()}
			logger.Warn("trace metadata collection failed", "path", paths[i], "error", res.Err)
			continue
		}
		metadata[i] = res.Value
	}
	return metadata
}

func collectOne(ctx context.Context, path string, opts CollectOptions, logger *slog.Logger) (FileMetadata, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileMetadata{}, err
	}
	if strings.HasSuffix(abs, ".gz") {
		return collectArchive(ctx, abs, opts, logger)
	}
	return collectPlain(ctx, abs, logger)
}

// collectArchive indexes the archive (a no-op when a fresh index
// exists) and reads the line totals from the build result. The event
// count is an estimate: every line except the two array wrapper lines
// is assumed to be an event. Extraction filters exactly, so the
// estimate only steers chunk sizing.
func collectArchive(ctx context.Context, path string, opts CollectOptions, logger *slog.Logger) (FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMetadata{}, err
	}
	catalogPath := indexer.CatalogPath(opts.IndexDir, path)
	built, err := indexer.Build(ctx, path, catalogPath, indexer.Options{
		CheckpointSize: opts.CheckpointSize,
		LineStride:     opts.LineStride,
		ForceRebuild:   opts.ForceRebuild,
		Logger:         logger,
	})
	if err != nil {
		return FileMetadata{}, fmt.Errorf("indexing %s: %w", path, err)
	}

	meta := FileMetadata{
		Path:        path,
		CatalogPath: built.CatalogPath,
		SizeMB:      mib(info.Size()),
		SizeBytes:   built.NumBytes,
		EndLine:     built.NumLines,
		ValidEvents: max(built.NumLines-2, 0),
		Success:     true,
	}
	if meta.EndLine > 0 {
		meta.StartLine = 1
	}
	if meta.ValidEvents > 0 {
		meta.SizePerLine = meta.SizeMB / float64(meta.ValidEvents)
	}
	logger.Debug("collected archive metadata",
		"path", path, "lines", meta.EndLine, "events", meta.ValidEvents,
		"size_mb", meta.SizeMB, "reindexed", !built.AlreadyBuilt)
	return meta, nil
}

// collectPlain scans the whole file once, counting lines and summing
// the raw size of the ones that validate as events. Unlike archives
// the event count here is exact.
func collectPlain(ctx context.Context, path string, logger *slog.Logger) (FileMetadata, error) {
	it, err := lineio.Open(path)
	if err != nil {
		return FileMetadata{}, err
	}
	defer it.Close()

	var lines, events, validBytes, totalBytes int64
	for {
		if err := ctx.Err(); err != nil {
			return FileMetadata{}, err
		}
		line, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return FileMetadata{}, fmt.Errorf("scanning %s: %w", path, err)
		}
		lines++
		totalBytes += int64(len(line.Content)) + 1
		if tracejson.Valid(line.Content) {
			events++
			validBytes += int64(len(line.Content)) + 1
		}
	}

	meta := FileMetadata{
		Path:        path,
		SizeMB:      mib(validBytes),
		SizeBytes:   totalBytes,
		EndLine:     lines,
		ValidEvents: events,
		Success:     true,
	}
	if lines > 0 {
		meta.StartLine = 1
	}
	if events > 0 {
		meta.SizePerLine = meta.SizeMB / float64(events)
	}
	logger.Debug("collected plain trace metadata",
		"path", path, "lines", lines, "events", events, "size_mb", meta.SizeMB)
	return meta, nil
}

// ListTraces returns the trace files directly under dir (plain .pfw
// and gzip archives), sorted by name. Subdirectories are not
// descended into.
func ListTraces(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing traces: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".pfw") || strings.HasSuffix(name, ".gz") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func mib(n int64) float64 {
	return float64(n) / (1 << 20)
}
