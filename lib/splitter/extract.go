// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package splitter

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/tracekit/tracekit/lib/batch"
	"github.com/tracekit/tracekit/lib/gzipio"
	"github.com/tracekit/tracekit/lib/gzstream"
	"github.com/tracekit/tracekit/lib/lineio"
	"github.com/tracekit/tracekit/lib/tracejson"
)

var (
	chunkOpen  = []byte("[\n")
	chunkClose = []byte("]\n")
)

// ExtractOptions configures the extract phase.
type ExtractOptions struct {
	// OutputDir receives the chunk files. It must exist.
	OutputDir string

	// App prefixes chunk file names: {app}-{index}.pfw.
	App string

	// Compress gzips each chunk that carries events, replacing the
	// plain file with {app}-{index}.pfw.gz. Level is the gzip level;
	// zero selects the default.
	Compress bool
	Level    int

	// Threads bounds the worker pool. Zero or negative selects
	// all cores.
	Threads int

	// ReadRetries is passed through to archive reads.
	ReadRetries int

	// Logger receives per-chunk progress. Nil discards it.
	Logger *slog.Logger
}

// ChunkResult reports one extracted chunk.
type ChunkResult struct {
	// Index is the manifest index, which is also the chunk number in
	// the output file name.
	Index int

	// OutputPath is the chunk file as finally written (compressed or
	// plain).
	OutputPath string

	// Events is the number of event lines written. Filtered counts
	// the lines read but dropped: malformed JSON, wrapper brackets,
	// and events without a usable id.
	Events   int64
	Filtered int64

	// SizeMB is the on-disk size of the final chunk file.
	SizeMB float64

	// Hash fingerprints the chunk's uncompressed content, for
	// comparing outputs across runs.
	Hash uint64

	// EventIDs are the identity triples of every written event, in
	// write order. Verification aggregates these.
	EventIDs []tracejson.EventID

	// Success is false when extraction failed; Error says why. A
	// failed chunk leaves no partial output and does not disturb its
	// siblings.
	Success bool
	Error   string
}

// Extract writes one chunk per manifest. Results are ordered by
// manifest index. A chunk that fails is reported in its result;
// the remaining chunks still run.
func Extract(ctx context.Context, manifests []ChunkManifest, opts ExtractOptions) []ChunkResult {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.App == "" {
		opts.App = "app"
	}
	if opts.Level == 0 {
		opts.Level = gzipio.DefaultLevel
	}

	results := batch.Map(ctx, opts.Threads, manifests, func(ctx context.Context, m ChunkManifest) (ChunkResult, error) {
		return extractChunk(ctx, m, opts)
	})

	chunks := make([]ChunkResult, len(results))
	for i, res := range results {
		if res.Err != nil {
			chunks[i] = ChunkResult{Index: manifests[i].Index, Error: res.Err.Error()}
			logger.Warn("chunk extraction failed", "chunk", manifests[i].Index, "error", res.Err)
			continue
		}
		chunks[i] = res.Value
		logger.Debug("chunk written", "chunk", chunks[i].Index, "path", chunks[i].OutputPath,
			"events", chunks[i].Events, "size_mb", chunks[i].SizeMB)
	}
	return chunks
}

// extractChunk streams the manifest's specs into one bracketed chunk
// file, optionally compressing it afterward. On any error the partial
// output is removed before returning.
func extractChunk(ctx context.Context, m ChunkManifest, opts ExtractOptions) (ChunkResult, error) {
	plainPath := filepath.Join(opts.OutputDir, fmt.Sprintf("%s-%d.pfw", opts.App, m.Index))
	gzPath := plainPath + ".gz"

	discard := func(err error) (ChunkResult, error) {
		os.Remove(plainPath)
		os.Remove(gzPath)
		return ChunkResult{}, fmt.Errorf("chunk %d: %w", m.Index, err)
	}

	f, err := os.Create(plainPath)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("chunk %d: %w", m.Index, err)
	}
	buffered := bufio.NewWriterSize(f, 256<<10)
	hasher := blake3.New()
	out := io.MultiWriter(buffered, hasher)

	result := ChunkResult{Index: m.Index, OutputPath: plainPath, Success: true}

	if _, err := out.Write(chunkOpen); err != nil {
		f.Close()
		return discard(err)
	}
	for _, spec := range m.Specs {
		if err := extractSpec(ctx, out, spec, opts, &result); err != nil {
			f.Close()
			return discard(err)
		}
	}
	if _, err := out.Write(chunkClose); err != nil {
		f.Close()
		return discard(err)
	}
	if err := buffered.Flush(); err != nil {
		f.Close()
		return discard(err)
	}
	if err := f.Close(); err != nil {
		return discard(err)
	}

	result.Hash = binary.BigEndian.Uint64(hasher.Sum(nil)[:8])

	if opts.Compress && result.Events > 0 {
		if err := gzipio.CompressFile(plainPath, opts.Level); err != nil {
			return discard(err)
		}
		result.OutputPath = gzPath
	}

	info, err := os.Stat(result.OutputPath)
	if err != nil {
		return discard(err)
	}
	result.SizeMB = mib(info.Size())
	return result, nil
}

// extractSpec appends the event lines of one file slice to the chunk.
// Line bounds drive the read when present; otherwise the advisory
// byte bounds do.
func extractSpec(ctx context.Context, out io.Writer, spec ChunkSpec, opts ExtractOptions, result *ChunkResult) error {
	next, closeSource, err := openSpec(ctx, spec, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", spec.Path, err)
	}
	defer closeSource()

	for {
		line, err := next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", spec.Path, err)
		}
		id, ok := tracejson.ExtractEvent(line.Content)
		if !ok {
			result.Filtered++
			continue
		}
		payload := tracejson.Trim(line.Content)
		if _, err := out.Write(payload); err != nil {
			return err
		}
		if _, err := out.Write([]byte{'\n'}); err != nil {
			return err
		}
		result.EventIDs = append(result.EventIDs, id)
		result.Events++
	}
}

// openSpec opens the spec's line source: an indexed archive stream
// when the spec names a catalog, a plain file iterator otherwise.
func openSpec(ctx context.Context, spec ChunkSpec, opts ExtractOptions) (func() (lineio.Line, error), func() error, error) {
	if spec.CatalogPath != "" {
		reader, err := gzstream.Open(ctx, spec.Path, spec.CatalogPath, gzstream.Options{
			Logger:      opts.Logger,
			ReadRetries: opts.ReadRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		stream, err := reader.Lines(ctx, specRange(spec))
		if err != nil {
			reader.Close()
			return nil, nil, err
		}
		closeSource := func() error {
			stream.Close()
			return reader.Close()
		}
		return stream.Next, closeSource, nil
	}

	var it *lineio.Iterator
	var err error
	if spec.StartLine > 0 {
		it, err = lineio.OpenLineRange(spec.Path, spec.StartLine, spec.EndLine)
	} else {
		it, err = lineio.OpenByteRange(spec.Path, spec.StartByte, spec.EndByte)
	}
	if err != nil {
		return nil, nil, err
	}
	return it.Next, it.Close, nil
}

func specRange(spec ChunkSpec) gzstream.Range {
	if spec.StartLine > 0 {
		return gzstream.LineRange(spec.StartLine, spec.EndLine)
	}
	return gzstream.ByteRange(spec.StartByte, spec.EndByte)
}
