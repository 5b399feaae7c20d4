// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package splitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tracekit/tracekit/lib/batch"
	"github.com/tracekit/tracekit/lib/gzstream"
	"github.com/tracekit/tracekit/lib/lineio"
	"github.com/tracekit/tracekit/lib/tracejson"
)

// VerifyOptions configures the verify phase.
type VerifyOptions struct {
	// Threads bounds the worker pool. Zero or negative selects
	// all cores.
	Threads int

	// ReadRetries is passed through to archive reads.
	ReadRetries int

	// Logger receives progress. Nil discards it.
	Logger *slog.Logger
}

// VerifyReport compares the event set read from the inputs against
// the event set the chunks carried out.
type VerifyReport struct {
	InputEvents  int64
	OutputEvents int64
	InputHash    uint64
	OutputHash   uint64
}

// OK reports whether input and output agree.
func (r VerifyReport) OK() bool {
	return r.InputEvents == r.OutputEvents && r.InputHash == r.OutputHash
}

// VerifyEvents re-reads every collected file's line span, extracts
// the event identities, and hashes the set; the chunk results supply
// the output side. Both hashes are order-independent, so the report
// does not depend on worker count or manifest layout. Failed files
// and failed chunks contribute nothing to their side, which makes a
// run with failures verify as a mismatch.
func VerifyEvents(ctx context.Context, files []FileMetadata, results []ChunkResult, opts VerifyOptions) (VerifyReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	perFile := batch.Map(ctx, opts.Threads, files, func(ctx context.Context, f FileMetadata) ([]tracejson.EventID, error) {
		if !f.Success || f.EndLine < f.StartLine || f.StartLine == 0 {
			return nil, nil
		}
		return fileEvents(ctx, f, opts)
	})

	var report VerifyReport
	var input []tracejson.EventID
	for i, res := range perFile {
		if res.Err != nil {
			return report, fmt.Errorf("verifying %s: %w", files[i].Path, res.Err)
		}
		input = append(input, res.Value...)
	}
	var output []tracejson.EventID
	for _, chunk := range results {
		if !chunk.Success {
			continue
		}
		output = append(output, chunk.EventIDs...)
	}

	report.InputEvents = int64(len(input))
	report.OutputEvents = int64(len(output))
	report.InputHash = tracejson.HashEvents(input)
	report.OutputHash = tracejson.HashEvents(output)

	logger.Debug("event verification computed",
		"input_events", report.InputEvents, "output_events", report.OutputEvents,
		"input_hash", fmt.Sprintf("%016x", report.InputHash),
		"output_hash", fmt.Sprintf("%016x", report.OutputHash))
	return report, nil
}

// fileEvents reads the file's collected line span and returns the
// identity of every event in it.
func fileEvents(ctx context.Context, f FileMetadata, opts VerifyOptions) ([]tracejson.EventID, error) {
	var ids []tracejson.EventID
	keep := func(content []byte) {
		if id, ok := tracejson.ExtractEvent(content); ok {
			ids = append(ids, id)
		}
	}

	if f.CatalogPath != "" {
		reader, err := gzstream.Open(ctx, f.Path, f.CatalogPath, gzstream.Options{
			Logger:      opts.Logger,
			ReadRetries: opts.ReadRetries,
		})
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		stream, err := reader.Lines(ctx, gzstream.LineRange(f.StartLine, f.EndLine))
		if err != nil {
			return nil, err
		}
		defer stream.Close()
		for {
			line, err := stream.Next()
			if errors.Is(err, io.EOF) {
				return ids, nil
			}
			if err != nil {
				return nil, err
			}
			keep(line.Content)
		}
	}

	it, err := lineio.OpenLineRange(f.Path, f.StartLine, f.EndLine)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for {
		line, err := it.Next()
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		keep(line.Content)
	}
}
