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
)

// Sentinel errors for the ways a run can fail. The summary returned
// alongside them still describes everything that did complete.
var (
	// ErrNoInput means discovery found no trace files to split.
	ErrNoInput = errors.New("no trace files found")

	// ErrCollectFailed means at least one input could not be read or
	// indexed during the collect phase.
	ErrCollectFailed = errors.New("metadata collection failed")

	// ErrExtractFailed means at least one chunk could not be written.
	ErrExtractFailed = errors.New("chunk extraction failed")

	// ErrVerifyFailed means the input and output event sets disagree.
	ErrVerifyFailed = errors.New("event verification failed")
)

// Options configures a split run end to end.
type Options struct {
	// InputDir is scanned (non-recursively) for trace files when
	// Paths is empty.
	InputDir string

	// Paths, when set, names the input files directly and skips
	// discovery.
	Paths []string

	// OutputDir receives the chunk files. It must exist.
	OutputDir string

	// App prefixes chunk file names. Empty means "app".
	App string

	// TargetMB is the chunk size to pack toward. Zero or negative
	// selects DefaultTargetMB.
	TargetMB float64

	// Compress gzips finished chunks; Level is the gzip level (zero
	// selects the default).
	Compress bool
	Level    int

	// ForceRebuild reindexes archives even when fresh indexes exist.
	ForceRebuild bool

	// CheckpointSize and LineStride tune archive indexing. Zero
	// selects the indexer defaults.
	CheckpointSize int64
	LineStride     int64

	// IndexDir is where archive indexes live. Empty places each
	// index next to its archive.
	IndexDir string

	// Threads bounds every phase's worker pool. Zero or negative
	// selects all cores.
	Threads int

	// Verify re-reads the inputs after extraction and compares event
	// sets.
	Verify bool

	// PlanIn restores files and manifests from a saved plan, skipping
	// the collect and plan phases. PlanOut saves them after planning.
	PlanIn  string
	PlanOut string

	// ReadRetries is passed through to archive reads.
	ReadRetries int

	// Logger receives phase progress. Nil discards it.
	Logger *slog.Logger
}

// Summary is the full account of a run: what was collected, how it
// was packed, and what came out.
type Summary struct {
	Files     []FileMetadata
	Manifests []ChunkManifest
	Results   []ChunkResult
	Report    *VerifyReport

	// InputMB and Events sum over successfully collected files;
	// OutputMB and OutputEvents over successfully written chunks.
	// FilteredLines counts input lines the extractor read and
	// dropped as non-events.
	InputMB       float64
	Events        int64
	OutputMB      float64
	OutputEvents  int64
	FilteredLines int64

	// FailedFiles and FailedChunks count the collect and extract
	// failures embedded in Files and Results.
	FailedFiles  int
	FailedChunks int
}

// Run executes a full split: discover, collect, plan, extract, and
// optionally verify. The returned summary is valid even when the
// error is non-nil; callers print it and then map the error to an
// exit code.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.App == "" {
		opts.App = "app"
	}
	if opts.TargetMB <= 0 {
		opts.TargetMB = DefaultTargetMB
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output directory required")
	}
	workers := batch.Workers(opts.Threads)

	summary := &Summary{}

	if opts.PlanIn != "" {
		plan, err := ReadPlan(opts.PlanIn)
		if err != nil {
			return nil, err
		}
		summary.Files = plan.Files
		summary.Manifests = plan.Manifests
		logger.Info("restored plan", "path", opts.PlanIn,
			"files", len(plan.Files), "chunks", len(plan.Manifests))
	} else {
		paths := opts.Paths
		if len(paths) == 0 {
			var err error
			paths, err = ListTraces(opts.InputDir)
			if err != nil {
				return nil, err
			}
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("%w in %s", ErrNoInput, opts.InputDir)
		}

		logger.Info("collecting trace metadata", "files", len(paths), "threads", workers)
		summary.Files = Collect(ctx, paths, CollectOptions{
			IndexDir:       opts.IndexDir,
			CheckpointSize: opts.CheckpointSize,
			LineStride:     opts.LineStride,
			ForceRebuild:   opts.ForceRebuild,
			Threads:        opts.Threads,
			Logger:         logger,
		})

		summary.Manifests = Plan(summary.Files, opts.TargetMB)
		logger.Info("planned chunks", "chunks", len(summary.Manifests),
			"target_mb", opts.TargetMB)
	}

	for _, f := range summary.Files {
		if !f.Success {
			summary.FailedFiles++
			continue
		}
		summary.InputMB += f.SizeMB
		summary.Events += f.ValidEvents
	}

	if opts.PlanOut != "" {
		plan := NewPlanFile(opts.App, opts.TargetMB, summary.Files, summary.Manifests)
		if err := WritePlan(opts.PlanOut, plan); err != nil {
			return summary, err
		}
		logger.Info("saved plan", "path", opts.PlanOut)
	}

	logger.Info("extracting chunks", "chunks", len(summary.Manifests), "threads", workers)
	summary.Results = Extract(ctx, summary.Manifests, ExtractOptions{
		OutputDir:   opts.OutputDir,
		App:         opts.App,
		Compress:    opts.Compress,
		Level:       opts.Level,
		Threads:     opts.Threads,
		ReadRetries: opts.ReadRetries,
		Logger:      logger,
	})
	for _, chunk := range summary.Results {
		if !chunk.Success {
			summary.FailedChunks++
			continue
		}
		summary.OutputMB += chunk.SizeMB
		summary.OutputEvents += chunk.Events
		summary.FilteredLines += chunk.Filtered
	}
	logger.Info("extraction complete",
		"chunks", len(summary.Results), "failed", summary.FailedChunks,
		"events", summary.OutputEvents, "filtered", summary.FilteredLines,
		"output_mb", summary.OutputMB)

	if opts.Verify {
		report, err := VerifyEvents(ctx, summary.Files, summary.Results, VerifyOptions{
			Threads:     opts.Threads,
			ReadRetries: opts.ReadRetries,
			Logger:      logger,
		})
		if err != nil {
			return summary, err
		}
		summary.Report = &report
		if report.OK() {
			logger.Info("event verification passed", "events", report.InputEvents)
		} else {
			logger.Error("event verification failed",
				"input_events", report.InputEvents, "output_events", report.OutputEvents,
				"input_hash", fmt.Sprintf("%016x", report.InputHash),
				"output_hash", fmt.Sprintf("%016x", report.OutputHash))
		}
	}

	switch {
	case summary.FailedFiles > 0:
		return summary, fmt.Errorf("%w: %d of %d files", ErrCollectFailed,
			summary.FailedFiles, len(summary.Files))
	case summary.FailedChunks > 0:
		return summary, fmt.Errorf("%w: %d of %d chunks", ErrExtractFailed,
			summary.FailedChunks, len(summary.Results))
	case summary.Report != nil && !summary.Report.OK():
		return summary, fmt.Errorf("%w: %d events in, %d out", ErrVerifyFailed,
			summary.Report.InputEvents, summary.Report.OutputEvents)
	}
	return summary, nil
}
