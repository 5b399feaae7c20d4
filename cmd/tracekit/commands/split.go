// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/tracekit/tracekit/cmd/tracekit/cli"
	"github.com/tracekit/tracekit/lib/splitter"
)

func splitCommand() *cli.Command {
	flags := pflag.NewFlagSet("split", pflag.ContinueOnError)
	var (
		configPath     = flags.String("config", "", "config file (overrides $TRACEKIT_CONFIG)")
		jobPath        = flags.String("job", "", "JSONC job file with run options")
		inputDir       = flags.StringP("dir", "d", "", "directory scanned for trace files")
		outputDir      = flags.StringP("output", "o", "", "directory receiving chunk files")
		app            = flags.StringP("app", "n", "", "name prefixing chunk files")
		targetMB       = flags.Float64P("target-mb", "s", splitter.DefaultTargetMB, "chunk size to pack toward, in MiB")
		compress       = flags.BoolP("compress", "c", true, "gzip finished chunks")
		level          = flags.IntP("level", "l", 0, "gzip level, 1 fastest to 9 smallest (0 = default)")
		force          = flags.BoolP("force", "f", false, "rebuild archive indexes even when fresh")
		checkpointSize = flags.Int64("checkpoint-size", 0, "index checkpoint spacing in decompressed bytes (0 = default)")
		lineStride     = flags.Int64("line-stride", 0, "index line-map sampling interval (0 = default)")
		threads        = flags.IntP("threads", "t", 0, "worker pool size (0 = all cores)")
		indexDir       = flags.String("index-dir", "", "directory for archive indexes (default: per-run temp dir)")
		verify         = flags.Bool("verify", false, "re-read inputs after extraction and compare event sets")
		planIn         = flags.String("plan-in", "", "reuse a saved plan instead of collecting and planning")
		planOut        = flags.String("plan-out", "", "save the computed plan to this file")
	)

	return &cli.Command{
		Name:    "split",
		Summary: "Split trace files into fixed-size chunks",
		Description: `Split trace files into fixed-size chunks.

Inputs are .pfw trace files and .pfw.gz archives, from positional
arguments or a --dir scan. Archives are indexed so extraction can
seek straight to each chunk's span. Every chunk is a bracketed JSON
event array holding only valid events; malformed lines and events
without an id are dropped.

Chunk boundaries come from a greedy packing over per-file line
spans: files are split proportionally by line count so each chunk
lands near the target size. With --verify, inputs are re-read after
extraction and the two event sets compared by count and
order-independent hash.

A failed run exits 1 after printing its summary; the error line
names the phase that failed (collect, extract, or verify).`,
		Usage: "tracekit split -o DIR (-d DIR | FILE...) [flags]",
		Examples: []cli.Example{
			{
				Description: "Split a trace directory into 4 MiB gzip chunks",
				Command:     "tracekit split -d traces/ -o chunks/ -n myapp",
			},
			{
				Description: "Bigger chunks, uncompressed, with verification",
				Command:     "tracekit split -d traces/ -o chunks/ -s 64 -c=false --verify",
			},
			{
				Description: "Split specific files, saving the plan for reuse",
				Command:     "tracekit split -o chunks/ --plan-out split.plan a.pfw.gz b.pfw",
			},
			{
				Description: "Re-run a saved plan",
				Command:     "tracekit split -o chunks/ --plan-in split.plan",
			},
			{
				Description: "Run options from a job file, overriding the target",
				Command:     "tracekit split --job nightly.jsonc -s 16",
			},
		},
		Flags: func() *pflag.FlagSet { return flags },
		Run: func(args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			// Config supplies the base, a job file overlays it, and
			// explicit flags win over both.
			opts := splitter.Options{
				App:            cfg.Split.App,
				TargetMB:       cfg.Split.TargetMB,
				Compress:       cfg.Split.Compress,
				Level:          cfg.Split.Level,
				Threads:        cfg.Split.Threads,
				Verify:         cfg.Split.Verify,
				CheckpointSize: cfg.Index.CheckpointSize,
				LineStride:     cfg.Index.LineStride,
				IndexDir:       cfg.Index.Dir,
				ReadRetries:    cfg.Index.ReadRetries,
				Logger:         logger,
			}
			if *jobPath != "" {
				job, err := splitter.ReadJob(*jobPath)
				if err != nil {
					return err
				}
				applyJob(&opts, job)
			}
			if flags.Changed("dir") {
				opts.InputDir = *inputDir
			}
			if flags.Changed("output") {
				opts.OutputDir = *outputDir
			}
			if flags.Changed("app") {
				opts.App = *app
			}
			if flags.Changed("target-mb") {
				opts.TargetMB = *targetMB
			}
			if flags.Changed("compress") {
				opts.Compress = *compress
			}
			if flags.Changed("level") {
				opts.Level = *level
			}
			if flags.Changed("force") {
				opts.ForceRebuild = *force
			}
			if flags.Changed("checkpoint-size") {
				opts.CheckpointSize = *checkpointSize
			}
			if flags.Changed("line-stride") {
				opts.LineStride = *lineStride
			}
			if flags.Changed("threads") {
				opts.Threads = *threads
			}
			if flags.Changed("index-dir") {
				opts.IndexDir = *indexDir
			}
			if flags.Changed("verify") {
				opts.Verify = *verify
			}
			if flags.Changed("plan-in") {
				opts.PlanIn = *planIn
			}
			if flags.Changed("plan-out") {
				opts.PlanOut = *planOut
			}
			if len(args) > 0 {
				opts.Paths = args
			}

			if opts.OutputDir == "" {
				return fmt.Errorf("output directory required (-o)")
			}
			if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			// Indexes need a home. Without one configured, they go to
			// a per-run temp directory and are discarded afterward;
			// point --index-dir somewhere stable to reuse them.
			if opts.IndexDir == "" {
				tempDir, err := os.MkdirTemp("", "tracekit-index-")
				if err != nil {
					return fmt.Errorf("creating index directory: %w", err)
				}
				defer os.RemoveAll(tempDir)
				opts.IndexDir = tempDir
			} else if err := os.MkdirAll(opts.IndexDir, 0o755); err != nil {
				return fmt.Errorf("creating index directory: %w", err)
			}

			ctx, stop := commandContext()
			defer stop()

			summary, err := splitter.Run(ctx, opts)
			if summary != nil {
				printSplitSummary(summary)
			}
			if err != nil {
				// The summary above already details the failures; the
				// error line names the phase.
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// applyJob overlays the fields a job file sets onto opts. The zero
// value means "not set" for every field except Compress, which the
// job carries as a pointer so an explicit false survives.
func applyJob(opts *splitter.Options, job splitter.Job) {
	if job.InputDir != "" {
		opts.InputDir = job.InputDir
	}
	if job.OutputDir != "" {
		opts.OutputDir = job.OutputDir
	}
	if job.App != "" {
		opts.App = job.App
	}
	if job.TargetMB > 0 {
		opts.TargetMB = job.TargetMB
	}
	if job.Compress != nil {
		opts.Compress = *job.Compress
	}
	if job.Level != 0 {
		opts.Level = job.Level
	}
	if job.ForceRebuild {
		opts.ForceRebuild = true
	}
	if job.CheckpointSize > 0 {
		opts.CheckpointSize = job.CheckpointSize
	}
	if job.LineStride > 0 {
		opts.LineStride = job.LineStride
	}
	if job.IndexDir != "" {
		opts.IndexDir = job.IndexDir
	}
	if job.Threads > 0 {
		opts.Threads = job.Threads
	}
	if job.Verify {
		opts.Verify = true
	}
	if job.PlanIn != "" {
		opts.PlanIn = job.PlanIn
	}
	if job.PlanOut != "" {
		opts.PlanOut = job.PlanOut
	}
}

func printSplitSummary(s *splitter.Summary) {
	files := fmt.Sprintf("%d files", len(s.Files))
	if s.FailedFiles > 0 {
		files = fmt.Sprintf("%s (%d failed)", files, s.FailedFiles)
	}
	fmt.Printf("input:  %s, %s, %s events\n",
		files, mbString(s.InputMB), humanize.Comma(s.Events))

	chunks := fmt.Sprintf("%d chunks", len(s.Results)-s.FailedChunks)
	if s.FailedChunks > 0 {
		chunks = fmt.Sprintf("%s (%d failed)", chunks, s.FailedChunks)
	}
	out := fmt.Sprintf("output: %s, %s, %s events",
		chunks, mbString(s.OutputMB), humanize.Comma(s.OutputEvents))
	if s.FilteredLines > 0 {
		out = fmt.Sprintf("%s (%s lines filtered)", out, humanize.Comma(s.FilteredLines))
	}
	fmt.Println(out)

	for _, f := range s.Files {
		if !f.Success {
			fmt.Printf("  failed: %s: %s\n", f.Path, f.Error)
		}
	}
	for _, r := range s.Results {
		if !r.Success {
			fmt.Printf("  failed: chunk %d: %s\n", r.Index, r.Error)
		}
	}

	if s.Report != nil {
		if s.Report.OK() {
			fmt.Printf("verify: ok, %s events on both sides\n",
				humanize.Comma(s.Report.InputEvents))
		} else {
			fmt.Printf("verify: FAILED, %s events in, %s events out\n",
				humanize.Comma(s.Report.InputEvents), humanize.Comma(s.Report.OutputEvents))
		}
	}
}

// mbString renders a MiB quantity the way the rest of the CLI prints
// sizes.
func mbString(mb float64) string {
	return humanize.IBytes(uint64(mb * (1 << 20)))
}
