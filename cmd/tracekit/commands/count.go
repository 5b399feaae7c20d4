// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tracekit/tracekit/cmd/tracekit/cli"
	"github.com/tracekit/tracekit/lib/batch"
	"github.com/tracekit/tracekit/lib/config"
	"github.com/tracekit/tracekit/lib/gzstream"
	"github.com/tracekit/tracekit/lib/indexer"
	"github.com/tracekit/tracekit/lib/lineio"
	"github.com/tracekit/tracekit/lib/tracejson"
)

func countCommand() *cli.Command {
	flags := pflag.NewFlagSet("count", pflag.ContinueOnError)
	var (
		configPath = flags.String("config", "", "config file (overrides $TRACEKIT_CONFIG)")
		indexDir   = flags.String("index-dir", "", "directory for archive indexes (default: beside each archive)")
		events     = flags.Bool("events", false, "count valid events instead of lines")
		threads    = flags.IntP("threads", "t", 0, "files counted in parallel (0 = all cores)")
	)

	return &cli.Command{
		Name:    "count",
		Summary: "Count lines or events in trace files",
		Description: `Count lines or events in trace files, wc style.

Plain files are scanned; archives are indexed on first touch, after
which their line count comes straight from the index. --events
counts only lines that parse as events carrying a non-negative id,
which always rescans the content.`,
		Usage: "tracekit count FILE... [flags]",
		Examples: []cli.Example{
			{
				Description: "Line counts for a mixed set of traces",
				Command:     "tracekit count traces/*.pfw traces/*.pfw.gz",
			},
			{
				Description: "Exact event counts",
				Command:     "tracekit count --events traces/*.pfw.gz",
			},
		},
		Flags: func() *pflag.FlagSet { return flags },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one file required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			dir := cfg.Index.Dir
			if flags.Changed("index-dir") {
				dir = *indexDir
			}
			if dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("creating index directory: %w", err)
				}
			}

			workers := cfg.Split.Threads
			if flags.Changed("threads") {
				workers = *threads
			}

			ctx, stop := commandContext()
			defer stop()

			results := batch.Map(ctx, workers, args, func(ctx context.Context, path string) (int64, error) {
				return countOne(ctx, path, dir, *events, cfg, logger)
			})

			failed := 0
			total := int64(0)
			for i, res := range results {
				if res.Err != nil {
					failed++
					fmt.Printf("%12s %s: %v\n", "-", args[i], res.Err)
					continue
				}
				total += res.Value
				fmt.Printf("%12d %s\n", res.Value, args[i])
			}
			if len(args) > 1 {
				fmt.Printf("%12d total\n", total)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func countOne(ctx context.Context, path, indexDir string, events bool, cfg *config.Config, logger *slog.Logger) (int64, error) {
	if !strings.HasSuffix(path, ".gz") {
		return countPlain(ctx, path, events)
	}

	catalogPath := indexer.CatalogPath(indexDir, path)
	res, err := indexer.Build(ctx, path, catalogPath, indexer.Options{
		CheckpointSize: cfg.Index.CheckpointSize,
		LineStride:     cfg.Index.LineStride,
		Logger:         logger,
	})
	if err != nil {
		return 0, err
	}
	if !events {
		return res.NumLines, nil
	}

	r, err := gzstream.Open(ctx, path, catalogPath, gzstream.Options{
		Logger:      logger,
		ReadRetries: cfg.Index.ReadRetries,
	})
	if err != nil {
		return 0, err
	}
	defer r.Close()
	stream, err := r.Lines(ctx, gzstream.All())
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	return countEvents(ctx, stream.Next)
}

func countPlain(ctx context.Context, path string, events bool) (int64, error) {
	it, err := lineio.Open(path)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	if events {
		return countEvents(ctx, it.Next)
	}

	count := int64(0)
	for {
		if _, err := it.Next(); err != nil {
			if err == io.EOF {
				return count, nil
			}
			return 0, err
		}
		count++
		if count%65536 == 0 && ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
}

func countEvents(ctx context.Context, next func() (lineio.Line, error)) (int64, error) {
	count := int64(0)
	seen := int64(0)
	for {
		line, err := next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		if _, ok := tracejson.ExtractEvent(line.Content); ok {
			count++
		}
		seen++
		if seen%65536 == 0 && ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
}
