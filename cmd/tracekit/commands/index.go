// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/tracekit/tracekit/cmd/tracekit/cli"
	"github.com/tracekit/tracekit/lib/batch"
	"github.com/tracekit/tracekit/lib/indexer"
)

func indexCommand() *cli.Command {
	flags := pflag.NewFlagSet("index", pflag.ContinueOnError)
	var (
		configPath     = flags.String("config", "", "config file (overrides $TRACEKIT_CONFIG)")
		indexDir       = flags.String("index-dir", "", "directory for index files (default: beside each archive)")
		force          = flags.BoolP("force", "f", false, "rebuild even when an index is fresh")
		checkpointSize = flags.Int64("checkpoint-size", 0, "checkpoint spacing in decompressed bytes (0 = default)")
		lineStride     = flags.Int64("line-stride", 0, "line-map sampling interval (0 = default)")
		threads        = flags.IntP("threads", "t", 0, "archives indexed in parallel (0 = all cores)")
	)

	return &cli.Command{
		Name:    "index",
		Summary: "Build random-access indexes for gzip archives",
		Description: `Build random-access indexes for gzip archives.

Each archive is decompressed once and a catalog of resume
checkpoints and line positions is written beside it (or into
--index-dir). Later reads seek to the nearest checkpoint instead of
decompressing from the start. Archives whose index is already fresh
are skipped unless --force is given.`,
		Usage: "tracekit index ARCHIVE... [flags]",
		Examples: []cli.Example{
			{
				Description: "Index archives in place",
				Command:     "tracekit index traces/*.pfw.gz",
			},
			{
				Description: "Collect indexes in one directory, denser checkpoints",
				Command:     "tracekit index --index-dir ~/.cache/tracekit --checkpoint-size 8388608 app.pfw.gz",
			},
		},
		Flags: func() *pflag.FlagSet { return flags },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one archive required")
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

			opts := indexer.Options{
				CheckpointSize: cfg.Index.CheckpointSize,
				LineStride:     cfg.Index.LineStride,
				ForceRebuild:   *force,
				Logger:         logger,
			}
			if flags.Changed("checkpoint-size") {
				opts.CheckpointSize = *checkpointSize
			}
			if flags.Changed("line-stride") {
				opts.LineStride = *lineStride
			}

			workers := cfg.Split.Threads
			if flags.Changed("threads") {
				workers = *threads
			}

			ctx, stop := commandContext()
			defer stop()

			results := batch.Map(ctx, workers, args, func(ctx context.Context, path string) (indexer.Result, error) {
				return indexer.Build(ctx, path, indexer.CatalogPath(dir, path), opts)
			})

			failed := 0
			for i, res := range results {
				if res.Err != nil {
					failed++
					fmt.Printf("%s: error: %v\n", args[i], res.Err)
					continue
				}
				r := res.Value
				state := "indexed"
				if r.AlreadyBuilt {
					state = "fresh"
				}
				fmt.Printf("%s: %s, %s lines, %s decompressed, %d checkpoints\n",
					args[i], state, humanize.Comma(r.NumLines),
					humanize.IBytes(uint64(r.NumBytes)), r.Checkpoints)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d archives failed", failed, len(args))
			}
			return nil
		},
	}
}
