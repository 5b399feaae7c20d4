// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/tracekit/tracekit/cmd/tracekit/cli"
	"github.com/tracekit/tracekit/lib/batch"
	"github.com/tracekit/tracekit/lib/gzipio"
)

func pgzipCommand() *cli.Command {
	flags := pflag.NewFlagSet("pgzip", pflag.ContinueOnError)
	var (
		configPath = flags.String("config", "", "config file (overrides $TRACEKIT_CONFIG)")
		decompress = flags.BoolP("decompress", "d", false, "decompress .gz files instead")
		level      = flags.IntP("level", "l", 0, "gzip level, 1 fastest to 9 smallest (0 = default)")
		threads    = flags.IntP("threads", "t", 0, "files processed in parallel (0 = all cores)")
	)

	return &cli.Command{
		Name:    "pgzip",
		Summary: "Compress or decompress trace files in place",
		Description: `Compress or decompress trace files in place, like gzip but with
parallel block compression and many files at once.

Compression replaces FILE with FILE.gz; -d replaces FILE.gz with
FILE. Each file is written to a temporary sibling and renamed, so
an interrupted run never leaves a half-written file in place of a
whole one.`,
		Usage: "tracekit pgzip [-d] FILE... [flags]",
		Examples: []cli.Example{
			{
				Description: "Compress a directory of raw traces",
				Command:     "tracekit pgzip traces/*.pfw",
			},
			{
				Description: "Decompress archives, eight at a time",
				Command:     "tracekit pgzip -d -t 8 traces/*.pfw.gz",
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

			gzipLevel := cfg.Split.Level
			if flags.Changed("level") {
				gzipLevel = *level
			}
			if gzipLevel == 0 {
				gzipLevel = gzipio.DefaultLevel
			}
			workers := cfg.Split.Threads
			if flags.Changed("threads") {
				workers = *threads
			}

			ctx, stop := commandContext()
			defer stop()

			results := batch.Map(ctx, workers, args, func(_ context.Context, path string) (string, error) {
				return pgzipOne(path, *decompress, gzipLevel)
			})

			failed := 0
			for i, res := range results {
				if res.Err != nil {
					failed++
					fmt.Printf("%s: error: %v\n", args[i], res.Err)
					continue
				}
				fmt.Println(res.Value)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func pgzipOne(path string, decompress bool, level int) (string, error) {
	outPath := path + ".gz"
	if decompress {
		outPath = strings.TrimSuffix(path, ".gz")
		if outPath == path {
			return "", fmt.Errorf("not a .gz file")
		}
	} else if strings.HasSuffix(path, ".gz") {
		return "", fmt.Errorf("already compressed")
	}

	before, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if decompress {
		err = gzipio.DecompressFile(path)
	} else {
		err = gzipio.CompressFile(path, level)
	}
	if err != nil {
		return "", err
	}
	after, err := os.Stat(outPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s -> %s (%s -> %s)", path, outPath,
		humanize.IBytes(uint64(before.Size())), humanize.IBytes(uint64(after.Size()))), nil
}
