// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/tracekit/tracekit/cmd/tracekit/cli"
	"github.com/tracekit/tracekit/lib/catalog"
	"github.com/tracekit/tracekit/lib/gzstream"
	"github.com/tracekit/tracekit/lib/indexer"
)

// archiveInfo is the JSON shape of `tracekit info --json`.
type archiveInfo struct {
	Archive           string    `json:"archive"`
	Index             string    `json:"index"`
	Lines             int64     `json:"lines"`
	DecompressedBytes int64     `json:"decompressed_bytes"`
	CompressedBytes   int64     `json:"compressed_bytes"`
	Checkpoints       int       `json:"checkpoints"`
	CheckpointSize    int64     `json:"checkpoint_size"`
	Fingerprint       string    `json:"fingerprint"`
	BuiltAt           time.Time `json:"built_at"`
}

func infoCommand() *cli.Command {
	flags := pflag.NewFlagSet("info", pflag.ContinueOnError)
	var (
		configPath = flags.String("config", "", "config file (overrides $TRACEKIT_CONFIG)")
		indexDir   = flags.String("index-dir", "", "directory holding index files (default: beside the archive)")
		check      = flags.Bool("check", false, "replay every checkpoint and validate the line map")
		jsonOut    = flags.Bool("json", false, "output as JSON")
	)

	return &cli.Command{
		Name:    "info",
		Summary: "Show an indexed archive's catalog entry",
		Description: `Show an indexed archive's catalog entry: line count, sizes,
checkpoint layout, fingerprint, and build time. The archive must
have been indexed first.

With --check, every checkpoint is resumed and a line is read at
each, and the line map is probed; this catches indexes corrupted
on disk or built over a file that was since rewritten in place
with the same size and mtime.`,
		Usage: "tracekit info ARCHIVE [flags]",
		Examples: []cli.Example{
			{
				Description: "Inspect an archive",
				Command:     "tracekit info app.pfw.gz",
			},
			{
				Description: "Validate the index end to end",
				Command:     "tracekit info --check app.pfw.gz",
			},
		},
		Flags: func() *pflag.FlagSet { return flags },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one archive required")
			}
			path := args[0]

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			dir := cfg.Index.Dir
			if flags.Changed("index-dir") {
				dir = *indexDir
			}
			catalogPath := indexer.CatalogPath(dir, path)

			ctx, stop := commandContext()
			defer stop()

			r, err := gzstream.Open(ctx, path, catalogPath, gzstream.Options{
				Logger:      logger,
				ReadRetries: cfg.Index.ReadRetries,
			})
			if err != nil {
				if errors.Is(err, catalog.ErrIndexMissing) || errors.Is(err, catalog.ErrIndexStale) {
					return fmt.Errorf("%w (run 'tracekit index %s' first)", err, path)
				}
				return err
			}
			defer r.Close()

			file := r.File()
			checkpoints, err := r.Checkpoints(ctx)
			if err != nil {
				return err
			}
			fingerprint := hex.EncodeToString(file.Fingerprint)

			if *jsonOut {
				return cli.WriteJSON(archiveInfo{
					Archive:           file.Path,
					Index:             catalogPath,
					Lines:             file.NumLines,
					DecompressedBytes: file.SizeDecompressed,
					CompressedBytes:   file.SizeCompressed,
					Checkpoints:       len(checkpoints),
					CheckpointSize:    file.CheckpointSize,
					Fingerprint:       fingerprint,
					BuiltAt:           file.BuiltAt,
				})
			}

			shortPrint := fingerprint
			if len(shortPrint) > 16 {
				shortPrint = shortPrint[:16]
			}
			ratio := ""
			if file.SizeCompressed > 0 {
				ratio = fmt.Sprintf(" (%.1fx)", float64(file.SizeDecompressed)/float64(file.SizeCompressed))
			}

			fmt.Printf("archive:      %s\n", file.Path)
			fmt.Printf("index:        %s\n", catalogPath)
			fmt.Printf("lines:        %s\n", humanize.Comma(file.NumLines))
			fmt.Printf("decompressed: %s\n", humanize.IBytes(uint64(file.SizeDecompressed)))
			fmt.Printf("compressed:   %s%s\n", humanize.IBytes(uint64(file.SizeCompressed)), ratio)
			fmt.Printf("checkpoints:  %d (every %s)\n", len(checkpoints), humanize.IBytes(uint64(file.CheckpointSize)))
			fmt.Printf("fingerprint:  %s\n", shortPrint)
			fmt.Printf("built:        %s\n", file.BuiltAt.UTC().Format(time.RFC3339))

			if *check {
				if err := r.CheckIndex(ctx); err != nil {
					return fmt.Errorf("index check failed: %w", err)
				}
				fmt.Printf("check:        ok\n")
			}
			return nil
		},
	}
}
