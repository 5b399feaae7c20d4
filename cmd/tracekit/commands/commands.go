// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete tracekit CLI command tree.
// Each command lives in its own file and follows the same shape: a
// constructor building the flag set once, a Run function that loads
// configuration, resolves flag/config precedence, and calls into the
// library packages.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tracekit/tracekit/cmd/tracekit/cli"
	"github.com/tracekit/tracekit/lib/config"
	"github.com/tracekit/tracekit/lib/version"
)

// Root builds and returns the complete tracekit CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "tracekit",
		Description: `Tracekit: indexed random access and chunk-splitting for
newline-delimited JSON trace files.

Index gzip trace archives once, then read arbitrary line and byte
ranges without decompressing from the start. Split whole trace
directories into uniform fixed-size chunks for downstream analysis.`,
		Subcommands: []*cli.Command{
			splitCommand(),
			indexCommand(),
			infoCommand(),
			readCommand(),
			countCommand(),
			planCommand(),
			pgzipCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("tracekit %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Split a directory of traces into 4 MiB chunks",
				Command:     "tracekit split -d traces/ -o chunks/ -n myapp",
			},
			{
				Description: "Index archives for random access",
				Command:     "tracekit index traces/*.pfw.gz",
			},
			{
				Description: "Read lines 5000-6000 from an indexed archive",
				Command:     "tracekit read --lines 5000:6000 app.pfw.gz",
			},
			{
				Description: "Count events across a mixed set of traces",
				Command:     "tracekit count --events traces/*.pfw traces/*.pfw.gz",
			},
			{
				Description: "Inspect a saved split plan",
				Command:     "tracekit plan chunks/split.plan",
			},
		},
	}
}

// loadConfig resolves the configuration for a command: the explicit
// --config path when given, otherwise the TRACEKIT_CONFIG environment
// variable, otherwise built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newLogger builds the command logger from the resolved configuration.
func newLogger(cfg *config.Config) *slog.Logger {
	return cli.NewCommandLogger(cfg.Log.Level, cfg.Log.Format)
}

// commandContext returns a context cancelled by SIGINT or SIGTERM, so
// long passes (indexing, extraction) stop at the next line instead of
// dying mid-write.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
