// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tracekit/tracekit/cmd/tracekit/cli"
	"github.com/tracekit/tracekit/lib/catalog"
	"github.com/tracekit/tracekit/lib/gzstream"
	"github.com/tracekit/tracekit/lib/indexer"
	"github.com/tracekit/tracekit/lib/lineio"
)

func readCommand() *cli.Command {
	flags := pflag.NewFlagSet("read", pflag.ContinueOnError)
	var (
		configPath = flags.String("config", "", "config file (overrides $TRACEKIT_CONFIG)")
		indexDir   = flags.String("index-dir", "", "directory holding index files (default: beside the archive)")
		linesSpec  = flags.String("lines", "", "line range START:END (1-based, inclusive), START:, or a single line")
		bytesSpec  = flags.String("bytes", "", "byte range START:END (half-open) or START:")
	)

	return &cli.Command{
		Name:    "read",
		Summary: "Stream a trace file or a range of it to stdout",
		Description: `Stream a trace file or a range of it to stdout.

Plain .pfw files are read directly. For .gz archives the range is
served through the archive's index: the read resumes at the nearest
checkpoint instead of decompressing from the start, so a small range
deep inside a large archive stays cheap. Archives must be indexed
first.

--lines selects whole lines by number. --bytes selects decompressed
byte offsets; line output for a byte range covers the lines that
start inside it. Without a range the whole file is streamed.`,
		Usage: "tracekit read FILE [--lines A:B | --bytes A:B] [flags]",
		Examples: []cli.Example{
			{
				Description: "Lines 5000-6000 of an indexed archive",
				Command:     "tracekit read --lines 5000:6000 app.pfw.gz",
			},
			{
				Description: "Everything from line 1000000 on",
				Command:     "tracekit read --lines 1000000: app.pfw.gz",
			},
			{
				Description: "One gigabyte from the middle, raw",
				Command:     "tracekit read --bytes 5368709120:6442450944 app.pfw.gz",
			},
		},
		Flags: func() *pflag.FlagSet { return flags },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one file required")
			}
			if *linesSpec != "" && *bytesSpec != "" {
				return fmt.Errorf("--lines and --bytes are mutually exclusive")
			}
			path := args[0]

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := commandContext()
			defer stop()

			out := bufio.NewWriterSize(os.Stdout, 256<<10)
			if strings.HasSuffix(path, ".gz") {
				dir := cfg.Index.Dir
				if flags.Changed("index-dir") {
					dir = *indexDir
				}
				r, err := gzstream.Open(ctx, path, indexer.CatalogPath(dir, path), gzstream.Options{
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
				if err := readArchive(ctx, r, *linesSpec, *bytesSpec, out); err != nil {
					return err
				}
			} else if err := readPlain(path, *linesSpec, *bytesSpec, out); err != nil {
				return err
			}
			return out.Flush()
		},
	}
}

func readArchive(ctx context.Context, r *gzstream.Reader, linesSpec, bytesSpec string, out *bufio.Writer) error {
	switch {
	case linesSpec != "":
		start, end, err := parseSpan(linesSpec)
		if err != nil {
			return err
		}
		if end == -1 {
			end = r.NumLines()
			if end < start {
				return nil
			}
		}
		stream, err := r.Lines(ctx, gzstream.LineRange(start, end))
		if err != nil {
			return err
		}
		defer stream.Close()
		return copyLines(stream.Next, out)

	case bytesSpec != "":
		start, end, err := parseSpan(bytesSpec)
		if err != nil {
			return err
		}
		if end == -1 {
			end = r.NumBytes()
		}
		stream, err := r.Bytes(ctx, gzstream.ByteRange(start, end))
		if err != nil {
			return err
		}
		defer stream.Close()
		_, err = io.Copy(out, stream)
		return err

	default:
		stream, err := r.Bytes(ctx, gzstream.All())
		if err != nil {
			return err
		}
		defer stream.Close()
		_, err = io.Copy(out, stream)
		return err
	}
}

func readPlain(path, linesSpec, bytesSpec string, out *bufio.Writer) error {
	switch {
	case linesSpec != "":
		start, end, err := parseSpan(linesSpec)
		if err != nil {
			return err
		}
		it, err := lineio.OpenLineRange(path, start, end)
		if err != nil {
			return err
		}
		defer it.Close()
		return copyLines(it.Next, out)

	case bytesSpec != "":
		start, end, err := parseSpan(bytesSpec)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		length := int64(math.MaxInt64) - start
		if end != -1 {
			length = end - start
		}
		_, err = io.Copy(out, io.NewSectionReader(f, start, length))
		return err

	default:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(out, f)
		return err
	}
}

// copyLines drains a line iterator to out, restoring the newline each
// iterator strips.
func copyLines(next func() (lineio.Line, error), out *bufio.Writer) error {
	for {
		line, err := next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := out.Write(line.Content); err != nil {
			return err
		}
		if err := out.WriteByte('\n'); err != nil {
			return err
		}
	}
}

// parseSpan parses a range argument: "A:B", "A:" for an open end
// (returned as -1), or a bare "N" meaning the single unit N.
func parseSpan(s string) (start, end int64, err error) {
	before, after, found := strings.Cut(s, ":")
	start, err = strconv.ParseInt(before, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad range %q: %w", s, err)
	}
	if !found {
		return start, start, nil
	}
	if after == "" {
		return start, -1, nil
	}
	end, err = strconv.ParseInt(after, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad range %q: %w", s, err)
	}
	return start, end, nil
}
