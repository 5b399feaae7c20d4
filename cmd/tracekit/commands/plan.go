// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/tracekit/tracekit/cmd/tracekit/cli"
	"github.com/tracekit/tracekit/lib/splitter"
)

func planCommand() *cli.Command {
	flags := pflag.NewFlagSet("plan", pflag.ContinueOnError)
	var (
		chunks  = flags.Bool("chunks", false, "list every chunk and the spans it packs")
		jsonOut = flags.Bool("json", false, "output as JSON")
	)

	return &cli.Command{
		Name:    "plan",
		Summary: "Inspect a saved split plan",
		Description: `Inspect a saved split plan: the collected file metadata and the
chunk layout computed from it. Plans are written by
'tracekit split --plan-out' and re-run with '--plan-in'.`,
		Usage: "tracekit plan FILE [flags]",
		Examples: []cli.Example{
			{
				Description: "Summarize a plan",
				Command:     "tracekit plan chunks/split.plan",
			},
			{
				Description: "Show the full chunk layout",
				Command:     "tracekit plan --chunks chunks/split.plan",
			},
		},
		Flags: func() *pflag.FlagSet { return flags },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one plan file required")
			}
			p, err := splitter.ReadPlan(args[0])
			if err != nil {
				return err
			}
			if *jsonOut {
				return cli.WriteJSON(p)
			}

			var totalMB float64
			var events int64
			failed := 0
			for _, f := range p.Files {
				if !f.Success {
					failed++
					continue
				}
				totalMB += f.SizeMB
				events += f.ValidEvents
			}

			fmt.Printf("plan:    %s\n", args[0])
			if p.Tool != "" {
				fmt.Printf("tool:    %s\n", p.Tool)
			}
			fmt.Printf("app:     %s\n", p.App)
			fmt.Printf("target:  %s\n", mbString(p.TargetMB))
			fmt.Printf("created: %s\n", time.Unix(p.CreatedAt, 0).UTC().Format(time.RFC3339))
			filesLine := fmt.Sprintf("%d", len(p.Files))
			if failed > 0 {
				filesLine = fmt.Sprintf("%s (%d failed)", filesLine, failed)
			}
			fmt.Printf("files:   %s, %s, %s events\n", filesLine, mbString(totalMB), humanize.Comma(events))
			fmt.Printf("chunks:  %d\n", len(p.Manifests))

			fmt.Println()
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tLINES\tEVENTS\tSIZE")
			for _, f := range p.Files {
				if !f.Success {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					f.Path, humanize.Comma(f.EndLine), humanize.Comma(f.ValidEvents), mbString(f.SizeMB))
			}
			tw.Flush()
			for _, f := range p.Files {
				if !f.Success {
					fmt.Printf("failed: %s: %s\n", f.Path, f.Error)
				}
			}

			if *chunks {
				fmt.Println()
				tw = tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "CHUNK\tSIZE\tSPANS")
				for _, m := range p.Manifests {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Index, mbString(m.SizeMB), spansString(m.Specs))
				}
				tw.Flush()
			}
			return nil
		},
	}
}

// spansString renders a chunk's specs compactly: base names with the
// line span each contributes.
func spansString(specs []splitter.ChunkSpec) string {
	parts := make([]string, len(specs))
	for i, spec := range specs {
		parts[i] = fmt.Sprintf("%s[%d:%d]", filepath.Base(spec.Path), spec.StartLine, spec.EndLine)
	}
	return strings.Join(parts, " + ")
}
