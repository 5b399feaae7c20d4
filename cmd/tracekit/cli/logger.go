// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger builds the logger used by CLI commands. Logs go to
// stderr so command output on stdout stays clean for pipelines.
//
// Level is one of "debug", "info", "warn", "error" (unknown values fall
// back to info). Format selects the handler: "text", "json", or "auto",
// which picks the text handler when stderr is a terminal and JSON
// otherwise, so logs stay machine-readable when redirected.
func NewCommandLogger(level, format string) *slog.Logger {
	options := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, options)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, options)
	default:
		if term.IsTerminal(int(os.Stderr.Fd())) {
			handler = slog.NewTextHandler(os.Stderr, options)
		} else {
			handler = slog.NewJSONHandler(os.Stderr, options)
		}
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
