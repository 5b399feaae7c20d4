// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command-line framework under the tracekit binary.
//
// A [Command] couples a name to either a Run function or a set of
// nested subcommands. [Command.Execute] walks the tree, parses flags
// with pflag, and renders help assembled from each command's
// Description, Usage, and Examples. Mistyped command and flag names
// get a "did you mean" suggestion when a defined name is within three
// edits of the input.
//
// Commands log through [NewCommandLogger]: human-readable text when
// stderr is a terminal, JSON lines when redirected. [WriteJSON] backs
// the --json flag machine consumers use, and [ExitError] lets a
// command choose the process exit code after printing its own report.
package cli
