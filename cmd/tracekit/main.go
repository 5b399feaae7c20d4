// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tracekit/tracekit/cmd/tracekit/cli"
	"github.com/tracekit/tracekit/cmd/tracekit/commands"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command tree and maps the outcome to a process exit
// code. A *cli.ExitError picks its own code; one with an empty message
// has already reported the failure, so nothing more is printed.
func run(args []string) int {
	err := commands.Root().Execute(args)
	if err == nil {
		return 0
	}

	var exit *cli.ExitError
	if errors.As(err, &exit) {
		if exit.Message != "" {
			fmt.Fprintln(os.Stderr, "error:", exit.Message)
		}
		return exit.Code
	}

	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}
