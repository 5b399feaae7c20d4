// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

// ExitError is an error carrying a specific process exit code. The main
// function checks for it (via the ExitCode method) and exits with the
// carried code instead of the generic failure code 1.
type ExitError struct {
	// Code is the process exit code.
	Code int
	// Message is the error text. May be empty when the command has
	// already reported the failure on its own output.
	Message string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return e.Message
}

// ExitCode returns the process exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}
