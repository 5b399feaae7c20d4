// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package lineio

import "errors"

var (
	// ErrInvalidRange reports a range whose bounds are negative,
	// inverted, or outside the file.
	ErrInvalidRange = errors.New("lineio: invalid range")

	// ErrBufferTooSmall reports a caller-provided buffer shorter
	// than the next line. The line is not consumed; the same call
	// with a larger buffer returns it.
	ErrBufferTooSmall = errors.New("lineio: buffer too small")
)

// Line is one line of a trace file: the payload without its trailing
// newline, and its 1-based position in the file. Number is 0 when the
// producer cannot know it, which happens only for byte-ranged reads
// of uncompressed files that start mid-file.
type Line struct {
	Number  int64
	Content []byte
}
