// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package gzstream

import "fmt"

type rangeKind uint8

const (
	rangeAll rangeKind = iota
	rangeBytes
	rangeLines
)

// Range selects the portion of an archive a stream yields. The zero
// value selects the whole archive.
type Range struct {
	kind       rangeKind
	start, end int64
}

// All selects the entire archive: every byte for byte streams, every
// line for line streams. On an empty archive every stream kind yields
// nothing.
func All() Range {
	return Range{kind: rangeAll}
}

// ByteRange selects the half-open interval [start, end) of
// decompressed bytes. Byte streams yield exactly those bytes.
// Line-oriented streams own every line that starts inside the
// interval: the first yielded line is the one beginning at start, or
// the first to begin after it, and the last owned line is read to
// completion even where it extends past end. With that rule,
// [a, m) and [m, b) together cover the same lines as [a, b), each
// exactly once.
//
// end is clamped to the archive size; a start at or past the end of
// the archive produces an empty stream.
func ByteRange(start, end int64) Range {
	return Range{kind: rangeBytes, start: start, end: end}
}

// LineRange selects lines start through end, 1-based and inclusive on
// both ends. Byte streams yield the raw bytes of those lines,
// including the final line's newline when it has one.
func LineRange(start, end int64) Range {
	return Range{kind: rangeLines, start: start, end: end}
}

// String renders the range for error messages.
func (r Range) String() string {
	switch r.kind {
	case rangeBytes:
		return fmt.Sprintf("bytes [%d, %d)", r.start, r.end)
	case rangeLines:
		return fmt.Sprintf("lines [%d, %d]", r.start, r.end)
	default:
		return "all"
	}
}
