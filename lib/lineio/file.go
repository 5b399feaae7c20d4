// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package lineio

import (
	"fmt"
	"io"
	"os"
)

// Iterator yields lines from an uncompressed trace file, optionally
// restricted to a line range or a byte range. Line content is valid
// until the next call on the iterator.
type Iterator struct {
	f         *os.File
	sc        *Scanner
	base      int64 // file offset where the scanner started
	next      int64 // number of the next line, 0 when unknowable
	remaining int64 // lines left to yield, -1 unbounded
	limitOff  int64 // byte ranges: no line may start at or past this, -1 none
	done      bool
	err       error
}

// Open iterates every line of the file, numbered from 1.
func Open(path string) (*Iterator, error) {
	return OpenLineRange(path, 1, -1)
}

// OpenLineRange iterates lines start through end inclusive, 1-based;
// end == -1 means through the last line. The leading skip is a
// sequential scan, so this suits whole-file and prefix-heavy reads;
// ranged reads of compressed archives go through their index instead.
func OpenLineRange(path string, start, end int64) (*Iterator, error) {
	if start < 1 || (end != -1 && end < start) {
		return nil, fmt.Errorf("%w: lines [%d, %d]", ErrInvalidRange, start, end)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	AdviseSequential(f)
	it := &Iterator{f: f, sc: NewScanner(f, 0), next: start, limitOff: -1}
	for skipped := int64(0); skipped < start-1; skipped++ {
		if _, err := it.sc.SkipLine(); err != nil {
			// The range starts past the last line.
			it.done = true
			break
		}
	}
	if end != -1 {
		it.remaining = end - start + 1
	} else {
		it.remaining = -1
	}
	return it, nil
}

// OpenByteRange iterates the lines owned by the half-open byte range
// [start, end): those whose first byte lies inside it. The first line
// is the one beginning at start, or the first to begin after it;
// the line containing end-1 is read to completion. end == -1 means
// through the end of the file.
//
// When start > 0 the iterator cannot know absolute line numbers
// without scanning the whole prefix, so Line.Number is 0.
func OpenByteRange(path string, start, end int64) (*Iterator, error) {
	if start < 0 || (end != -1 && end < start) {
		return nil, fmt.Errorf("%w: bytes [%d, %d)", ErrInvalidRange, start, end)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	AdviseSequential(f)
	it := &Iterator{f: f, sc: NewScanner(f, 0), limitOff: end, remaining: -1}
	if start == 0 {
		it.next = 1
		return it, nil
	}
	// Seek just short of the range so the skip lands on the first
	// line starting at or after start: if the byte at start-1 is a
	// newline, the line at start itself is kept.
	if _, err := f.Seek(start-1, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	it.base = start - 1
	if _, err := it.sc.SkipLine(); err != nil {
		it.done = true
	}
	return it, nil
}

// Next returns the next line in the range, or io.EOF when the range
// is exhausted.
func (it *Iterator) Next() (Line, error) {
	if it.err != nil {
		return Line{}, it.err
	}
	if it.done || it.remaining == 0 {
		return Line{}, io.EOF
	}
	if it.limitOff != -1 && it.base+it.sc.Offset() >= it.limitOff {
		it.done = true
		return Line{}, io.EOF
	}
	raw, err := it.sc.NextLine()
	if err != nil {
		if err == io.EOF {
			it.done = true
			return Line{}, io.EOF
		}
		it.err = err
		return Line{}, err
	}
	line := Line{Number: it.next, Content: trimNewline(raw)}
	if it.next > 0 {
		it.next++
	}
	if it.remaining > 0 {
		it.remaining--
	}
	return line, nil
}

// Close releases the underlying file.
func (it *Iterator) Close() error {
	return it.f.Close()
}

func trimNewline(raw []byte) []byte {
	if n := len(raw); n > 0 && raw[n-1] == '\n' {
		return raw[:n-1]
	}
	return raw
}
