// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package lineio

import (
	"bytes"
	"io"
)

// DefaultBufferSize is the Scanner read buffer when the caller does
// not choose one.
const DefaultBufferSize = 256 << 10

// Scanner splits an io.Reader into newline-terminated lines while
// tracking how many bytes it has consumed. Lines that fit inside the
// read buffer are returned as sub-slices of it, so the common case
// does no copying; a returned slice is valid only until the next
// Scanner call.
//
// Offset reports bytes consumed from the underlying reader, which for
// a reader positioned mid-stream the caller turns into an absolute
// position by adding its own base.
type Scanner struct {
	r          io.Reader
	buf        []byte
	start, end int
	spill      []byte // lines that straddle buffer refills
	spillOut   bool   // previous NextLine returned spill
	off        int64
	eof        bool
	err        error
}

// NewScanner wraps r with the given read buffer size; bufSize <= 0
// selects DefaultBufferSize.
func NewScanner(r io.Reader, bufSize int) *Scanner {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Scanner{r: r, buf: make([]byte, bufSize)}
}

// Offset returns the number of bytes consumed so far.
func (s *Scanner) Offset() int64 {
	return s.off
}

// fill refreshes the buffered window. It returns io.EOF only with an
// empty window.
func (s *Scanner) fill() error {
	if s.err != nil {
		return s.err
	}
	if s.eof {
		return io.EOF
	}
	s.start, s.end = 0, 0
	for {
		n, err := s.r.Read(s.buf)
		s.end = n
		if err != nil {
			if err == io.EOF {
				s.eof = true
				if n == 0 {
					return io.EOF
				}
				return nil
			}
			s.err = err
			if n == 0 {
				return err
			}
			return nil
		}
		if n > 0 {
			return nil
		}
	}
}

// NextLine returns the next line including its trailing newline; the
// final line of the stream may lack one. It returns io.EOF when the
// stream is exhausted. The returned slice is valid until the next
// call on the Scanner.
func (s *Scanner) NextLine() ([]byte, error) {
	if s.spillOut {
		s.spill = s.spill[:0]
		s.spillOut = false
	}
	for {
		if s.start == s.end {
			if err := s.fill(); err != nil {
				if err == io.EOF && len(s.spill) > 0 {
					// Final line without a newline. Its bytes were
					// counted as they spilled.
					s.spillOut = true
					return s.spill, nil
				}
				return nil, err
			}
		}
		window := s.buf[s.start:s.end]
		if idx := bytes.IndexByte(window, '\n'); idx >= 0 {
			s.start += idx + 1
			s.off += int64(idx + 1)
			if len(s.spill) == 0 {
				return window[:idx+1], nil
			}
			s.spill = append(s.spill, window[:idx+1]...)
			s.spillOut = true
			return s.spill, nil
		}
		s.spill = append(s.spill, window...)
		s.off += int64(len(window))
		s.start = s.end
	}
}

// SkipLine consumes one whole line, returning the number of bytes
// dropped. A stream that ends before the newline is reported as
// io.ErrUnexpectedEOF, or io.EOF when nothing was left at all.
func (s *Scanner) SkipLine() (int64, error) {
	if s.spillOut {
		s.spill = s.spill[:0]
		s.spillOut = false
	}
	var skipped int64
	for {
		if s.start == s.end {
			if err := s.fill(); err != nil {
				if err == io.EOF && skipped > 0 {
					return skipped, io.ErrUnexpectedEOF
				}
				return skipped, err
			}
		}
		window := s.buf[s.start:s.end]
		if idx := bytes.IndexByte(window, '\n'); idx >= 0 {
			s.start += idx + 1
			skipped += int64(idx + 1)
			s.off += int64(idx + 1)
			return skipped, nil
		}
		skipped += int64(len(window))
		s.off += int64(len(window))
		s.start = s.end
	}
}

// Discard consumes exactly n bytes. A stream that ends early is
// reported as io.ErrUnexpectedEOF.
func (s *Scanner) Discard(n int64) error {
	if s.spillOut {
		s.spill = s.spill[:0]
		s.spillOut = false
	}
	for n > 0 {
		if s.start == s.end {
			if err := s.fill(); err != nil {
				if err == io.EOF {
					return io.ErrUnexpectedEOF
				}
				return err
			}
		}
		take := int64(s.end - s.start)
		if take > n {
			take = n
		}
		s.start += int(take)
		s.off += take
		n -= take
	}
	return nil
}

// Read drains buffered bytes first and then reads through, so the
// Scanner can alternate between line splitting and raw copying
// without losing its place.
func (s *Scanner) Read(p []byte) (int, error) {
	if s.spillOut {
		s.spill = s.spill[:0]
		s.spillOut = false
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.start < s.end {
		n := copy(p, s.buf[s.start:s.end])
		s.start += n
		s.off += int64(n)
		return n, nil
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.eof {
		return 0, io.EOF
	}
	n, err := s.r.Read(p)
	s.off += int64(n)
	if err == io.EOF {
		s.eof = true
	} else if err != nil {
		s.err = err
	}
	return n, err
}
