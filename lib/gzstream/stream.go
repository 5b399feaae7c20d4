// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package gzstream

import (
	"fmt"
	"io"

	"github.com/tracekit/tracekit/lib/catalog"
	"github.com/tracekit/tracekit/lib/lineio"
)

// lineSource walks the lines of one range. It is the shared engine
// behind the four line-oriented stream kinds: it fetches raw lines
// from the primed source, numbers them, and stops at the range end —
// the line budget for line-addressed ranges, the first line starting
// at or past the limit for byte-addressed ones.
type lineSource struct {
	src       *source
	cur       int64 // number of the line starting at the current position
	linesLeft int64 // lines left to yield; -1 for byte-addressed ranges
	endOff    int64 // no line starts at or past this; -1 for line-addressed
	done      bool
	err       error
}

// next returns the next raw line, newline included (the final line of
// the archive may lack one), and its 1-based number. It returns
// io.EOF once the range is exhausted, on this and every later call.
func (ls *lineSource) next() ([]byte, int64, error) {
	if ls.err != nil {
		return nil, 0, ls.err
	}
	if ls.done {
		return nil, 0, io.EOF
	}
	if ls.linesLeft == 0 || (ls.endOff >= 0 && ls.src.pos() >= ls.endOff) {
		ls.finish()
		return nil, 0, io.EOF
	}

	raw, err := ls.src.sc.NextLine()
	if err == io.EOF {
		if ls.linesLeft > 0 {
			// The catalog's line count promised more.
			ls.err = fmt.Errorf("%w: archive ends %d lines short of the requested range",
				catalog.ErrCorruptIndex, ls.linesLeft)
			ls.finish()
			return nil, 0, ls.err
		}
		ls.finish()
		return nil, 0, io.EOF
	}
	if err != nil {
		ls.err = err
		ls.finish()
		return nil, 0, err
	}

	number := ls.cur
	ls.cur++
	if ls.linesLeft > 0 {
		ls.linesLeft--
	}
	return raw, number, nil
}

// finish closes the underlying source and marks the range exhausted.
// Buffered bytes already handed out stay valid; only the file handle
// and decoder are released.
func (ls *lineSource) finish() {
	ls.done = true
	if ls.src != nil {
		ls.src.close()
		ls.src = nil
	}
}

func (ls *lineSource) close() error {
	ls.finish()
	return nil
}

func trimNL(raw []byte) []byte {
	if n := len(raw); n > 0 && raw[n-1] == '\n' {
		return raw[:n-1]
	}
	return raw
}

// ByteStream yields the raw decompressed bytes of a range. It
// implements io.Reader; Read returns io.EOF once the range is
// exhausted.
type ByteStream struct {
	src       *source
	remaining int64 // byte budget; -1 when line-addressed
	linesLeft int64 // line budget; -1 when byte-addressed
	pending   []byte
	done      bool
	err       error
}

func (b *ByteStream) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.remaining >= 0 {
		return b.readBytes(p)
	}
	return b.readLines(p)
}

// readBytes serves byte-addressed ranges straight from the source.
func (b *ByteStream) readBytes(p []byte) (int, error) {
	if b.remaining == 0 {
		b.finish()
		return 0, io.EOF
	}
	limit := int64(len(p))
	if limit > b.remaining {
		limit = b.remaining
	}
	n, err := b.src.sc.Read(p[:limit])
	b.remaining -= int64(n)
	if err == io.EOF && b.remaining > 0 {
		b.err = fmt.Errorf("%w: archive ends %d bytes short of the requested range",
			catalog.ErrCorruptIndex, b.remaining)
		b.finish()
		if n > 0 {
			return n, nil
		}
		return 0, b.err
	}
	if err != nil && err != io.EOF {
		b.err = err
		b.finish()
		if n > 0 {
			return n, nil
		}
		return 0, err
	}
	if b.remaining == 0 {
		b.finish()
	}
	return n, nil
}

// readLines serves line-addressed ranges by draining whole lines into
// p, carrying any cut line across calls.
func (b *ByteStream) readLines(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(b.pending) == 0 {
			if b.linesLeft == 0 {
				b.finish()
				break
			}
			raw, err := b.src.sc.NextLine()
			if err == io.EOF {
				if b.linesLeft > 0 {
					b.err = fmt.Errorf("%w: archive ends %d lines short of the requested range",
						catalog.ErrCorruptIndex, b.linesLeft)
				}
				b.finish()
				break
			}
			if err != nil {
				b.err = err
				b.finish()
				break
			}
			b.pending = raw
			b.linesLeft--
		}
		c := copy(p[n:], b.pending)
		b.pending = b.pending[c:]
		n += c
	}
	if n > 0 {
		return n, nil
	}
	if b.err != nil {
		return 0, b.err
	}
	return 0, io.EOF
}

func (b *ByteStream) finish() {
	b.done = true
	if b.src != nil {
		b.src.close()
		b.src = nil
	}
}

// Close releases the stream's file handle and decoder. Safe to call
// at any point and more than once.
func (b *ByteStream) Close() error {
	b.finish()
	return nil
}

// LineStream yields one parsed line per call: content without the
// trailing newline, plus the line's 1-based number in the archive.
// The content slice is valid until the next call on the stream.
type LineStream struct {
	ls *lineSource
}

// Next returns the next line of the range, or io.EOF when the range
// is exhausted.
func (s *LineStream) Next() (lineio.Line, error) {
	raw, number, err := s.ls.next()
	if err != nil {
		return lineio.Line{}, err
	}
	return lineio.Line{Number: number, Content: trimNL(raw)}, nil
}

// Close releases the stream's file handle and decoder.
func (s *LineStream) Close() error {
	return s.ls.close()
}

// MultiLineStream yields batches of parsed lines. Batches are sized
// by batchLines and batchBytes, whichever fills first. Returned line
// contents share one backing buffer that is reused by the next call.
type MultiLineStream struct {
	ls    *lineSource
	batch []lineio.Line
	arena []byte
}

const (
	batchLines = 1024
	batchBytes = 256 << 10
)

// Next returns the next batch of lines in the range, or io.EOF when
// the range is exhausted. A batch holds at least one line.
func (s *MultiLineStream) Next() ([]lineio.Line, error) {
	type span struct {
		number     int64
		start, end int
	}
	var spans []span

	s.arena = s.arena[:0]
	for len(spans) < batchLines && len(s.arena) < batchBytes {
		raw, number, err := s.ls.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(spans) > 0 {
				// Deliver what we have; the sticky error resurfaces
				// on the next call.
				break
			}
			return nil, err
		}
		content := trimNL(raw)
		start := len(s.arena)
		s.arena = append(s.arena, content...)
		spans = append(spans, span{number: number, start: start, end: len(s.arena)})
	}
	if len(spans) == 0 {
		return nil, io.EOF
	}

	s.batch = s.batch[:0]
	for _, sp := range spans {
		s.batch = append(s.batch, lineio.Line{Number: sp.number, Content: s.arena[sp.start:sp.end]})
	}
	return s.batch, nil
}

// Close releases the stream's file handle and decoder.
func (s *MultiLineStream) Close() error {
	return s.ls.close()
}

// LineBytesStream yields one raw line per call into a caller
// buffer, newline included (the final line of the archive may lack
// one). A buffer too small for the next line fails with
// lineio.ErrBufferTooSmall without consuming the line; the same call
// with a larger buffer returns it.
type LineBytesStream struct {
	ls      *lineSource
	pending []byte
}

// Next copies the next line into buf and returns its length, or
// io.EOF when the range is exhausted.
func (s *LineBytesStream) Next(buf []byte) (int, error) {
	if s.pending == nil {
		raw, _, err := s.ls.next()
		if err != nil {
			return 0, err
		}
		s.pending = raw
	}
	if len(s.pending) > len(buf) {
		return 0, fmt.Errorf("%w: next line is %d bytes, buffer holds %d",
			lineio.ErrBufferTooSmall, len(s.pending), len(buf))
	}
	n := copy(buf, s.pending)
	s.pending = nil
	return n, nil
}

// Close releases the stream's file handle and decoder.
func (s *LineBytesStream) Close() error {
	return s.ls.close()
}

// MultiLineBytesStream fills a caller buffer with complete raw lines,
// newlines included. A line that does not fit in the remaining space
// is carried to the next call, so every returned buffer ends at a
// line boundary. A buffer too small for even one line fails with
// lineio.ErrBufferTooSmall.
type MultiLineBytesStream struct {
	ls      *lineSource
	pending []byte
}

// Next fills buf with as many complete lines as fit and returns the
// byte count, or io.EOF when the range is exhausted.
func (s *MultiLineBytesStream) Next(buf []byte) (int, error) {
	n := 0
	for {
		if len(s.pending) == 0 {
			raw, _, err := s.ls.next()
			if err == io.EOF {
				break
			}
			if err != nil {
				if n > 0 {
					// Deliver complete lines first; the sticky error
					// resurfaces on the next call.
					return n, nil
				}
				return 0, err
			}
			s.pending = raw
		}
		if len(s.pending) > len(buf)-n {
			if n == 0 {
				return 0, fmt.Errorf("%w: next line is %d bytes, buffer holds %d",
					lineio.ErrBufferTooSmall, len(s.pending), len(buf))
			}
			break
		}
		n += copy(buf[n:], s.pending)
		s.pending = nil
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Close releases the stream's file handle and decoder.
func (s *MultiLineBytesStream) Close() error {
	return s.ls.close()
}
