// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package gzstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tracekit/tracekit/lib/catalog"
	"github.com/tracekit/tracekit/lib/lineio"
	"github.com/tracekit/tracekit/lib/zseek"
)

// source is a primed decoder positioned somewhere inside the
// decompressed stream. It owns the archive file handle and the
// decoder; exactly one stream consumes it.
type source struct {
	f    *os.File
	dec  io.ReadCloser
	sc   *lineio.Scanner
	base int64 // decompressed offset where the scanner started
}

// pos returns the absolute decompressed offset of the next unread
// byte.
func (s *source) pos() int64 {
	return s.base + s.sc.Offset()
}

func (s *source) close() error {
	if s == nil {
		return nil
	}
	s.dec.Close()
	return s.f.Close()
}

// decoderReader maps decoder failures onto the catalog error model:
// a decoder that cannot produce its first byte was primed from a bad
// snapshot (the catalog is untrustworthy), while one that fails after
// producing output hit damaged compressed data. Raw read failures
// pass through untouched — they say nothing about either.
type decoderReader struct {
	rc     io.ReadCloser
	primed bool
}

func (d *decoderReader) Read(p []byte) (int, error) {
	n, err := d.rc.Read(p)
	if n > 0 {
		d.primed = true
	}
	if err == nil || err == io.EOF || errors.Is(err, lineio.ErrIO) {
		return n, err
	}
	kind := zseek.ErrCorruptArchive
	if !d.primed {
		kind = catalog.ErrCorruptIndex
	}
	return n, fmt.Errorf("%w: inflate: %v", kind, err)
}

// prime opens the archive and stands a decoder up from ck's snapshot,
// then discards skip decompressed bytes. The returned source sits at
// offset ck.DecompressedOff+skip.
func (r *Reader) prime(ck catalog.Checkpoint, skip int64) (*source, error) {
	f, err := os.Open(r.archivePath)
	if err != nil {
		return nil, fmt.Errorf("gzstream: opening archive: %w", err)
	}
	lineio.AdviseSequential(f)

	raw := lineio.NewRetryReader(f, ck.Snapshot.CompressedOff, r.retries)
	dec := zseek.NewResumeReader(raw, ck.Snapshot)
	src := &source{
		f:    f,
		dec:  dec,
		sc:   lineio.NewScanner(&decoderReader{rc: dec}, r.bufSize),
		base: ck.DecompressedOff,
	}
	if skip > 0 {
		if err := src.sc.Discard(skip); err != nil {
			src.close()
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// The catalog promised more decompressed bytes than
				// the archive produces.
				return nil, fmt.Errorf("%w: stream ended %d bytes short of offset %d",
					catalog.ErrCorruptIndex, skip-src.sc.Offset(), ck.DecompressedOff+skip)
			}
			return nil, err
		}
	}
	return src, nil
}

// sourceAtByte positions a source at an exact decompressed offset,
// with no line bookkeeping. Used by byte-addressed byte streams.
func (r *Reader) sourceAtByte(ctx context.Context, off int64) (*source, error) {
	ck, err := r.cat.CheckpointAtOrBefore(ctx, r.file.ID, off)
	if err != nil {
		return nil, err
	}
	return r.prime(ck, off-ck.DecompressedOff)
}

// sourceAtLine positions a source at the start of the given line.
// The line map row at or before the line anchors the walk: prime at
// the checkpoint covering the anchor, discard up to the anchor, then
// skip whole lines. Both hops are bounded — the anchor is at most one
// checkpoint interval of bytes past its checkpoint, and at most one
// map stride of lines before the target.
func (r *Reader) sourceAtLine(ctx context.Context, line int64) (*source, error) {
	anchor, err := r.cat.LineStartAtOrBefore(ctx, r.file.ID, line)
	if err != nil {
		return nil, err
	}
	ck, err := r.cat.CheckpointAtOrBefore(ctx, r.file.ID, anchor.Offset)
	if err != nil {
		return nil, err
	}
	src, err := r.prime(ck, anchor.Offset-ck.DecompressedOff)
	if err != nil {
		return nil, err
	}
	for cur := anchor.Number; cur < line; cur++ {
		if _, err := src.sc.SkipLine(); err != nil {
			src.close()
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("%w: archive ends before line %d of %d",
					catalog.ErrCorruptIndex, line, r.file.NumLines)
			}
			return nil, err
		}
	}
	return src, nil
}

// sourceAtFirstLineIn positions a source at the first line starting
// at or after off and returns that line's number. A nil source with a
// nil error means no line starts there — the range owns nothing.
func (r *Reader) sourceAtFirstLineIn(ctx context.Context, off int64) (*source, int64, error) {
	ck, err := r.cat.CheckpointAtOrBefore(ctx, r.file.ID, off)
	if err != nil {
		return nil, 0, err
	}

	// Pick the closest known line start in [ck, off] to walk from.
	// The line map is guaranteed a row for every checkpoint's line,
	// so when the window holds none, the checkpoint's own line is the
	// first to start anywhere at or after ck — and therefore at or
	// after off.
	anchor, found, err := r.cat.LineStartBetween(ctx, r.file.ID, ck.DecompressedOff, off)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		if ck.LineNumber > r.file.NumLines {
			// Checkpoint inside the final line: nothing starts after it.
			return nil, 0, nil
		}
		target, exact, err := r.cat.LineStartAt(ctx, r.file.ID, ck.LineNumber)
		if err != nil {
			return nil, 0, err
		}
		if !exact {
			return nil, 0, fmt.Errorf("%w: checkpoint %d has no line map row for line %d",
				catalog.ErrCorruptIndex, ck.Index, ck.LineNumber)
		}
		src, err := r.prime(ck, target-ck.DecompressedOff)
		if err != nil {
			return nil, 0, err
		}
		return src, ck.LineNumber, nil
	}

	src, err := r.prime(ck, anchor.Offset-ck.DecompressedOff)
	if err != nil {
		return nil, 0, err
	}
	cur := anchor.Number
	for src.pos() < off {
		if _, err := src.sc.SkipLine(); err != nil {
			src.close()
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// The final line starts before off and runs to EOF:
				// no line starts inside the range.
				return nil, 0, nil
			}
			return nil, 0, err
		}
		cur++
	}
	return src, cur, nil
}
