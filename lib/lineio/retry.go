// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package lineio

import (
	"errors"
	"fmt"
	"io"
)

// ErrIO reports a raw read that failed even after retries. Consumers
// use it to tell infrastructure failures apart from data corruption:
// a read error wrapped in ErrIO says nothing about the bytes, only
// that they could not be fetched.
var ErrIO = errors.New("lineio: io error")

// DefaultReadRetries is how many times a failed raw read is repeated
// before the error surfaces.
const DefaultReadRetries = 2

// RetryReader adapts an io.ReaderAt into a sequential io.Reader that
// retries transient read failures. Each Read re-issues the same
// positioned read until it yields bytes, hits EOF, or exhausts the
// retry budget; because the position only advances on success, a
// retry can never skip or duplicate bytes. Decoder-level errors are
// not retried — only the raw file read is.
type RetryReader struct {
	r       io.ReaderAt
	off     int64
	retries int
}

// NewRetryReader reads sequentially from r starting at off, retrying
// each failed read up to retries additional times. retries < 0 selects
// DefaultReadRetries.
func NewRetryReader(r io.ReaderAt, off int64, retries int) *RetryReader {
	if retries < 0 {
		retries = DefaultReadRetries
	}
	return &RetryReader{r: r, off: off, retries: retries}
}

// Offset returns the file offset of the next byte to read.
func (r *RetryReader) Offset() int64 {
	return r.off
}

func (r *RetryReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		n, err := r.r.ReadAt(p, r.off)
		if n > 0 {
			r.off += int64(n)
			if err == io.EOF {
				return n, io.EOF
			}
			// A partial read with a non-EOF error: report the bytes;
			// if the failure is real it will recur on the next call.
			return n, nil
		}
		if err == io.EOF {
			return 0, io.EOF
		}
		if err == nil {
			// ReaderAt contract violation; treat as a zero-byte read.
			continue
		}
		lastErr = err
	}
	return 0, fmt.Errorf("%w: read at offset %d failed after %d attempts: %v",
		ErrIO, r.off, r.retries+1, lastErr)
}
