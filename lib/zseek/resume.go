// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package zseek

import (
	"io"

	"github.com/klauspost/compress/flate"
)

// NewResumeReader continues decompression from a snapshot. r must be
// positioned at snap.CompressedOff in the compressed file; the
// returned reader then yields exactly the bytes the original stream
// would have produced from the snapshot's decompressed offset onward.
//
// The caller owns r and any error mapping: reads that fail inside the
// DEFLATE decoder surface as flate errors, not ErrCorruptArchive,
// because from here the decoder cannot tell a damaged archive from a
// damaged snapshot.
func NewResumeReader(r io.Reader, snap Snapshot) io.ReadCloser {
	src := r
	if snap.NumBits > 0 {
		// The boundary fell mid-byte. Synthesize a bit-aligned
		// stream: the pending bits become the low bits of the first
		// byte, and every subsequent input byte is split across two
		// output bytes.
		src = &bitShiftReader{r: r, shift: uint(snap.NumBits), carry: snap.Bits}
	}
	return flate.NewReaderDict(src, snap.Window)
}

// bitShiftReader realigns a DEFLATE bitstream that resumes NumBits
// into a byte. DEFLATE packs data starting at each byte's least
// significant bit, so out[i] carries the pending bits in its low
// positions and borrows the low bits of in[i] for its high ones.
// After the underlying reader is exhausted one final byte holds the
// last carried bits; the decoder never consumes past the final block,
// so the zero padding in that byte is harmless.
type bitShiftReader struct {
	r       io.Reader
	shift   uint // 1 through 7
	carry   byte
	scratch []byte
	err     error
	flushed bool
}

func (b *bitShiftReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.err != nil {
		return b.finish(p)
	}
	if b.scratch == nil {
		b.scratch = make([]byte, 32<<10)
	}
	limit := len(p)
	if limit > len(b.scratch) {
		limit = len(b.scratch)
	}

	n, err := b.r.Read(b.scratch[:limit])
	for i, in := range b.scratch[:n] {
		p[i] = b.carry | in<<b.shift
		b.carry = in >> (8 - b.shift)
	}
	if err != nil {
		b.err = err
		if n == 0 {
			return b.finish(p)
		}
	}
	return n, nil
}

// finish emits the final carry byte once, then surfaces the stored
// error.
func (b *bitShiftReader) finish(p []byte) (int, error) {
	if b.err == io.EOF && !b.flushed {
		b.flushed = true
		p[0] = b.carry
		return 1, nil
	}
	return 0, b.err
}
