// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package zseek

// WindowSize is the DEFLATE sliding window: the maximum backward
// distance a match can reference, and therefore the maximum history a
// resume point ever needs. Value fixed by RFC 1951.
const WindowSize = 32768

// Snapshot is the complete decoder state at an inter-block boundary.
// Together with the compressed file it was taken from, it is
// sufficient to continue decompression as if the stream had been read
// from the beginning.
type Snapshot struct {
	// CompressedOff is the file offset of the first compressed byte
	// a resumed decoder should read. When NumBits > 0 the byte at
	// CompressedOff-1 was only partially consumed; its pending high
	// bits are carried in Bits, so resume never re-reads it.
	CompressedOff int64

	// Bits holds the pending (not yet consumed) high bits of the
	// last compressed byte, shifted down to the low positions. Zero
	// when the boundary is byte-aligned.
	Bits uint8

	// NumBits is how many bits of Bits are meaningful, 0 through 7.
	NumBits uint8

	// Window is the most recent decompressed output before the
	// boundary, oldest byte first: WindowSize bytes once the stream
	// has produced that much, fewer near the start of the stream.
	Window []byte
}
