// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package zseek provides the DEFLATE-level mechanics for random access
// into gzip archives: a scanning decoder that reports resumable block
// boundaries while decompressing, and a resume path that continues
// decompression from a previously captured boundary without reading
// any earlier compressed bytes.
//
// The two halves meet in the Snapshot type. During an indexing scan,
// Scanner produces a Snapshot at any inter-block boundary: the file
// offset of the next compressed byte, the zero-to-seven pending bits
// of the preceding partially consumed byte, and the trailing 32 KiB
// of decompressed history (the sliding window). Later, NewResumeReader
// rebuilds a decoder from that Snapshot and a file positioned at the
// recorded offset, yielding exactly the bytes the original stream
// would have produced from that point on.
//
// Scanner is deliberately a full RFC 1951 decoder rather than a
// wrapper: resumable boundaries live between DEFLATE blocks, a level
// of detail the standard library and klauspost inflaters do not
// expose. It is used only while building an index, where the archive
// must be decompressed end to end anyway. The resume path, which is
// the hot path for every ranged read, runs on klauspost's flate
// decoder primed with the snapshot window.
package zseek
