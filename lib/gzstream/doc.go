// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package gzstream reads ranges out of indexed gzip trace archives.
//
// A [Reader] pairs one archive with its catalog and hands out
// independent streams over any byte or line range. Stream
// construction finds the greatest checkpoint at or before the range
// start, primes a DEFLATE decoder from its snapshot, and discards the
// short stretch between the checkpoint and the requested position, so
// a ranged read costs at most one checkpoint interval of extra
// decompression no matter how deep into the archive it lands.
//
// Five stream shapes cover the consumers in this repo:
//
//   - [ByteStream] — raw decompressed bytes, an io.Reader
//   - [LineBytesStream] — one line per call, newline included, into a
//     caller buffer
//   - [MultiLineBytesStream] — a buffer of only-complete lines per
//     call, partial lines carried internally
//   - [LineStream] — one parsed line per call: borrowed content
//     without the newline, plus its 1-based number
//   - [MultiLineStream] — a batch of parsed lines per call
//
// Ranges come in two kinds. A byte range [a, b) owns every line that
// starts inside it, so adjacent ranges partition a file's lines with
// no duplicates and no gaps — the property the parallel chunk
// extractor is built on. A line range names lines directly,
// inclusive on both ends.
//
// A Reader is safe to share across goroutines; every stream it
// produces owns a private file handle and decoder and must be used
// from one goroutine at a time.
package gzstream
