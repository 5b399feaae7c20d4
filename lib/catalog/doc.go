// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog persists the random-access index for gzip trace
// archives: for each archive, the decoder checkpoints captured at
// DEFLATE block boundaries, a sparse map from line numbers to
// decompressed offsets, and file-level aggregates (sizes, line count,
// checkpoint spacing, fingerprint).
//
// A catalog is a SQLite database, usually one per archive sitting
// next to it with an .idx suffix. Three tables:
//
//	files        one row per archive; committed last, so its presence
//	             marks a complete build
//	checkpoints  (ckpt_idx, compressed_off, decompressed_off,
//	             line_number, bits, num_unused_bits, window)
//	lines        sparse (line_number, decompressed_off) pairs: every
//	             strideth line, the first and last line, and the
//	             anchor line of every checkpoint
//
// Writes go through [Catalog.BeginBuild], which wraps the whole build
// in one IMMEDIATE transaction: a crashed build leaves no files row
// and therefore reads as absent, never as partial. Reads are plain
// pool queries and may run concurrently with each other.
//
// Checkpoint windows are stored through the zseek window codec, which
// adds a checksum over the raw window. Any decode failure on the read
// path — as well as any structurally impossible row — surfaces as
// [ErrCorruptIndex]; the catalog is derived data and the only remedy
// is a rebuild.
package catalog
