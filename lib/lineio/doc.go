// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package lineio provides newline-delimited scanning over byte
// streams: the Line type shared by every reader in the module, a
// zero-copy Scanner that tracks its absolute offset while splitting
// lines, and file iterators for uncompressed traces with the same
// range semantics as the indexed gzip path.
//
// The boundary rule is uniform across the module: a line belongs to a
// byte range when its first byte lies inside the range, and the line
// owning the range end is read to completion even though its tail
// falls outside. Scanner exposes exactly the operations that rule
// needs — skip whole lines, discard counted bytes, and split lines
// while reporting how far into the stream each one starts.
package lineio
