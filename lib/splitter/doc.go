// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package splitter turns a directory of trace files into fixed-size
// chunks of newline-delimited JSON events. It is the engine behind
// `tracekit split`.
//
// A run has four phases, each parallelized over a bounded worker set
// (lib/batch):
//
//  1. Collect: stat every input, index gzip archives (lib/indexer),
//     and produce one FileMetadata per file with its line span, event
//     count, and size.
//  2. Plan: greedily pack the metadata into ChunkManifests of roughly
//     TargetMB each. Files larger than the target are split by line
//     fraction; the line offsets in the resulting ChunkSpecs are
//     authoritative, the byte offsets advisory.
//  3. Extract: stream each manifest's line ranges (lib/gzstream for
//     archives, lib/lineio for plain files), keep the lines that parse
//     as events, and write one bracketed chunk per manifest.
//  4. Verify (optional): re-read the inputs and compare the keyed
//     event-set hash of what went in against the hash of what the
//     chunks carried out. The hash is order-independent, so the check
//     is stable across worker counts.
//
// Plans can be saved to and restored from CBOR plan files, which makes
// the expensive collect phase reusable across runs over the same
// inputs. Job files (JSONC) bundle a full set of run options for
// repeated invocations.
package splitter
