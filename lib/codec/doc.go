// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides tracekit's standard CBOR encoding configuration.
//
// Tracekit uses two serialization formats with a clear boundary:
//
//   - JSON for trace data itself: trace events are JSON lines inside
//     the archives, and the CLI emits JSON where callers ask for it.
//   - CBOR for tool state: saved split plans — the collect results and
//     chunk manifests that one invocation writes and a later one
//     replays.
//
// This package holds the shared encode and decode modes so every
// tracekit package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2); same logical data always produces identical bytes,
// which is what lets a saved plan be fingerprinted and compared across
// runs. The decoder raises the array-size cap for plans over very
// large trace directories and rejects duplicate map keys outright,
// since those only appear in corrupt or hand-edited files.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// Persisted types carry `json` tags only: fxamacker/cbor v2 falls back
// to `json` tags when `cbor` tags are absent, so one tag controls
// field naming and omitempty for both the CBOR plan encoding and CLI
// --json output. Reserve `cbor` tags for types that will only ever be
// CBOR (today there are none), and never put both tags on one field —
// the tag choice documents the contract, and doubling up obscures it.
package codec
