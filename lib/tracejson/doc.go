// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracejson understands the line-level dialect of Chrome
// trace archives: JSON event objects, one per line, wrapped in a "["
// and "]" line and often comma-terminated while the producing writer
// is still mid-array.
//
// The package answers three questions about a raw line: is it a trace
// event at all (Valid), what are its identity fields (ExtractEvent),
// and what bytes should a rewritten archive carry for it (Trim). It
// also owns the order-insensitive event-set hash the split pipeline
// uses to prove that rechunking lost nothing.
package tracejson
