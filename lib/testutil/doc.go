// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for tracekit packages.
//
// [EventLine] and [TraceText] build deterministic trace payloads: JSON
// event lines shaped like the pfw writer emits them, including the
// opening bracket line and trailing commas that real archives carry.
// [WriteTrace] and [WriteTraceGz] materialize those payloads as plain
// and gzip-compressed files under a test directory.
//
// [ReceiveOrTimeout] and [ClosedOrTimeout] guard channel operations in
// concurrency tests with a wall-clock timeout, so a deadlocked worker
// fails the test instead of hanging the binary.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no tracekit-internal dependencies.
package testutil
