// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"testing"
	"time"
)

// ReceiveOrTimeout reads one value from ch, failing the test if none
// arrives within timeout. Concurrency tests use it instead of a bare
// receive so a stuck worker fails one test rather than hanging the
// binary.
//
//	results := testutil.ReceiveOrTimeout(t, done, 5*time.Second, "parallel run to finish")
func ReceiveOrTimeout[T any](tb testing.TB, ch <-chan T, timeout time.Duration, what string) T {
	tb.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			tb.Fatalf("channel closed while waiting for %s", what)
		}
		return v
	case <-time.After(timeout):
		tb.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
	panic("unreachable")
}

// ClosedOrTimeout waits for ch to close or yield a value, failing the
// test after timeout. Use it for signal channels that report by
// closing.
func ClosedOrTimeout(tb testing.TB, ch <-chan struct{}, timeout time.Duration, what string) {
	tb.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		tb.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
}
