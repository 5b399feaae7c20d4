// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package lineio

import (
	"os"

	"golang.org/x/sys/unix"
)

// AdviseSequential hints the kernel that f will be read start to
// finish, enlarging readahead. Trace scans and priming skips are
// strictly sequential, so the hint is always accurate. Failure is
// ignored: it is an optimization, not a correctness requirement.
func AdviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
