// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package lineio

import "os"

// AdviseSequential is a no-op where posix_fadvise is unavailable.
func AdviseSequential(_ *os.File) {}
