// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Tracekit is the CLI for indexed trace archives. It provides
// subcommands for splitting trace directories into fixed-size chunks
// (split, plan), building and inspecting archive indexes (index,
// info), ranged reads and counting (read, count), and parallel
// in-place compression (pgzip).
package main
