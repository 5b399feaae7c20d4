// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package version identifies a tracekit build. Release builds inject
// the variables below with -ldflags:
//
//	go build -ldflags "\
//	  -X github.com/tracekit/tracekit/lib/version.Release=0.2.0 \
//	  -X github.com/tracekit/tracekit/lib/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/tracekit/tracekit/lib/version.Dirty=$(test -z "$(git status --porcelain)" || echo true)"
//
// Uninjected builds report the dev defaults.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Release is the semantic version of the build.
	Release = "0.1.0-dev"

	// Commit is the short git revision, or "unknown" for builds made
	// outside a checkout.
	Commit = "unknown"

	// Dirty is "true" when the build tree had uncommitted changes.
	Dirty = ""
)

// String renders the build as a single token, semver build-metadata
// style: "0.1.0-dev+ab12cd3" or "0.1.0-dev+ab12cd3.dirty". Plan files
// embed this so a stale plan names the binary that produced it.
func String() string {
	s := Release + "+" + Commit
	if Dirty == "true" {
		s += ".dirty"
	}
	return s
}

// Full renders the multi-line form for `tracekit version`: the build
// token plus the toolchain and platform it runs on.
func Full() string {
	return fmt.Sprintf("%s\n  go: %s\n  platform: %s/%s",
		String(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
