// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for tracekit
// commands.
//
// Configuration comes from a single optional file named by either the
// TRACEKIT_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no ~/.config discovery and no
// automatic file search: when neither is set, the built-in defaults
// apply. Command-line flags always override the file.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${TMPDIR}, and ${VAR:-default} patterns are expanded. No
// other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Index, Split, and Log sections
//   - [Default] -- returns the built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other tracekit packages.
package config
