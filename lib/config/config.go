// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that points at the config
// file.
const EnvVar = "TRACEKIT_CONFIG"

// Config is the file-level configuration for tracekit commands. Every
// field has a working built-in default; the file only overrides, and
// command-line flags override the file.
type Config struct {
	// Index configures archive index construction and lookup.
	Index IndexConfig `yaml:"index"`

	// Split configures the chunk-split pipeline.
	Split SplitConfig `yaml:"split"`

	// Log configures command logging.
	Log LogConfig `yaml:"log"`
}

// IndexConfig configures archive indexes.
type IndexConfig struct {
	// Dir is where index files are written and looked up. Empty
	// places each index next to its archive.
	Dir string `yaml:"dir"`

	// CheckpointSize is the decompressed distance between index
	// checkpoints, in bytes.
	CheckpointSize int64 `yaml:"checkpoint_size"`

	// LineStride is the line-map sampling interval.
	LineStride int64 `yaml:"line_stride"`

	// ReadRetries is how many times a failed archive read is retried
	// before the error surfaces.
	ReadRetries int `yaml:"read_retries"`
}

// SplitConfig configures the split pipeline.
type SplitConfig struct {
	// App prefixes chunk file names.
	App string `yaml:"app"`

	// TargetMB is the chunk size the planner packs toward.
	TargetMB float64 `yaml:"target_mb"`

	// Compress gzips finished chunks; Level is the gzip level, with 0
	// selecting the library default.
	Compress bool `yaml:"compress"`
	Level    int  `yaml:"level"`

	// Threads bounds the worker pools. Zero selects all cores.
	Threads int `yaml:"threads"`

	// Verify re-reads inputs after extraction and compares event
	// sets.
	Verify bool `yaml:"verify"`
}

// LogConfig configures command logging.
type LogConfig struct {
	// Level is the minimum level emitted: debug, info, warn, or
	// error.
	Level string `yaml:"level"`

	// Format is text, json, or auto (text on terminals, json
	// otherwise).
	Format string `yaml:"format"`
}

// Default returns the built-in configuration: index beside each
// archive, 32 MiB checkpoints, 4 MiB chunks, compression on.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			CheckpointSize: 32 << 20,
			LineStride:     4096,
			ReadRetries:    2,
		},
		Split: SplitConfig{
			App:      "app",
			TargetMB: 4,
			Compress: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load returns the active configuration: the file named by
// TRACEKIT_CONFIG when the variable is set, the built-in defaults
// otherwise. Commands pass an explicit --config path to LoadFile
// instead.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging it
// over the defaults. The only expansion performed is ${HOME} and
// similar variables in paths, for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":   os.Getenv("HOME"),
		"TMPDIR": os.TempDir(),
	}
	c.Index.Dir = expandVars(c.Index.Dir, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Index.CheckpointSize < 0 {
		errs = append(errs, fmt.Errorf("index.checkpoint_size must not be negative"))
	}
	if c.Index.LineStride < 0 {
		errs = append(errs, fmt.Errorf("index.line_stride must not be negative"))
	}
	if c.Index.ReadRetries < 0 {
		errs = append(errs, fmt.Errorf("index.read_retries must not be negative"))
	}

	if c.Split.TargetMB < 0 {
		errs = append(errs, fmt.Errorf("split.target_mb must not be negative"))
	}
	if c.Split.Level < -2 || c.Split.Level > 9 {
		errs = append(errs, fmt.Errorf("split.level must be a gzip level between -2 and 9"))
	}
	if c.Split.Threads < 0 {
		errs = append(errs, fmt.Errorf("split.threads must not be negative"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}
	formats := []string{"auto", "text", "json"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	return errors.Join(errs...)
}
