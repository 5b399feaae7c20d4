// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Index.CheckpointSize != 32<<20 {
		t.Errorf("checkpoint_size = %d, want %d", cfg.Index.CheckpointSize, 32<<20)
	}
	if cfg.Index.Dir != "" {
		t.Errorf("index.dir = %q, want empty (beside archives)", cfg.Index.Dir)
	}
	if cfg.Split.TargetMB != 4 {
		t.Errorf("target_mb = %v, want 4", cfg.Split.TargetMB)
	}
	if !cfg.Split.Compress {
		t.Error("compress should default to true")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "auto" {
		t.Errorf("log = %+v, want info/auto", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_WithoutEnvUsesDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")
	os.Unsetenv(EnvVar)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Split.TargetMB != 4 {
		t.Errorf("expected defaults, got target_mb = %v", cfg.Split.TargetMB)
	}
}

func TestLoad_WithEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracekit.yaml")

	configContent := `
index:
  dir: /var/cache/tracekit
  checkpoint_size: 1048576
split:
  app: mlperf
  target_mb: 16
  threads: 8
log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv(EnvVar, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Index.Dir != "/var/cache/tracekit" {
		t.Errorf("index.dir = %q", cfg.Index.Dir)
	}
	if cfg.Index.CheckpointSize != 1<<20 {
		t.Errorf("checkpoint_size = %d, want %d", cfg.Index.CheckpointSize, 1<<20)
	}
	if cfg.Split.App != "mlperf" || cfg.Split.TargetMB != 16 || cfg.Split.Threads != 8 {
		t.Errorf("split = %+v", cfg.Split)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}

	// Fields the file does not mention keep their defaults.
	if cfg.Index.LineStride != 4096 {
		t.Errorf("line_stride = %d, want default 4096", cfg.Index.LineStride)
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("log.format = %q, want default auto", cfg.Log.Format)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadFile_ExpandsVariables(t *testing.T) {
	t.Setenv("HOME", "/home/trace")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracekit.yaml")
	configContent := `
index:
  dir: ${HOME}/.cache/tracekit
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Index.Dir != "/home/trace/.cache/tracekit" {
		t.Errorf("index.dir = %q, want expanded HOME", cfg.Index.Dir)
	}
}

func TestExpandVars_Defaults(t *testing.T) {
	os.Unsetenv("TRACEKIT_TEST_UNSET")
	got := expandVars("${TRACEKIT_TEST_UNSET:-/fallback}/idx", nil)
	if got != "/fallback/idx" {
		t.Errorf("expandVars = %q, want /fallback/idx", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative_checkpoint", func(c *Config) { c.Index.CheckpointSize = -1 }, "checkpoint_size"},
		{"negative_target", func(c *Config) { c.Split.TargetMB = -4 }, "target_mb"},
		{"bad_level", func(c *Config) { c.Split.Level = 12 }, "split.level"},
		{"bad_log_level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad_log_format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile_RejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracekit.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(configPath); err == nil {
		t.Error("expected validation error for bad log level")
	}
}
