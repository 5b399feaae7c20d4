// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package splitter

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Job is a split run described as a file: the same knobs as Options,
// authored as JSONC (JSON with // comments, /* blocks */, and
// trailing commas). Command-line flags override whatever the job
// sets.
type Job struct {
	InputDir  string  `json:"input_dir"`
	OutputDir string  `json:"output_dir"`
	App       string  `json:"app"`
	TargetMB  float64 `json:"target_mb"`

	// Compress is a pointer so an explicit false survives the
	// zero-means-unset overlay rule.
	Compress *bool `json:"compress"`

	Level          int    `json:"level"`
	ForceRebuild   bool   `json:"force_rebuild"`
	CheckpointSize int64  `json:"checkpoint_size"`
	LineStride     int64  `json:"line_stride"`
	IndexDir       string `json:"index_dir"`
	Threads        int    `json:"threads"`
	Verify         bool   `json:"verify"`
	PlanIn         string `json:"plan_in"`
	PlanOut        string `json:"plan_out"`
}

// ParseJob strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Job.
func ParseJob(data []byte) (Job, error) {
	stripped := jsonc.ToJSON(data)

	var job Job
	if err := json.Unmarshal(stripped, &job); err != nil {
		return Job{}, fmt.Errorf("parsing job: %w", err)
	}
	return job, nil
}

// ReadJob reads a JSONC job file from disk and parses it.
func ReadJob(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("reading %s: %w", path, err)
	}
	job, err := ParseJob(data)
	if err != nil {
		return Job{}, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}
