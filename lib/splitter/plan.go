// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package splitter

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/tracekit/tracekit/lib/codec"
	"github.com/tracekit/tracekit/lib/version"
)

// DefaultTargetMB is the chunk size the planner packs toward when the
// caller does not choose one.
const DefaultTargetMB = 4.0

// sizeSlack absorbs float drift when deciding whether a remainder
// fits a manifest exactly.
const sizeSlack = 1e-9

// ChunkSpec names one contiguous slice of one input file. StartLine
// and EndLine (1-based, inclusive) are authoritative; StartByte and
// EndByte (half-open) are interpolated estimates kept for tooling
// that wants to seek without line information.
type ChunkSpec struct {
	Path        string `json:"path"`
	CatalogPath string `json:"catalog_path,omitempty"`
	StartByte   int64  `json:"start_byte"`
	EndByte     int64  `json:"end_byte"`
	StartLine   int64  `json:"start_line"`
	EndLine     int64  `json:"end_line"`
}

// ChunkManifest is the work order for one output chunk: the file
// slices whose events it will carry, in input order.
type ChunkManifest struct {
	Index  int         `json:"index"`
	Specs  []ChunkSpec `json:"specs"`
	SizeMB float64     `json:"size_mb"`
}

// Plan packs files into manifests of roughly targetMB each, in input
// order. A file whose remainder fits the open manifest is placed
// whole; otherwise a line-proportional prefix fills the manifest
// exactly and the suffix carries over. Every successfully collected,
// non-empty file is covered by exactly one ordered sequence of specs,
// so concatenating the manifests replays the inputs in order.
//
// A nonpositive target packs everything into a single manifest.
func Plan(files []FileMetadata, targetMB float64) []ChunkManifest {
	if targetMB <= 0 {
		targetMB = math.Inf(1)
	}

	var manifests []ChunkManifest
	current := ChunkManifest{}
	remaining := targetMB

	closeCurrent := func() {
		manifests = append(manifests, current)
		current = ChunkManifest{Index: len(manifests)}
		remaining = targetMB
	}

	for _, f := range files {
		if !f.Success || f.EndLine < f.StartLine || f.StartLine == 0 {
			continue
		}
		spanStart := f.StartLine
		spanEnd := f.EndLine
		sizeLeft := f.SizeMB

		for spanStart <= spanEnd {
			if sizeLeft <= remaining+sizeSlack {
				current.Specs = append(current.Specs, f.spec(spanStart, spanEnd))
				current.SizeMB += sizeLeft
				remaining -= sizeLeft
				if remaining <= sizeSlack {
					closeCurrent()
				}
				break
			}

			// The remainder is bigger than the room left: cut a
			// prefix proportional to the room and close the manifest.
			span := spanEnd - spanStart + 1
			take := int64(math.Round(remaining / sizeLeft * float64(spanEnd-spanStart)))
			if take >= span {
				take = span
			}
			if take < 1 {
				if len(current.Specs) > 0 {
					// Not even one line fits; give the file a fresh
					// manifest instead of overfilling this one.
					closeCurrent()
					continue
				}
				// A single line heavier than the target still has to
				// go somewhere: it becomes an oversized manifest.
				take = 1
			}

			current.Specs = append(current.Specs, f.spec(spanStart, spanStart+take-1))
			placed := sizeLeft * float64(take) / float64(span)
			current.SizeMB += placed
			sizeLeft -= placed
			spanStart += take
			closeCurrent()
		}
	}

	if len(current.Specs) > 0 {
		manifests = append(manifests, current)
	}
	return manifests
}

// spec builds the slice [startLine, endLine] of f, with byte bounds
// interpolated from the line positions.
func (f FileMetadata) spec(startLine, endLine int64) ChunkSpec {
	return ChunkSpec{
		Path:        f.Path,
		CatalogPath: f.CatalogPath,
		StartByte:   f.lineByteEstimate(startLine),
		EndByte:     f.lineByteEstimate(endLine + 1),
		StartLine:   startLine,
		EndLine:     endLine,
	}
}

// lineByteEstimate interpolates the byte offset where a line starts,
// assuming uniform line length. Line EndLine+1 maps to the file end.
func (f FileMetadata) lineByteEstimate(line int64) int64 {
	if line <= 1 || f.EndLine <= 0 || f.SizeBytes <= 0 {
		return 0
	}
	if line > f.EndLine {
		return f.SizeBytes
	}
	return int64(float64(line-1) / float64(f.EndLine) * float64(f.SizeBytes))
}

// planVersion is bumped when the plan file layout changes
// incompatibly.
const planVersion = 1

// PlanFile is the persisted output of the collect and plan phases. A
// saved plan lets later runs skip straight to extraction against the
// same inputs.
type PlanFile struct {
	Version   int             `json:"version"`
	Tool      string          `json:"tool,omitempty"`
	App       string          `json:"app"`
	TargetMB  float64         `json:"target_mb"`
	CreatedAt int64           `json:"created_at"`
	Files     []FileMetadata  `json:"files"`
	Manifests []ChunkManifest `json:"manifests"`
}

// NewPlanFile assembles a versioned, timestamped plan file stamped
// with the producing build.
func NewPlanFile(app string, targetMB float64, files []FileMetadata, manifests []ChunkManifest) PlanFile {
	return PlanFile{
		Version:   planVersion,
		Tool:      version.String(),
		App:       app,
		TargetMB:  targetMB,
		CreatedAt: time.Now().Unix(),
		Files:     files,
		Manifests: manifests,
	}
}

// WritePlan encodes the plan as deterministic CBOR at path.
func WritePlan(path string, plan PlanFile) error {
	data, err := codec.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}
	return nil
}

// ReadPlan loads a plan written by WritePlan.
func ReadPlan(path string) (PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PlanFile{}, fmt.Errorf("reading plan: %w", err)
	}
	var plan PlanFile
	if err := codec.Unmarshal(data, &plan); err != nil {
		return PlanFile{}, fmt.Errorf("%s: decoding plan: %w", path, err)
	}
	if plan.Version != planVersion {
		return PlanFile{}, fmt.Errorf("%s: unsupported plan version %d", path, plan.Version)
	}
	return plan, nil
}
