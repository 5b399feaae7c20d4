// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package indexer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tracekit/tracekit/lib/catalog"
	"github.com/tracekit/tracekit/lib/testutil"
	"github.com/tracekit/tracekit/lib/zseek"
)

// lineStarts returns the 0-based decompressed offset where each line
// of payload begins: lineStarts(p)[k] is the start of line k+1.
func lineStarts(payload []byte) []int64 {
	if len(payload) == 0 {
		return nil
	}
	starts := []int64{0}
	for i, b := range payload {
		if b == '\n' && i != len(payload)-1 {
			starts = append(starts, int64(i)+1)
		}
	}
	return starts
}

// expectLineAt computes the checkpoint line-number rule directly from
// the payload: the first line starting at or after off, or
// numLines+1 when off falls inside the final line.
func expectLineAt(payload []byte, off int64) int64 {
	n := int64(bytes.Count(payload[:off], []byte{'\n'})) + 1
	if off > 0 && payload[off-1] != '\n' {
		n++
	}
	return n
}

func buildOne(t *testing.T, payload []byte, flushEvery int, opts Options) (Result, *catalog.Catalog, catalog.File) {
	t.Helper()
	dir := t.TempDir()
	archive := testutil.WriteTraceGz(t, dir, "trace.pfw.gz", payload, flushEvery)
	catalogPath := filepath.Join(dir, "trace.idx")

	res, err := Build(context.Background(), archive, catalogPath, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cat, err := catalog.Open(catalogPath, catalog.Options{})
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	file, err := cat.FileByPath(context.Background(), res.ArchivePath)
	if err != nil {
		t.Fatalf("FileByPath: %v", err)
	}
	return res, cat, file
}

func TestBuildCountsLinesAndBytes(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		wantLines int64
	}{
		{"trailing_newline", testutil.TraceText(500, testutil.TraceOpts{}), 500},
		{"bracketed", testutil.TraceText(500, testutil.TraceOpts{Bracketed: true, TrailingCommas: true}), 502},
		{"no_trailing_newline", []byte("{\"id\":1}\n{\"id\":2}"), 2},
		{"single_line", []byte("{\"id\":1}\n"), 1},
		{"single_partial_line", []byte("{\"id\":1}"), 1},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, cat, file := buildOne(t, tt.payload, 0, Options{})
			if res.NumLines != tt.wantLines {
				t.Fatalf("NumLines = %d, want %d", res.NumLines, tt.wantLines)
			}
			if res.NumBytes != int64(len(tt.payload)) {
				t.Fatalf("NumBytes = %d, want %d", res.NumBytes, len(tt.payload))
			}
			if file.NumLines != tt.wantLines || file.SizeDecompressed != int64(len(tt.payload)) {
				t.Fatalf("files row (%d lines, %d bytes) disagrees with result", file.NumLines, file.SizeDecompressed)
			}
			if file.SchemaVersion != catalog.SchemaVersion {
				t.Fatalf("SchemaVersion = %d, want %d", file.SchemaVersion, catalog.SchemaVersion)
			}
			if len(file.Fingerprint) != 32 {
				t.Fatalf("fingerprint is %d bytes, want 32", len(file.Fingerprint))
			}

			cks, err := cat.Checkpoints(context.Background(), file.ID)
			if err != nil {
				t.Fatalf("Checkpoints: %v", err)
			}
			if int64(len(cks)) != res.Checkpoints {
				t.Fatalf("stored %d checkpoints, result says %d", len(cks), res.Checkpoints)
			}
			first := cks[0]
			if first.DecompressedOff != 0 || first.LineNumber != 1 || len(first.Snapshot.Window) != 0 {
				t.Fatalf("initial checkpoint = %+v, want offset 0, line 1, empty window", first)
			}
		})
	}
}

func TestBuildCheckpointLineNumbers(t *testing.T) {
	// Small checkpoint spacing over flushed blocks lands most
	// checkpoints mid-line; the line numbers must still follow the
	// first-line-at-or-after rule.
	payload := testutil.TraceText(2000, testutil.TraceOpts{})
	res, cat, file := buildOne(t, payload, 512, Options{CheckpointSize: 2048, LineStride: 100})
	if res.Checkpoints < 10 {
		t.Fatalf("expected many checkpoints, got %d", res.Checkpoints)
	}

	cks, err := cat.Checkpoints(context.Background(), file.ID)
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	starts := lineStarts(payload)
	midLine := 0
	for i, ck := range cks {
		if i > 0 {
			prev := cks[i-1]
			if ck.DecompressedOff <= prev.DecompressedOff ||
				ck.Snapshot.CompressedOff <= prev.Snapshot.CompressedOff {
				t.Fatalf("checkpoint %d does not advance past %d", ck.Index, prev.Index)
			}
			if ck.DecompressedOff-prev.DecompressedOff < 2048 {
				t.Fatalf("checkpoints %d and %d are %d bytes apart, want >= 2048",
					prev.Index, ck.Index, ck.DecompressedOff-prev.DecompressedOff)
			}
		}
		want := expectLineAt(payload, ck.DecompressedOff)
		if ck.LineNumber != want {
			t.Fatalf("checkpoint %d at offset %d: line %d, want %d",
				ck.Index, ck.DecompressedOff, ck.LineNumber, want)
		}
		if ck.DecompressedOff > 0 && payload[ck.DecompressedOff-1] != '\n' {
			midLine++
		}

		// Every checkpoint line within the file must have an exact
		// line map row, so ranged reads can anchor on it.
		if ck.LineNumber <= res.NumLines {
			off, found, err := cat.LineStartAt(context.Background(), file.ID, ck.LineNumber)
			if err != nil {
				t.Fatalf("LineStartAt(%d): %v", ck.LineNumber, err)
			}
			if !found {
				t.Fatalf("checkpoint %d line %d has no line map row", ck.Index, ck.LineNumber)
			}
			if off != starts[ck.LineNumber-1] {
				t.Fatalf("line %d maps to offset %d, want %d", ck.LineNumber, off, starts[ck.LineNumber-1])
			}
		}
	}
	if midLine == 0 {
		t.Fatal("no checkpoint landed mid-line; the anchor path went untested")
	}
}

func TestBuildLineMapStride(t *testing.T) {
	payload := testutil.TraceText(1050, testutil.TraceOpts{})
	_, cat, file := buildOne(t, payload, 0, Options{LineStride: 100})

	starts := lineStarts(payload)
	for _, line := range []int64{1, 101, 201, 901, 1001, 1050} {
		off, found, err := cat.LineStartAt(context.Background(), file.ID, line)
		if err != nil {
			t.Fatalf("LineStartAt(%d): %v", line, err)
		}
		if !found {
			t.Fatalf("line %d missing from line map", line)
		}
		if off != starts[line-1] {
			t.Fatalf("line %d maps to offset %d, want %d", line, off, starts[line-1])
		}
	}
	// Off-stride interior lines are deliberately absent.
	if _, found, _ := cat.LineStartAt(context.Background(), file.ID, 550); found {
		t.Fatal("line 550 unexpectedly stored; the map should be sparse")
	}
}

func TestBuildAlreadyBuilt(t *testing.T) {
	dir := t.TempDir()
	payload := testutil.TraceText(300, testutil.TraceOpts{})
	archive := testutil.WriteTraceGz(t, dir, "trace.pfw.gz", payload, 0)
	catalogPath := filepath.Join(dir, "trace.idx")
	ctx := context.Background()

	first, err := Build(ctx, archive, catalogPath, Options{})
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if first.AlreadyBuilt {
		t.Fatal("first build reported AlreadyBuilt")
	}

	second, err := Build(ctx, archive, catalogPath, Options{})
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if !second.AlreadyBuilt {
		t.Fatal("unchanged archive was rebuilt")
	}
	if second.NumLines != first.NumLines || second.Checkpoints != first.Checkpoints {
		t.Fatalf("AlreadyBuilt result %+v disagrees with original %+v", second, first)
	}

	// A different checkpoint spacing is a different index.
	third, err := Build(ctx, archive, catalogPath, Options{CheckpointSize: 4096})
	if err != nil {
		t.Fatalf("third Build: %v", err)
	}
	if third.AlreadyBuilt {
		t.Fatal("checkpoint size change did not trigger a rebuild")
	}

	// Touching the archive mtime invalidates the entry.
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(archive, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fourth, err := Build(ctx, archive, catalogPath, Options{CheckpointSize: 4096})
	if err != nil {
		t.Fatalf("fourth Build: %v", err)
	}
	if fourth.AlreadyBuilt {
		t.Fatal("mtime change did not trigger a rebuild")
	}

	// ForceRebuild always rebuilds.
	fifth, err := Build(ctx, archive, catalogPath, Options{CheckpointSize: 4096, ForceRebuild: true})
	if err != nil {
		t.Fatalf("fifth Build: %v", err)
	}
	if fifth.AlreadyBuilt {
		t.Fatal("ForceRebuild reported AlreadyBuilt")
	}
}

func TestBuildFingerprintTracksContent(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.idx")
	ctx := context.Background()

	archive := testutil.WriteTraceGz(t, dir, "trace.pfw.gz", testutil.TraceText(200, testutil.TraceOpts{}), 0)
	res, err := Build(ctx, archive, catalogPath, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cat, err := catalog.Open(catalogPath, catalog.Options{})
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	defer cat.Close()
	before, err := cat.FileByPath(ctx, res.ArchivePath)
	if err != nil {
		t.Fatalf("FileByPath: %v", err)
	}

	testutil.WriteTraceGz(t, dir, "trace.pfw.gz", testutil.TraceText(200, testutil.TraceOpts{StartID: 7}), 0)
	if _, err := Build(ctx, archive, catalogPath, Options{ForceRebuild: true}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	after, err := cat.FileByPath(ctx, res.ArchivePath)
	if err != nil {
		t.Fatalf("FileByPath after rebuild: %v", err)
	}
	if bytes.Equal(before.Fingerprint, after.Fingerprint) {
		t.Fatal("fingerprint unchanged across different archive contents")
	}
}

func TestBuildRollsBackOnCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	payload := testutil.TraceText(400, testutil.TraceOpts{})
	archive := testutil.WriteTraceGz(t, dir, "trace.pfw.gz", payload, 0)
	catalogPath := filepath.Join(dir, "trace.idx")
	ctx := context.Background()

	res, err := Build(ctx, archive, catalogPath, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Truncate the archive so the rebuild fails mid-scan. The old
	// entry must survive the rollback untouched.
	raw, err := os.ReadFile(archive)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if err := os.WriteFile(archive, raw[:len(raw)/2], 0o644); err != nil {
		t.Fatalf("truncating archive: %v", err)
	}
	_, err = Build(ctx, archive, catalogPath, Options{ForceRebuild: true})
	if !errors.Is(err, zseek.ErrCorruptArchive) {
		t.Fatalf("rebuild of truncated archive: got %v, want ErrCorruptArchive", err)
	}

	cat, err := catalog.Open(catalogPath, catalog.Options{})
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	defer cat.Close()
	file, err := cat.FileByPath(ctx, res.ArchivePath)
	if err != nil {
		t.Fatalf("FileByPath after failed rebuild: %v", err)
	}
	if file.NumLines != res.NumLines {
		t.Fatalf("entry changed by failed rebuild: %d lines, want %d", file.NumLines, res.NumLines)
	}
}

func TestBuildSharedCatalog(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.idx")
	ctx := context.Background()

	a := testutil.WriteTraceGz(t, dir, "a.pfw.gz", testutil.TraceText(100, testutil.TraceOpts{}), 0)
	b := testutil.WriteTraceGz(t, dir, "b.pfw.gz", testutil.TraceText(250, testutil.TraceOpts{StartID: 100}), 0)

	resA, err := Build(ctx, a, catalogPath, Options{})
	if err != nil {
		t.Fatalf("Build a: %v", err)
	}
	resB, err := Build(ctx, b, catalogPath, Options{})
	if err != nil {
		t.Fatalf("Build b: %v", err)
	}

	cat, err := catalog.Open(catalogPath, catalog.Options{})
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	defer cat.Close()

	files, err := cat.Files(ctx)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("catalog holds %d files, want 2", len(files))
	}
	if files[0].ID == files[1].ID {
		t.Fatal("both archives share a file id")
	}
	fa, err := cat.FileByPath(ctx, resA.ArchivePath)
	if err != nil {
		t.Fatalf("FileByPath a: %v", err)
	}
	fb, err := cat.FileByPath(ctx, resB.ArchivePath)
	if err != nil {
		t.Fatalf("FileByPath b: %v", err)
	}
	if fa.NumLines != 100 || fb.NumLines != 250 {
		t.Fatalf("line counts (%d, %d), want (100, 250)", fa.NumLines, fb.NumLines)
	}
}

func TestCatalogPath(t *testing.T) {
	if got := CatalogPath("", "/data/trace.pfw.gz"); got != "/data/trace.pfw.gz.idx" {
		t.Fatalf("sibling path = %q", got)
	}

	inDir := CatalogPath("/var/idx", "/data/run1/trace.pfw.gz")
	if filepath.Dir(inDir) != "/var/idx" {
		t.Fatalf("catalog %q not under index dir", inDir)
	}
	base := filepath.Base(inDir)
	if !strings.HasPrefix(base, "trace.pfw.gz-") || !strings.HasSuffix(base, ".idx") {
		t.Fatalf("catalog name %q lacks base-hash.idx shape", base)
	}

	// Same base name from different directories must not collide.
	other := CatalogPath("/var/idx", "/data/run2/trace.pfw.gz")
	if other == inDir {
		t.Fatalf("colliding catalog paths for distinct archives: %q", inDir)
	}
}
