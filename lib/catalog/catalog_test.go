// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tracekit/tracekit/lib/zseek"
)

func openTemp(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.idx"), Options{PoolSize: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// buildFixture commits a file with evenly spaced checkpoints and line
// rows: checkpoints every ckptSpacing bytes, one line row per
// lineSpacing bytes.
func buildFixture(t *testing.T, c *Catalog, path string, numCkpts int, ckptSpacing int64) File {
	t.Helper()
	ctx := context.Background()
	b, err := c.BeginBuild(ctx, path)
	if err != nil {
		t.Fatalf("BeginBuild: %v", err)
	}
	for i := 0; i < numCkpts; i++ {
		off := int64(i) * ckptSpacing
		ck := Checkpoint{
			Index:           int64(i),
			DecompressedOff: off,
			LineNumber:      off/100 + 1,
			Snapshot: zseek.Snapshot{
				CompressedOff: 10 + off/3,
				Bits:          uint8(i % 8),
				NumBits:       uint8(i % 8),
				Window:        bytes.Repeat([]byte{byte(i)}, 64),
			},
		}
		if i == 0 {
			ck.Snapshot = zseek.Snapshot{CompressedOff: 10}
			ck.LineNumber = 1
		}
		if err := b.AddCheckpoint(ck); err != nil {
			t.Fatalf("AddCheckpoint %d: %v", i, err)
		}
		if err := b.AddLine(off/100+1, off); err != nil {
			t.Fatalf("AddLine: %v", err)
		}
	}
	f := File{
		Path:             path,
		SizeCompressed:   5000,
		SizeDecompressed: int64(numCkpts) * ckptSpacing,
		NumLines:         int64(numCkpts) * ckptSpacing / 100,
		CheckpointSize:   ckptSpacing,
		ModTime:          time.Unix(1700000000, 0),
		Fingerprint:      []byte{0xAA, 0xBB},
	}
	if err := b.Commit(f); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err := c.FileByPath(ctx, path)
	if err != nil {
		t.Fatalf("FileByPath after commit: %v", err)
	}
	return got
}

func TestBuildCommitRoundTrip(t *testing.T) {
	c := openTemp(t)
	f := buildFixture(t, c, "/traces/app.pfw.gz", 4, 1000)

	if f.SizeCompressed != 5000 || f.SizeDecompressed != 4000 || f.NumLines != 40 {
		t.Fatalf("file row mangled: %+v", f)
	}
	if f.SchemaVersion != SchemaVersion {
		t.Fatalf("schema version: got %d, want %d", f.SchemaVersion, SchemaVersion)
	}
	if f.ModTime.Unix() != 1700000000 {
		t.Fatalf("mtime: got %v", f.ModTime)
	}
	if !bytes.Equal(f.Fingerprint, []byte{0xAA, 0xBB}) {
		t.Fatalf("fingerprint: got %x", f.Fingerprint)
	}

	cks, err := c.Checkpoints(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	if len(cks) != 4 {
		t.Fatalf("got %d checkpoints, want 4", len(cks))
	}
	if cks[2].Snapshot.NumBits != 2 || len(cks[2].Snapshot.Window) != 64 {
		t.Fatalf("snapshot round trip: %+v", cks[2].Snapshot)
	}
}

func TestFileByPathMissing(t *testing.T) {
	c := openTemp(t)
	if _, err := c.FileByPath(context.Background(), "/no/such/file.gz"); !errors.Is(err, ErrIndexMissing) {
		t.Fatalf("got %v, want ErrIndexMissing", err)
	}
}

func TestRollbackLeavesNothing(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()

	b, err := c.BeginBuild(ctx, "/traces/app.gz")
	if err != nil {
		t.Fatalf("BeginBuild: %v", err)
	}
	if err := b.AddCheckpoint(Checkpoint{Snapshot: zseek.Snapshot{CompressedOff: 10}, LineNumber: 1}); err != nil {
		t.Fatalf("AddCheckpoint: %v", err)
	}
	if err := b.AddLine(1, 0); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	b.Rollback()

	if _, err := c.FileByPath(ctx, "/traces/app.gz"); !errors.Is(err, ErrIndexMissing) {
		t.Fatalf("after rollback: got %v, want ErrIndexMissing", err)
	}
	// A fresh build of the same path must succeed with a clean slate.
	buildFixture(t, c, "/traces/app.gz", 2, 500)
}

func countRows(t *testing.T, c *Catalog, table string) int64 {
	t.Helper()
	conn, err := c.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer c.pool.Put(conn)
	var n int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM "+table, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func TestRebuildReplacesRows(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()

	buildFixture(t, c, "/traces/app.gz", 6, 1000)
	second := buildFixture(t, c, "/traces/app.gz", 2, 4000)

	cks, err := c.Checkpoints(ctx, second.ID)
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	if len(cks) != 2 {
		t.Fatalf("got %d checkpoints after rebuild, want 2", len(cks))
	}
	if n := countRows(t, c, "checkpoints"); n != 2 {
		t.Fatalf("stale checkpoint rows survive rebuild: %d total", n)
	}
	if n := countRows(t, c, "lines"); n != 2 {
		t.Fatalf("stale line rows survive rebuild: %d total", n)
	}
	if n := countRows(t, c, "files"); n != 1 {
		t.Fatalf("duplicate files rows after rebuild: %d total", n)
	}
}

func TestCheckpointAtOrBefore(t *testing.T) {
	c := openTemp(t)
	f := buildFixture(t, c, "/traces/app.gz", 5, 1000)
	ctx := context.Background()

	tests := []struct {
		off  int64
		want int64 // expected checkpoint DecompressedOff
	}{
		{0, 0},
		{999, 0},
		{1000, 1000},
		{2500, 2000},
		{4000, 4000},
		{999999, 4000},
	}
	for _, tt := range tests {
		ck, err := c.CheckpointAtOrBefore(ctx, f.ID, tt.off)
		if err != nil {
			t.Fatalf("CheckpointAtOrBefore(%d): %v", tt.off, err)
		}
		if ck.DecompressedOff != tt.want {
			t.Fatalf("CheckpointAtOrBefore(%d) = %d, want %d", tt.off, ck.DecompressedOff, tt.want)
		}
	}

	if _, err := c.CheckpointAtOrBefore(ctx, f.ID, -1); !errors.Is(err, ErrCorruptIndex) {
		t.Fatalf("negative offset: got %v, want ErrCorruptIndex", err)
	}
}

func TestLineQueries(t *testing.T) {
	c := openTemp(t)
	f := buildFixture(t, c, "/traces/app.gz", 5, 1000)
	ctx := context.Background()
	// Line rows from the fixture: (1,0), (11,1000), (21,2000), (31,3000), (41,4000).

	off, found, err := c.LineStartAt(ctx, f.ID, 21)
	if err != nil || !found || off != 2000 {
		t.Fatalf("LineStartAt(21) = (%d, %v, %v), want (2000, true, nil)", off, found, err)
	}
	if _, found, _ = c.LineStartAt(ctx, f.ID, 22); found {
		t.Fatal("LineStartAt found an unstored line")
	}

	ls, err := c.LineStartAtOrBefore(ctx, f.ID, 30)
	if err != nil || ls.Number != 21 || ls.Offset != 2000 {
		t.Fatalf("LineStartAtOrBefore(30) = (%+v, %v), want line 21 at 2000", ls, err)
	}
	if _, err := c.LineStartAtOrBefore(ctx, f.ID, 0); !errors.Is(err, ErrCorruptIndex) {
		t.Fatalf("before first row: got %v, want ErrCorruptIndex", err)
	}

	ls, found, err = c.LineStartBetween(ctx, f.ID, 500, 3200)
	if err != nil || !found || ls.Offset != 3000 {
		t.Fatalf("LineStartBetween(500, 3200) = (%+v, %v, %v), want offset 3000", ls, found, err)
	}
	if _, found, _ = c.LineStartBetween(ctx, f.ID, 4500, 9000); found {
		t.Fatal("LineStartBetween found a row past the last line start")
	}
}

func TestCorruptWindowSurfacesAsCorruptIndex(t *testing.T) {
	c := openTemp(t)
	f := buildFixture(t, c, "/traces/app.gz", 3, 1000)
	ctx := context.Background()

	// Flip one byte inside the stored window blob of checkpoint 1. The
	// pool's read side is query_only, so corruption goes in through
	// the write connection.
	conn, err := c.pool.TakeWriter(ctx)
	if err != nil {
		t.Fatalf("TakeWriter: %v", err)
	}
	err = sqlitex.Execute(conn, `
		UPDATE checkpoints
		SET window = X'00FFFFFFFFFFFFFFFFFFFFFFFF00'
		WHERE file_id = ? AND ckpt_idx = 1`, &sqlitex.ExecOptions{
		Args: []any{f.ID},
	})
	c.pool.PutWriter(conn)
	if err != nil {
		t.Fatalf("corrupting window: %v", err)
	}

	if _, err := c.CheckpointAtOrBefore(ctx, f.ID, 1500); !errors.Is(err, ErrCorruptIndex) {
		t.Fatalf("got %v, want ErrCorruptIndex", err)
	}
	// Checkpoint 0 is intact and must still load.
	if _, err := c.CheckpointAtOrBefore(ctx, f.ID, 500); err != nil {
		t.Fatalf("intact checkpoint failed: %v", err)
	}
}

func TestAddCheckpointOrdering(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()

	b, err := c.BeginBuild(ctx, "/traces/app.gz")
	if err != nil {
		t.Fatalf("BeginBuild: %v", err)
	}
	defer b.Rollback()

	first := Checkpoint{Index: 0, DecompressedOff: 100, Snapshot: zseek.Snapshot{CompressedOff: 50}}
	if err := b.AddCheckpoint(first); err != nil {
		t.Fatalf("AddCheckpoint: %v", err)
	}
	backward := Checkpoint{Index: 1, DecompressedOff: 90, Snapshot: zseek.Snapshot{CompressedOff: 60}}
	if err := b.AddCheckpoint(backward); err == nil {
		t.Fatal("non-advancing decompressed offset accepted")
	}
	stalled := Checkpoint{Index: 1, DecompressedOff: 200, Snapshot: zseek.Snapshot{CompressedOff: 50}}
	if err := b.AddCheckpoint(stalled); err == nil {
		t.Fatal("non-advancing compressed offset accepted")
	}
}

func TestFilesListing(t *testing.T) {
	c := openTemp(t)
	buildFixture(t, c, "/traces/b.gz", 2, 500)
	buildFixture(t, c, "/traces/a.gz", 2, 500)

	files, err := c.Files(context.Background())
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 || files[0].Path != "/traces/a.gz" || files[1].Path != "/traces/b.gz" {
		t.Fatalf("listing wrong or unordered: %+v", files)
	}
}
