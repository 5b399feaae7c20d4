// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tracekit/tracekit/lib/zseek"
)

// errBuildAborted forces the transaction closure to roll back.
var errBuildAborted = errors.New("catalog: build aborted")

// Build is an in-progress index build for one archive. All rows are
// written inside a single IMMEDIATE transaction; nothing is visible
// to readers until Commit, and the files row is written last so a
// torn build can never masquerade as a complete one.
//
// A Build holds the catalog's write connection and the database write
// lock. Exactly one of Commit or Rollback must be called.
type Build struct {
	c    *Catalog
	conn *sqlite.Conn
	end  func(*error)

	fileID   int64
	lastCkpt *Checkpoint // ordering check
	done     bool
}

// BeginBuild starts a build transaction for archivePath. Any existing
// rows for the same path are deleted inside the transaction, so a
// rebuild that fails leaves the old index intact.
func (c *Catalog) BeginBuild(ctx context.Context, archivePath string) (*Build, error) {
	conn, err := c.pool.TakeWriter(ctx)
	if err != nil {
		return nil, err
	}
	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		c.pool.PutWriter(conn)
		return nil, fmt.Errorf("catalog: beginning build transaction: %w", err)
	}
	b := &Build{c: c, conn: conn, end: end}

	if err := b.deleteExisting(archivePath); err != nil {
		b.Rollback()
		return nil, err
	}
	if err := sqlitex.Execute(conn,
		`SELECT COALESCE(MAX(file_id), 0) + 1 FROM files`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				b.fileID = stmt.ColumnInt64(0)
				return nil
			},
		}); err != nil {
		b.Rollback()
		return nil, fmt.Errorf("catalog: allocating file id: %w", err)
	}
	return b, nil
}

func (b *Build) deleteExisting(archivePath string) error {
	var oldID int64
	found := false
	err := sqlitex.Execute(b.conn, `SELECT file_id FROM files WHERE path = ?`, &sqlitex.ExecOptions{
		Args: []any{archivePath},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			oldID = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: checking for existing entry: %w", err)
	}
	if !found {
		return nil
	}
	for _, table := range []string{"checkpoints", "lines", "files"} {
		err := sqlitex.Execute(b.conn,
			fmt.Sprintf("DELETE FROM %s WHERE file_id = ?", table), &sqlitex.ExecOptions{
				Args: []any{oldID},
			})
		if err != nil {
			return fmt.Errorf("catalog: clearing %s for rebuild: %w", table, err)
		}
	}
	return nil
}

// FileID returns the id rows in this build are written under. It
// becomes the committed files row's id.
func (b *Build) FileID() int64 {
	return b.fileID
}

// AddCheckpoint records one resume point. Checkpoints must arrive in
// strictly increasing compressed and decompressed offset order.
func (b *Build) AddCheckpoint(ck Checkpoint) error {
	if b.lastCkpt != nil {
		if ck.Snapshot.CompressedOff <= b.lastCkpt.Snapshot.CompressedOff ||
			ck.DecompressedOff <= b.lastCkpt.DecompressedOff {
			return fmt.Errorf("catalog: checkpoint %d does not advance (compressed %d -> %d, decompressed %d -> %d)",
				ck.Index, b.lastCkpt.Snapshot.CompressedOff, ck.Snapshot.CompressedOff,
				b.lastCkpt.DecompressedOff, ck.DecompressedOff)
		}
	}
	err := sqlitex.Execute(b.conn, `
		INSERT INTO checkpoints (file_id, ckpt_idx, compressed_off,
			decompressed_off, line_number, bits, num_unused_bits, window)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			b.fileID, ck.Index, ck.Snapshot.CompressedOff, ck.DecompressedOff,
			ck.LineNumber, int64(ck.Snapshot.Bits), int64(ck.Snapshot.NumBits),
			zseek.EncodeWindow(ck.Snapshot.Window),
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: inserting checkpoint %d: %w", ck.Index, err)
	}
	saved := ck
	b.lastCkpt = &saved
	return nil
}

// AddLine records one sparse line map row. Duplicate line numbers are
// ignored; the stride rows and checkpoint anchor rows overlap.
func (b *Build) AddLine(number, offset int64) error {
	err := sqlitex.Execute(b.conn, `
		INSERT OR IGNORE INTO lines (file_id, line_number, decompressed_off)
		VALUES (?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{b.fileID, number, offset},
	})
	if err != nil {
		return fmt.Errorf("catalog: inserting line %d: %w", number, err)
	}
	return nil
}

// Commit writes the files row and commits the transaction. The File's
// ID field is ignored in favor of the build's allocated id, and
// SchemaVersion is stamped with the current version.
func (b *Build) Commit(f File) (err error) {
	if b.done {
		return errors.New("catalog: build already finished")
	}
	b.done = true
	defer b.release()
	defer b.end(&err)

	err = sqlitex.Execute(b.conn, `
		INSERT INTO files (file_id, path, size_compressed, size_decompressed,
			num_lines, checkpoint_size, schema_version, built_at,
			mtime_unix, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			b.fileID, f.Path, f.SizeCompressed, f.SizeDecompressed,
			f.NumLines, f.CheckpointSize, int64(SchemaVersion),
			time.Now().Unix(), f.ModTime.Unix(), f.Fingerprint,
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: committing files row for %s: %w", f.Path, err)
	}
	return nil
}

// Rollback abandons the build. The catalog is left as it was before
// BeginBuild. Safe to call after a failed Commit.
func (b *Build) Rollback() {
	if b.done {
		return
	}
	b.done = true
	abort := errBuildAborted
	b.end(&abort)
	b.release()
}

func (b *Build) release() {
	if b.conn != nil {
		b.c.pool.PutWriter(b.conn)
		b.conn = nil
	}
}
