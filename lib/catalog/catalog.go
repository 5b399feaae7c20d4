// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tracekit/tracekit/lib/sqlitepool"
	"github.com/tracekit/tracekit/lib/zseek"
)

// SchemaVersion is written into every files row. Readers reject rows
// with a different version; the caller rebuilds.
const SchemaVersion = 1

var (
	// ErrIndexMissing reports that the catalog has no entry for the
	// archive.
	ErrIndexMissing = errors.New("catalog: no index entry for archive")

	// ErrIndexStale reports that the catalog entry no longer matches
	// the archive on disk.
	ErrIndexStale = errors.New("catalog: index entry is stale")

	// ErrCorruptIndex reports that catalog contents are internally
	// inconsistent or fail to decode. The catalog must be rebuilt.
	ErrCorruptIndex = errors.New("catalog: corrupt index")
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	file_id           INTEGER PRIMARY KEY,
	path              TEXT NOT NULL UNIQUE,
	size_compressed   INTEGER NOT NULL,
	size_decompressed INTEGER NOT NULL,
	num_lines         INTEGER NOT NULL,
	checkpoint_size   INTEGER NOT NULL,
	schema_version    INTEGER NOT NULL,
	built_at          INTEGER NOT NULL,
	mtime_unix        INTEGER NOT NULL,
	fingerprint       BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	file_id          INTEGER NOT NULL,
	ckpt_idx         INTEGER NOT NULL,
	compressed_off   INTEGER NOT NULL,
	decompressed_off INTEGER NOT NULL,
	line_number      INTEGER NOT NULL,
	bits             INTEGER NOT NULL,
	num_unused_bits  INTEGER NOT NULL,
	window           BLOB NOT NULL,
	PRIMARY KEY (file_id, ckpt_idx)
);

CREATE INDEX IF NOT EXISTS checkpoints_by_off
	ON checkpoints (file_id, decompressed_off);

CREATE TABLE IF NOT EXISTS lines (
	file_id          INTEGER NOT NULL,
	line_number      INTEGER NOT NULL,
	decompressed_off INTEGER NOT NULL,
	PRIMARY KEY (file_id, line_number)
);

CREATE INDEX IF NOT EXISTS lines_by_off
	ON lines (file_id, decompressed_off);
`

// File is one archive's row in the catalog.
type File struct {
	ID               int64
	Path             string
	SizeCompressed   int64
	SizeDecompressed int64
	NumLines         int64
	CheckpointSize   int64
	SchemaVersion    int64
	BuiltAt          time.Time
	ModTime          time.Time // archive mtime when the build ran
	Fingerprint      []byte    // BLAKE3 of the compressed archive
}

// Checkpoint is one decoder resume point. Snapshot carries the
// compressed offset, pending bits, and decoded window.
type Checkpoint struct {
	Index           int64
	DecompressedOff int64

	// LineNumber is the first line that starts at or after
	// DecompressedOff. When the checkpoint falls inside the final
	// line, no such line exists and LineNumber is NumLines+1.
	LineNumber int64

	Snapshot zseek.Snapshot
}

// LineStart is one row of the sparse line map.
type LineStart struct {
	Number int64
	Offset int64
}

// Options configures opening a catalog.
type Options struct {
	// Logger receives pool lifecycle messages. Nil discards them.
	Logger *slog.Logger

	// PoolSize bounds concurrent read connections. Zero picks the
	// sqlitepool default of one per core. Builds write on a dedicated
	// connection and pass 1 here.
	PoolSize int
}

// Catalog is an open catalog database.
type Catalog struct {
	pool *sqlitepool.Pool
	path string
}

// Open opens (creating if absent) the catalog database at path and
// ensures the schema exists. Callers that require the catalog to
// already exist stat the path first and map absence to
// ErrIndexMissing themselves, so that a read never conjures an empty
// database.
func Open(path string, opts Options) (*Catalog, error) {
	pool, err := sqlitepool.Open(path, sqlitepool.Config{
		ReadPool: opts.PoolSize,
		Logger:   opts.Logger,
		Prepare: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: opening %s: %w", path, err)
	}
	return &Catalog{pool: pool, path: path}, nil
}

// Path returns the filesystem path of the catalog database.
func (c *Catalog) Path() string {
	return c.path
}

// Close releases the underlying connection pool.
func (c *Catalog) Close() error {
	return c.pool.Close()
}

// FileByPath returns the files row for an archive path, or
// ErrIndexMissing when the catalog has none.
func (c *Catalog) FileByPath(ctx context.Context, archivePath string) (File, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return File{}, err
	}
	defer c.pool.Put(conn)

	var f File
	found := false
	err = sqlitex.Execute(conn, `
		SELECT file_id, path, size_compressed, size_decompressed,
		       num_lines, checkpoint_size, schema_version, built_at,
		       mtime_unix, fingerprint
		FROM files WHERE path = ?`, &sqlitex.ExecOptions{
		Args: []any{archivePath},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			f = fileFromRow(stmt)
			return nil
		},
	})
	if err != nil {
		return File{}, fmt.Errorf("catalog: querying file %s: %w", archivePath, err)
	}
	if !found {
		return File{}, fmt.Errorf("%w: %s", ErrIndexMissing, archivePath)
	}
	return f, nil
}

// Files returns every archive row in the catalog, ordered by path.
func (c *Catalog) Files(ctx context.Context) ([]File, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(conn)

	var files []File
	err = sqlitex.Execute(conn, `
		SELECT file_id, path, size_compressed, size_decompressed,
		       num_lines, checkpoint_size, schema_version, built_at,
		       mtime_unix, fingerprint
		FROM files ORDER BY path`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			files = append(files, fileFromRow(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing files: %w", err)
	}
	return files, nil
}

func fileFromRow(stmt *sqlite.Stmt) File {
	fingerprint := make([]byte, stmt.ColumnLen(9))
	stmt.ColumnBytes(9, fingerprint)
	return File{
		ID:               stmt.ColumnInt64(0),
		Path:             stmt.ColumnText(1),
		SizeCompressed:   stmt.ColumnInt64(2),
		SizeDecompressed: stmt.ColumnInt64(3),
		NumLines:         stmt.ColumnInt64(4),
		CheckpointSize:   stmt.ColumnInt64(5),
		SchemaVersion:    stmt.ColumnInt64(6),
		BuiltAt:          time.Unix(stmt.ColumnInt64(7), 0).UTC(),
		ModTime:          time.Unix(stmt.ColumnInt64(8), 0).UTC(),
		Fingerprint:      fingerprint,
	}
}

// CheckpointAtOrBefore returns the greatest checkpoint whose
// decompressed offset does not exceed off. Every built file has its
// initial checkpoint at offset zero, so absence means the catalog is
// corrupt.
func (c *Catalog) CheckpointAtOrBefore(ctx context.Context, fileID, off int64) (Checkpoint, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return Checkpoint{}, err
	}
	defer c.pool.Put(conn)

	var ck Checkpoint
	var decodeErr error
	found := false
	err = sqlitex.Execute(conn, `
		SELECT ckpt_idx, compressed_off, decompressed_off, line_number,
		       bits, num_unused_bits, window
		FROM checkpoints
		WHERE file_id = ? AND decompressed_off <= ?
		ORDER BY decompressed_off DESC LIMIT 1`, &sqlitex.ExecOptions{
		Args: []any{fileID, off},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			ck, decodeErr = checkpointFromRow(stmt)
			return nil
		},
	})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("catalog: querying checkpoint at %d: %w", off, err)
	}
	if !found {
		return Checkpoint{}, fmt.Errorf("%w: no checkpoint at or before offset %d", ErrCorruptIndex, off)
	}
	if decodeErr != nil {
		return Checkpoint{}, decodeErr
	}
	return ck, nil
}

// Checkpoints returns every checkpoint of a file in index order.
func (c *Catalog) Checkpoints(ctx context.Context, fileID int64) ([]Checkpoint, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(conn)

	var cks []Checkpoint
	var decodeErr error
	err = sqlitex.Execute(conn, `
		SELECT ckpt_idx, compressed_off, decompressed_off, line_number,
		       bits, num_unused_bits, window
		FROM checkpoints WHERE file_id = ? ORDER BY ckpt_idx`, &sqlitex.ExecOptions{
		Args: []any{fileID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if decodeErr != nil {
				return nil
			}
			var ck Checkpoint
			ck, decodeErr = checkpointFromRow(stmt)
			if decodeErr == nil {
				cks = append(cks, ck)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing checkpoints: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return cks, nil
}

func checkpointFromRow(stmt *sqlite.Stmt) (Checkpoint, error) {
	blob := make([]byte, stmt.ColumnLen(6))
	stmt.ColumnBytes(6, blob)
	window, err := zseek.DecodeWindow(blob)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint %d: %v", ErrCorruptIndex, stmt.ColumnInt64(0), err)
	}
	bits := stmt.ColumnInt64(4)
	numBits := stmt.ColumnInt64(5)
	if numBits < 0 || numBits > 7 || bits < 0 || bits > 0xff {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint %d: impossible bit state (%d, %d)",
			ErrCorruptIndex, stmt.ColumnInt64(0), bits, numBits)
	}
	return Checkpoint{
		Index:           stmt.ColumnInt64(0),
		DecompressedOff: stmt.ColumnInt64(2),
		LineNumber:      stmt.ColumnInt64(3),
		Snapshot: zseek.Snapshot{
			CompressedOff: stmt.ColumnInt64(1),
			Bits:          uint8(bits),
			NumBits:       uint8(numBits),
			Window:        window,
		},
	}, nil
}

// LineStartAt returns the decompressed offset where the given line
// begins, when the sparse line map stores that exact line.
func (c *Catalog) LineStartAt(ctx context.Context, fileID, line int64) (int64, bool, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return 0, false, err
	}
	defer c.pool.Put(conn)

	var off int64
	found := false
	err = sqlitex.Execute(conn, `
		SELECT decompressed_off FROM lines
		WHERE file_id = ? AND line_number = ?`, &sqlitex.ExecOptions{
		Args: []any{fileID, line},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			off = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("catalog: querying line %d: %w", line, err)
	}
	return off, found, nil
}

// LineStartBetween returns the greatest stored line map row whose
// offset lies in [minOff, maxOff]. Byte-ranged streams use it to find
// a counting anchor between their resume checkpoint and the range
// start; found == false means no stored line begins in that window.
func (c *Catalog) LineStartBetween(ctx context.Context, fileID, minOff, maxOff int64) (LineStart, bool, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return LineStart{}, false, err
	}
	defer c.pool.Put(conn)

	var ls LineStart
	found := false
	err = sqlitex.Execute(conn, `
		SELECT line_number, decompressed_off FROM lines
		WHERE file_id = ? AND decompressed_off >= ? AND decompressed_off <= ?
		ORDER BY decompressed_off DESC LIMIT 1`, &sqlitex.ExecOptions{
		Args: []any{fileID, minOff, maxOff},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			ls = LineStart{Number: stmt.ColumnInt64(0), Offset: stmt.ColumnInt64(1)}
			return nil
		},
	})
	if err != nil {
		return LineStart{}, false, fmt.Errorf("catalog: querying line start in [%d, %d]: %w", minOff, maxOff, err)
	}
	return ls, found, nil
}

// LineStartAtOrBefore returns the greatest stored line map row whose
// line number does not exceed line. Line 1 is always stored for a
// non-empty file, so absence means the catalog is corrupt.
func (c *Catalog) LineStartAtOrBefore(ctx context.Context, fileID, line int64) (LineStart, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return LineStart{}, err
	}
	defer c.pool.Put(conn)

	var ls LineStart
	found := false
	err = sqlitex.Execute(conn, `
		SELECT line_number, decompressed_off FROM lines
		WHERE file_id = ? AND line_number <= ?
		ORDER BY line_number DESC LIMIT 1`, &sqlitex.ExecOptions{
		Args: []any{fileID, line},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			ls = LineStart{Number: stmt.ColumnInt64(0), Offset: stmt.ColumnInt64(1)}
			return nil
		},
	})
	if err != nil {
		return LineStart{}, fmt.Errorf("catalog: querying line at or before %d: %w", line, err)
	}
	if !found {
		return LineStart{}, fmt.Errorf("%w: no line map row at or before line %d", ErrCorruptIndex, line)
	}
	return ls, nil
}
