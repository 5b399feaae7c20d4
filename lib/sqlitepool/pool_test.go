// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tracekit/tracekit/lib/sqlitepool"
)

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id INTEGER PRIMARY KEY,
	compressed_off INTEGER NOT NULL
);
`

func TestJournalAndSyncModes(t *testing.T) {
	pool := openTestPool(t, nil)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if mode := pragmaValue(t, conn, "journal_mode"); mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
	if ro := pragmaValue(t, conn, "query_only"); ro != "1" {
		t.Errorf("reader query_only = %s, want 1", ro)
	}
	pool.Put(conn)

	w, err := pool.TakeWriter(context.Background())
	if err != nil {
		t.Fatalf("TakeWriter: %v", err)
	}
	defer pool.PutWriter(w)
	if sync := pragmaValue(t, w, "synchronous"); sync != "1" {
		t.Errorf("writer synchronous = %s, want 1 (NORMAL)", sync)
	}
}

func TestPrepareRunsAtOpen(t *testing.T) {
	prepared := false
	pool, err := sqlitepool.Open(filepath.Join(t.TempDir(), "catalog.idx"), sqlitepool.Config{
		Prepare: func(conn *sqlite.Conn) error {
			prepared = true
			return sqlitex.ExecuteScript(conn, checkpointSchema, nil)
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	if !prepared {
		t.Fatal("Prepare did not run during Open")
	}

	// The schema went in on the writer; a read connection must already
	// see the table.
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	rows := 0
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM checkpoints", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("SELECT on read connection: %v", err)
	}
	if rows != 0 {
		t.Errorf("fresh table has %d rows, want 0", rows)
	}
}

func TestReadConnectionsRejectWrites(t *testing.T) {
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, checkpointSchema, nil)
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO checkpoints (compressed_off) VALUES (7)", nil)
	if err == nil {
		t.Fatal("INSERT on a read connection succeeded, want error")
	}
}

func TestWriterFeedsReaders(t *testing.T) {
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, checkpointSchema, nil)
	})

	w, err := pool.TakeWriter(context.Background())
	if err != nil {
		t.Fatalf("TakeWriter: %v", err)
	}
	err = sqlitex.Execute(w, "INSERT INTO checkpoints (compressed_off) VALUES (?)", &sqlitex.ExecOptions{
		Args: []any{int64(4096)},
	})
	pool.PutWriter(w)
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var off int64
	err = sqlitex.Execute(conn, "SELECT compressed_off FROM checkpoints", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			off = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if off != 4096 {
		t.Errorf("compressed_off = %d, want 4096", off)
	}
}

func TestParallelReaders(t *testing.T) {
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, checkpointSchema, nil)
	})

	w, err := pool.TakeWriter(context.Background())
	if err != nil {
		t.Fatalf("TakeWriter: %v", err)
	}
	err = sqlitex.ExecuteScript(w, `
		INSERT INTO checkpoints (compressed_off) VALUES (1), (2), (3), (4), (5);
	`, nil)
	pool.PutWriter(w)
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	const goroutineCount = 8
	var waitGroup sync.WaitGroup
	errs := make(chan error, goroutineCount)

	for i := 0; i < goroutineCount; i++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()

			conn, err := pool.Take(context.Background())
			if err != nil {
				errs <- err
				return
			}
			defer pool.Put(conn)

			var sum int64
			err = sqlitex.Execute(conn, "SELECT compressed_off FROM checkpoints", &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					sum += stmt.ColumnInt64(0)
					return nil
				},
			})
			if err != nil {
				errs <- err
				return
			}
			if sum != 15 {
				errs <- fmt.Errorf("sum = %d, want 15", sum)
			}
		}()
	}

	waitGroup.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlitepool.Open("", sqlitepool.Config{})
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSingleWriter(t *testing.T) {
	pool := openTestPool(t, nil)

	w, err := pool.TakeWriter(context.Background())
	if err != nil {
		t.Fatalf("TakeWriter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.TakeWriter(ctx); err == nil {
		t.Fatal("second TakeWriter succeeded while the writer was held")
	}

	pool.PutWriter(w)
	w, err = pool.TakeWriter(context.Background())
	if err != nil {
		t.Fatalf("TakeWriter after PutWriter: %v", err)
	}
	pool.PutWriter(w)
}

func TestReadTakeHonorsCancellation(t *testing.T) {
	pool, err := sqlitepool.Open(filepath.Join(t.TempDir(), "cancel.idx"), sqlitepool.Config{
		ReadPool: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	// The only read connection is held, so a second Take blocks; a
	// cancelled context must fail it instead.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}

	pool.Put(conn)
}

// pragmaValue reads a pragma's current value as text.
func pragmaValue(t *testing.T, conn *sqlite.Conn, name string) string {
	t.Helper()
	var value string
	err := sqlitex.Execute(conn, "PRAGMA "+name, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return value
}

// openTestPool opens a pool over a temporary database file, closed
// automatically when the test completes.
func openTestPool(t *testing.T, prepare func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()

	pool, err := sqlitepool.Open(filepath.Join(t.TempDir(), "test.idx"), sqlitepool.Config{
		ReadPool: 4,
		Prepare:  prepare,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
