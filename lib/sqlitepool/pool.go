// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the optional parameters for opening a pool. The zero
// value is usable.
type Config struct {
	// ReadPool bounds the number of concurrent read connections. Zero
	// or negative selects runtime.NumCPU(), matching the number of
	// workers a parallel extraction dispatches by default.
	ReadPool int

	// Logger receives pool lifecycle messages. Nil discards them.
	Logger *slog.Logger

	// Prepare runs once on the write connection, after the standard
	// pragmas and before Open returns. Schema creation belongs here:
	// read connections never execute DDL, and a failing Prepare turns
	// into an Open error instead of a deferred surprise on first Take.
	Prepare func(conn *sqlite.Conn) error
}

// Pool is a catalog-shaped SQLite connection pool: one write
// connection and a fixed set of read-only connections over the same
// database file. An index build holds the writer for the whole of its
// transaction; ranged readers share the read side, where the
// read-only open flag and query_only make mutation impossible no
// matter what SQL arrives.
//
// Pool is safe for concurrent use. Individual connections are not —
// each goroutine must Take its own connection and Put it back when
// done.
type Pool struct {
	readers *sqlitex.Pool
	writer  *sqlitex.Pool // size 1; SQLite serializes writes anyway
	logger  *slog.Logger
	path    string
}

// Open opens the database at path, creating it if absent. The write
// connection is established before Open returns, which converts a
// pre-WAL file, runs Prepare, and guarantees the file exists before
// the first read-only connection opens. A missing parent directory,
// an unwritable file, or a failing Prepare all surface here.
func Open(path string, cfg Config) (*Pool, error) {
	if path == "" {
		return nil, errors.New("sqlitepool: path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	readPool := cfg.ReadPool
	if readPool <= 0 {
		readPool = runtime.NumCPU()
	}

	writer, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenWAL | sqlite.OpenURI,
		PoolSize: 1,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareWriter(conn, cfg.Prepare)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", path, err)
	}

	// Connections are lazy; force the writer up front.
	conn, err := writer.Take(context.Background())
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlitepool: initializing %s: %w", path, err)
	}
	writer.Put(conn)

	readers, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:       sqlite.OpenReadOnly | sqlite.OpenURI,
		PoolSize:    readPool,
		PrepareConn: prepareReader,
	})
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlitepool: opening read pool for %s: %w", path, err)
	}

	logger.Debug("sqlite pool opened", "path", path, "read_pool", readPool)

	return &Pool{
		readers: readers,
		writer:  writer,
		logger:  logger,
		path:    path,
	}, nil
}

// Take borrows a read connection, blocking until one is free or ctx
// is cancelled. The caller must Put it back, typically via defer:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.readers.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: read conn: %w", err)
	}
	return conn, nil
}

// Put returns a read connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.readers.Put(conn)
}

// TakeWriter borrows the write connection. There is exactly one, so
// two builds against the same catalog queue here instead of racing
// for the SQLite write lock and eating the busy timeout.
func (p *Pool) TakeWriter(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.writer.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: write conn: %w", err)
	}
	return conn, nil
}

// PutWriter returns the write connection. Safe to call with nil.
func (p *Pool) PutWriter(conn *sqlite.Conn) {
	p.writer.Put(conn)
}

// Close closes every connection, blocking until borrowed ones are
// returned. Readers close first: the final WAL checkpoint runs when
// the last connection leaves, and it has to run on a connection that
// can write or the -wal and -shm files outlive the database.
func (p *Pool) Close() error {
	err := errors.Join(p.readers.Close(), p.writer.Close())
	if err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}

// prepareWriter configures the write connection. The explicit WAL
// pragma upgrades databases created before the pool set the flag;
// NORMAL synchronous is enough for derived data that a rebuild
// reproduces; the busy timeout covers another process holding the
// write lock on the same file.
func prepareWriter(conn *sqlite.Conn, prepare func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}
	if err := applyPragmas(conn, pragmas); err != nil {
		return err
	}
	if prepare != nil {
		if err := prepare(conn); err != nil {
			return fmt.Errorf("sqlitepool: prepare: %w", err)
		}
	}
	return nil
}

// prepareReader configures one read connection. query_only backs up
// the read-only open flag at the SQL level, and the mmap window lets
// point lookups hit the page cache without read(2) round trips.
func prepareReader(conn *sqlite.Conn) error {
	return applyPragmas(conn, []string{
		"PRAGMA query_only=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-8192",
		"PRAGMA mmap_size=268435456",
		"PRAGMA temp_store=MEMORY",
	})
}

func applyPragmas(conn *sqlite.Conn, pragmas []string) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return nil
}
