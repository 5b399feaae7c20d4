// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind the
// archive catalog.
//
// A catalog has one natural writer — an index build, which inserts
// every checkpoint and line row inside a single transaction — and any
// number of concurrent readers resolving decompressed positions to
// resume points. The pool mirrors that shape instead of hiding it:
// [Pool.TakeWriter] hands out the single write connection, and
// [Pool.Take] draws from a fixed set of read-only connections.
// Opening readers with SQLITE_OPEN_READONLY plus query_only means no
// reader bug can mutate an index, and WAL journaling keeps ranged
// reads live while a build transaction is open.
//
// # Pragmas
//
// The write connection is initialized with:
//
//   - journal_mode=WAL: write-ahead logging, so a build never blocks
//     readers of already-committed archives in the same catalog.
//   - synchronous=NORMAL: commits survive process crashes but not
//     necessarily power loss. A catalog is derived data; the recovery
//     story is a rebuild from the archive, not fsync discipline.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock when
//     another process is building into the same catalog file.
//   - foreign_keys=OFF: referential integrity is handled explicitly —
//     checkpoint and line rows are deleted in the same transaction as
//     their files row.
//   - cache_size=-8192: 8 MB page cache.
//   - temp_store=MEMORY: temporary structures in memory.
//
// Read connections get query_only=ON, the same busy timeout, cache and
// temp_store settings, and mmap_size=268435456 so checkpoint lookups
// are served from the OS page cache rather than read(2) calls.
//
// # Usage
//
//	pool, err := sqlitepool.Open("/data/traces/app.pfw.gz.idx", sqlitepool.Config{
//	    ReadPool: 8,
//	    Logger:   logger,
//	    Prepare: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// # Design
//
// The package stays thin: it applies the pragmas, shapes the pool, and
// hands back raw zombiezen connections. Callers write SQL with
// sqlitex.Execute and run build transactions on the writer with
// sqlitex.ImmediateTransaction. There is no query builder and no
// abstraction over SQLite's connection model — the catalog schema is
// small and the SQL reads better inline.
package sqlitepool
