// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/erasure/lib/sqlitepool"
)

var testMigrations = []string{
	`CREATE TABLE jobs (id TEXT PRIMARY KEY, status TEXT NOT NULL);`,
	`ALTER TABLE jobs ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0;`,
}

func openTestPool(t *testing.T, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		PoolSize:  4,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestPragmasApplied(t *testing.T) {
	pool := openTestPool(t, nil)
	err := pool.Do(context.Background(), func(conn *sqlite.Conn) error {
		var journalMode string
		err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if journalMode != "wal" {
			t.Errorf("journal_mode = %q, want wal", journalMode)
		}

		var busyTimeout int
		err = sqlitex.ExecuteTransient(conn, "PRAGMA busy_timeout", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				busyTimeout = stmt.ColumnInt(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if busyTimeout != 5000 {
			t.Errorf("busy_timeout = %d, want 5000", busyTimeout)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestMigrateConvergesAcrossConnections(t *testing.T) {
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		return sqlitepool.Migrate(conn, testMigrations)
	})

	// Take every connection at once so each runs OnConnect against the
	// same file.
	ctx := context.Background()
	var conns []*sqlite.Conn
	for range 4 {
		conn, err := pool.Take(ctx)
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		version, err := sqlitepool.UserVersion(conn)
		if err != nil {
			t.Fatalf("UserVersion: %v", err)
		}
		if version != len(testMigrations) {
			t.Errorf("user_version = %d, want %d", version, len(testMigrations))
		}
		pool.Put(conn)
	}

	err := pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO jobs (id, status, attempts) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
			Args: []any{"job-1", "queued", 0},
		})
	})
	if err != nil {
		t.Fatalf("INSERT after migration: %v", err)
	}
}

func TestMigrateRejectsNewerDatabase(t *testing.T) {
	pool := openTestPool(t, nil)
	err := pool.Do(context.Background(), func(conn *sqlite.Conn) error {
		if err := sqlitepool.Migrate(conn, testMigrations); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		return sqlitepool.Migrate(conn, testMigrations[:1])
	})
	if err == nil {
		t.Fatal("Migrate with fewer migrations than applied succeeded")
	}
}

func TestConcurrentConditionalUpdate(t *testing.T) {
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		return sqlitepool.Migrate(conn, testMigrations)
	})
	ctx := context.Background()
	err := pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO jobs (id, status) VALUES ('job-1', 'queued')", nil)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	const claimers = 8
	var waitGroup sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for range claimers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			err := pool.Do(ctx, func(conn *sqlite.Conn) error {
				err := sqlitex.Execute(conn, "UPDATE jobs SET status = 'running' WHERE id = 'job-1' AND status = 'queued'", nil)
				if err != nil {
					return err
				}
				if conn.Changes() == 1 {
					mu.Lock()
					winners++
					mu.Unlock()
				}
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	waitGroup.Wait()
	if winners != 1 {
		t.Fatalf("%d connections won the conditional update, want 1", winners)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open with empty Path succeeded")
	}
}
