// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Migrate brings the database up to len(migrations). migrations[i]
// moves the schema from version i to i+1. Each step runs inside an
// IMMEDIATE transaction that also bumps user_version, and the version
// is re-read under the write lock, so two connections racing through
// Migrate apply every step exactly once.
func Migrate(conn *sqlite.Conn, migrations []string) error {
	for {
		applied, err := migrateStep(conn, migrations)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
	}
}

func migrateStep(conn *sqlite.Conn, migrations []string) (applied bool, err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("sqlitepool: begin migration: %w", err)
	}
	defer endFn(&err)

	version, err := UserVersion(conn)
	if err != nil {
		return false, err
	}
	if version > len(migrations) {
		return false, fmt.Errorf("sqlitepool: database is at schema version %d, this binary knows %d", version, len(migrations))
	}
	if version == len(migrations) {
		return false, nil
	}

	if err := sqlitex.ExecuteScript(conn, migrations[version], nil); err != nil {
		return false, fmt.Errorf("sqlitepool: migration %d: %w", version+1, err)
	}
	if err := sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version=%d", version+1), nil); err != nil {
		return false, fmt.Errorf("sqlitepool: setting user_version: %w", err)
	}
	return true, nil
}

// UserVersion reads PRAGMA user_version.
func UserVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: reading user_version: %w", err)
	}
	return version, nil
}
