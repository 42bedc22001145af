// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/sqlitepool"
)

// IdempotencyStore persists dispatch fingerprint reservations.
type IdempotencyStore struct {
	pool *sqlitepool.Pool
}

// Reserve inserts record unless an unexpired record with the same key
// exists. An expired record is replaced in the same statement. It
// reports true when this call made the reservation.
func (s *IdempotencyStore) Reserve(ctx context.Context, record schema.IdempotencyRecord) (bool, error) {
	var reserved bool
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO idempotency (key, action_label, created_at, expires_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				action_label = excluded.action_label,
				created_at = excluded.created_at,
				expires_at = excluded.expires_at
			WHERE idempotency.expires_at <= excluded.created_at`,
			&sqlitex.ExecOptions{Args: []any{
				record.Key, record.ActionLabel, nanos(record.CreatedAt), nanos(record.ExpiresAt),
			}})
		reserved = conn.Changes() == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: reserving idempotency key: %w", err)
	}
	return reserved, nil
}

// Release deletes a reservation so the same request may run again.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `DELETE FROM idempotency WHERE key = ?`,
			&sqlitex.ExecOptions{Args: []any{key}})
	})
	if err != nil {
		return fmt.Errorf("store: releasing idempotency key: %w", err)
	}
	return nil
}

// Get returns the reservation for key or ErrNotFound.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (schema.IdempotencyRecord, error) {
	var (
		record schema.IdempotencyRecord
		found  bool
	)
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT key, action_label, created_at, expires_at FROM idempotency WHERE key = ?`,
			&sqlitex.ExecOptions{
				Args: []any{key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					record = schema.IdempotencyRecord{
						Key:         stmt.ColumnText(0),
						ActionLabel: stmt.ColumnText(1),
						CreatedAt:   fromNanos(stmt.ColumnInt64(2)),
						ExpiresAt:   fromNanos(stmt.ColumnInt64(3)),
					}
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return record, fmt.Errorf("store: reading idempotency key: %w", err)
	}
	if !found {
		return record, fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
	}
	return record, nil
}

// PurgeExpired deletes reservations that expired at or before now.
func (s *IdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	var purged int
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM idempotency WHERE expires_at <= ?`,
			&sqlitex.ExecOptions{Args: []any{nanos(now)}})
		purged = conn.Changes()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: purging idempotency keys: %w", err)
	}
	return purged, nil
}
