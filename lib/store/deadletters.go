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

// DeadLetterStore persists unrecoverable dispatches.
type DeadLetterStore struct {
	pool *sqlitepool.Pool
}

// DeadLetterFilter narrows List. Zero fields match everything.
type DeadLetterFilter struct {
	ControllerKey string
	Channel       schema.Channel
	Limit         int
}

const deadLetterColumns = `id, channel, controller_key, subject_ref, payload, error_code,
	error_note, retries, created_at, last_retry_at, action_id`

func scanDeadLetter(stmt *sqlite.Stmt) schema.DeadLetterEntry {
	return schema.DeadLetterEntry{
		ID:            stmt.ColumnText(0),
		Channel:       schema.Channel(stmt.ColumnText(1)),
		ControllerKey: stmt.ColumnText(2),
		SubjectRef:    stmt.ColumnText(3),
		Payload:       columnBlob(stmt, 4),
		ErrorCode:     stmt.ColumnText(5),
		ErrorNote:     stmt.ColumnText(6),
		Retries:       stmt.ColumnInt(7),
		CreatedAt:     fromNanos(stmt.ColumnInt64(8)),
		LastRetryAt:   fromNanos(stmt.ColumnInt64(9)),
		ActionID:      stmt.ColumnText(10),
	}
}

// Insert adds entry. ID and CreatedAt must be set.
func (s *DeadLetterStore) Insert(ctx context.Context, entry schema.DeadLetterEntry) error {
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO dead_letters (id, channel, controller_key, subject_ref, payload,
				error_code, error_note, retries, created_at, last_retry_at, action_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				entry.ID, string(entry.Channel), entry.ControllerKey, entry.SubjectRef,
				entry.Payload, entry.ErrorCode, entry.ErrorNote, entry.Retries,
				nanos(entry.CreatedAt), nanos(entry.LastRetryAt), entry.ActionID,
			}})
	})
	if err != nil {
		return fmt.Errorf("store: inserting dead letter: %w", err)
	}
	return nil
}

// Get returns the entry with id or ErrNotFound.
func (s *DeadLetterStore) Get(ctx context.Context, id string) (schema.DeadLetterEntry, error) {
	var (
		entry schema.DeadLetterEntry
		found bool
	)
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					entry = scanDeadLetter(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return entry, fmt.Errorf("store: reading dead letter: %w", err)
	}
	if !found {
		return entry, fmt.Errorf("dead letter %s: %w", id, ErrNotFound)
	}
	return entry, nil
}

// List returns entries oldest first.
func (s *DeadLetterStore) List(ctx context.Context, filter DeadLetterFilter) ([]schema.DeadLetterEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var entries []schema.DeadLetterEntry
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT `+deadLetterColumns+` FROM dead_letters
			WHERE (? = '' OR controller_key = ?) AND (? = '' OR channel = ?)
			ORDER BY created_at, id
			LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{
					filter.ControllerKey, filter.ControllerKey,
					string(filter.Channel), string(filter.Channel),
					limit,
				},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					entries = append(entries, scanDeadLetter(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing dead letters: %w", err)
	}
	return entries, nil
}

// RecordRetry increments retries on id and records the failure that
// ended the attempt. A non-empty actionID replaces the entry's Action.
func (s *DeadLetterStore) RecordRetry(ctx context.Context, id, actionID, errorCode, errorNote string, now time.Time) error {
	var changed bool
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE dead_letters
			SET retries = retries + 1, last_retry_at = ?, error_code = ?, error_note = ?,
				action_id = COALESCE(NULLIF(?, ''), action_id)
			WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{nanos(now), errorCode, errorNote, actionID, id}})
		changed = conn.Changes() == 1
		return err
	})
	if err != nil {
		return fmt.Errorf("store: recording dead letter retry: %w", err)
	}
	if !changed {
		return fmt.Errorf("dead letter %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes id. It returns ErrNotFound if no such entry exists.
func (s *DeadLetterStore) Delete(ctx context.Context, id string) error {
	var changed bool
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM dead_letters WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
		changed = conn.Changes() == 1
		return err
	})
	if err != nil {
		return fmt.Errorf("store: deleting dead letter: %w", err)
	}
	if !changed {
		return fmt.Errorf("dead letter %s: %w", id, ErrNotFound)
	}
	return nil
}
