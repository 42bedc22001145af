// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/sqlitepool"
)

// DiscoveryStore holds URLs where a subject's data was found before an
// erasure request was sent. The sweeper prefers them over the
// controller's generic form URL.
type DiscoveryStore struct {
	pool *sqlitepool.Pool
}

// Insert adds item. ID and CreatedAt must be set.
func (s *DiscoveryStore) Insert(ctx context.Context, item schema.DiscoveredItem) error {
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO discovered_items (id, subject_ref, controller_key, url, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				item.ID, item.SubjectRef, item.ControllerKey, item.URL,
				item.Confidence, nanos(item.CreatedAt),
			}})
	})
	if err != nil {
		return fmt.Errorf("store: inserting discovered item: %w", err)
	}
	return nil
}

// Best returns the highest-confidence item for the subject at the
// controller. Ties go to the most recent. found is false when no item
// exists.
func (s *DiscoveryStore) Best(ctx context.Context, subjectRef, controllerKey string) (item schema.DiscoveredItem, found bool, err error) {
	err = s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, subject_ref, controller_key, url, confidence, created_at
			FROM discovered_items
			WHERE subject_ref = ? AND controller_key = ?
			ORDER BY confidence DESC, created_at DESC
			LIMIT 1`,
			&sqlitex.ExecOptions{
				Args: []any{subjectRef, controllerKey},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					item = schema.DiscoveredItem{
						ID:            stmt.ColumnText(0),
						SubjectRef:    stmt.ColumnText(1),
						ControllerKey: stmt.ColumnText(2),
						URL:           stmt.ColumnText(3),
						Confidence:    stmt.ColumnFloat(4),
						CreatedAt:     fromNanos(stmt.ColumnInt64(5)),
					}
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return item, false, fmt.Errorf("store: reading discovered items: %w", err)
	}
	return item, found, nil
}
