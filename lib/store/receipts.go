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

// ReceiptStore holds the latest captured evidence per job.
type ReceiptStore struct {
	pool *sqlitepool.Pool
}

// Put records receipt, replacing any earlier receipt for the same job.
func (s *ReceiptStore) Put(ctx context.Context, receipt schema.Receipt) error {
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO receipts (job_id, action_id, html_path, screenshot_path,
				html_hash, screenshot_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_id) DO UPDATE SET
				action_id = excluded.action_id,
				html_path = excluded.html_path,
				screenshot_path = excluded.screenshot_path,
				html_hash = excluded.html_hash,
				screenshot_hash = excluded.screenshot_hash,
				created_at = excluded.created_at`,
			&sqlitex.ExecOptions{Args: []any{
				receipt.JobID, receipt.ActionID, receipt.HTMLPath, receipt.ScreenshotPath,
				receipt.HTMLHash, receipt.ScreenshotHash, nanos(receipt.CreatedAt),
			}})
	})
	if err != nil {
		return fmt.Errorf("store: writing receipt: %w", err)
	}
	return nil
}

// Get returns the receipt for jobID or ErrNotFound.
func (s *ReceiptStore) Get(ctx context.Context, jobID string) (schema.Receipt, error) {
	var (
		receipt schema.Receipt
		found   bool
	)
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT job_id, action_id, html_path, screenshot_path, html_hash,
				screenshot_hash, created_at
			FROM receipts WHERE job_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{jobID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					receipt = schema.Receipt{
						JobID:          stmt.ColumnText(0),
						ActionID:       stmt.ColumnText(1),
						HTMLPath:       stmt.ColumnText(2),
						ScreenshotPath: stmt.ColumnText(3),
						HTMLHash:       stmt.ColumnText(4),
						ScreenshotHash: stmt.ColumnText(5),
						CreatedAt:      fromNanos(stmt.ColumnInt64(6)),
					}
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return receipt, fmt.Errorf("store: reading receipt: %w", err)
	}
	if !found {
		return receipt, fmt.Errorf("receipt for job %s: %w", jobID, ErrNotFound)
	}
	return receipt, nil
}
