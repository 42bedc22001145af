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

// VerificationStore is an append-only log of sweep observations.
// Rows are never updated except to record the ledger entry that
// committed them.
type VerificationStore struct {
	pool *sqlitepool.Pool
}

const verificationColumns = `id, action_id, subject_ref, controller_ref, data_found, confidence,
	url, http_status, html_hash, screenshot_hash, html_path, screenshot_path,
	inconclusive, error, created_at, next_verification_at`

func scanVerification(stmt *sqlite.Stmt) schema.Verification {
	return schema.Verification{
		ID:            stmt.ColumnText(0),
		ActionID:      stmt.ColumnText(1),
		SubjectRef:    stmt.ColumnText(2),
		ControllerRef: stmt.ColumnText(3),
		DataFound:     stmt.ColumnInt(4) != 0,
		Confidence:    stmt.ColumnFloat(5),
		Evidence: schema.Evidence{
			URL:            stmt.ColumnText(6),
			HTTPStatus:     stmt.ColumnInt(7),
			HTMLHash:       stmt.ColumnText(8),
			ScreenshotHash: stmt.ColumnText(9),
			HTMLPath:       stmt.ColumnText(10),
			ScreenshotPath: stmt.ColumnText(11),
		},
		Inconclusive:       stmt.ColumnInt(12) != 0,
		Error:              stmt.ColumnText(13),
		CreatedAt:          fromNanos(stmt.ColumnInt64(14)),
		NextVerificationAt: fromNanos(stmt.ColumnInt64(15)),
	}
}

// Insert appends v. ID and CreatedAt must be set.
func (s *VerificationStore) Insert(ctx context.Context, v schema.Verification) error {
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO verifications (id, action_id, subject_ref, controller_ref, data_found,
				confidence, url, http_status, html_hash, screenshot_hash, html_path,
				screenshot_path, inconclusive, error, created_at, next_verification_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				v.ID, v.ActionID, v.SubjectRef, v.ControllerRef, boolInt(v.DataFound),
				v.Confidence, v.Evidence.URL, v.Evidence.HTTPStatus, v.Evidence.HTMLHash,
				v.Evidence.ScreenshotHash, v.Evidence.HTMLPath, v.Evidence.ScreenshotPath,
				boolInt(v.Inconclusive), v.Error, nanos(v.CreatedAt), nanos(v.NextVerificationAt),
			}})
	})
	if err != nil {
		return fmt.Errorf("store: inserting verification: %w", err)
	}
	return nil
}

// ListByAction returns the observations for one action in insertion
// order.
func (s *VerificationStore) ListByAction(ctx context.Context, actionID string) ([]schema.Verification, error) {
	return s.query(ctx, `
		SELECT `+verificationColumns+` FROM verifications
		WHERE action_id = ? ORDER BY seq`, actionID)
}

// Uncommitted returns the observations for a subject that no ledger
// entry has committed yet, in insertion order.
func (s *VerificationStore) Uncommitted(ctx context.Context, subjectRef string) ([]schema.Verification, error) {
	return s.query(ctx, `
		SELECT `+verificationColumns+` FROM verifications
		WHERE subject_ref = ? AND ledger_id = '' ORDER BY seq`, subjectRef)
}

// ListByLedger returns the observations a ledger entry committed.
func (s *VerificationStore) ListByLedger(ctx context.Context, ledgerID string) ([]schema.Verification, error) {
	return s.query(ctx, `
		SELECT `+verificationColumns+` FROM verifications
		WHERE ledger_id = ? ORDER BY seq`, ledgerID)
}

func (s *VerificationStore) query(ctx context.Context, query string, args ...any) ([]schema.Verification, error) {
	var rows []schema.Verification
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = append(rows, scanVerification(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: querying verifications: %w", err)
	}
	return rows, nil
}
