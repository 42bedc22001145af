// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/sealed"
	"github.com/bureau-foundation/erasure/lib/sqlitepool"
)

// ActionStore persists erasure requests. The subject is sealed before
// it reaches the database and opened on every read.
type ActionStore struct {
	pool   *sqlitepool.Pool
	sealer *sealed.Sealer
}

// ActionFilter narrows List. Zero fields match everything.
type ActionFilter struct {
	ControllerKey string
	SubjectRef    string
	Status        schema.ActionStatus
	Limit         int
}

const actionColumns = `id, controller_key, subject_ref, subject_sealed, channel, status,
	verification_info, target_url, job_id, created_at, updated_at, next_verification_at`

func (s *ActionStore) scan(stmt *sqlite.Stmt) (schema.Action, error) {
	action := schema.Action{
		ID:                 stmt.ColumnText(0),
		ControllerKey:      stmt.ColumnText(1),
		SubjectRef:         stmt.ColumnText(2),
		Channel:            schema.Channel(stmt.ColumnText(4)),
		Status:             schema.ActionStatus(stmt.ColumnText(5)),
		VerificationInfo:   stmt.ColumnText(6),
		TargetURL:          stmt.ColumnText(7),
		JobID:              stmt.ColumnText(8),
		CreatedAt:          fromNanos(stmt.ColumnInt64(9)),
		UpdatedAt:          fromNanos(stmt.ColumnInt64(10)),
		NextVerificationAt: fromNanos(stmt.ColumnInt64(11)),
	}
	plaintext, err := s.sealer.Open(stmt.ColumnText(3))
	if err != nil {
		return action, fmt.Errorf("store: action %s subject: %w", action.ID, err)
	}
	if err := json.Unmarshal(plaintext, &action.Subject); err != nil {
		return action, fmt.Errorf("store: action %s subject: %w", action.ID, err)
	}
	return action, nil
}

// Insert adds action. ID, CreatedAt and UpdatedAt must be set.
func (s *ActionStore) Insert(ctx context.Context, action schema.Action) error {
	plaintext, err := json.Marshal(action.Subject)
	if err != nil {
		return fmt.Errorf("store: encoding subject: %w", err)
	}
	subjectSealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("store: sealing subject: %w", err)
	}
	err = s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO actions (id, controller_key, subject_ref, subject_sealed, channel, status,
				verification_info, target_url, job_id, created_at, updated_at, next_verification_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				action.ID, action.ControllerKey, action.SubjectRef, subjectSealed,
				string(action.Channel), string(action.Status), action.VerificationInfo,
				action.TargetURL, action.JobID, nanos(action.CreatedAt), nanos(action.UpdatedAt),
				nanos(action.NextVerificationAt),
			}})
	})
	if err != nil {
		return fmt.Errorf("store: inserting action: %w", err)
	}
	return nil
}

// Get returns the action with id or ErrNotFound.
func (s *ActionStore) Get(ctx context.Context, id string) (schema.Action, error) {
	actions, err := s.query(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	if err != nil {
		return schema.Action{}, err
	}
	if len(actions) == 0 {
		return schema.Action{}, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	return actions[0], nil
}

// GetByJob returns the action a job serves, or ErrNotFound.
func (s *ActionStore) GetByJob(ctx context.Context, jobID string) (schema.Action, error) {
	actions, err := s.query(ctx, `SELECT `+actionColumns+` FROM actions WHERE job_id = ?`, jobID)
	if err != nil {
		return schema.Action{}, err
	}
	if len(actions) == 0 {
		return schema.Action{}, fmt.Errorf("action for job %s: %w", jobID, ErrNotFound)
	}
	return actions[0], nil
}

// ActionUpdate describes a transition. Empty strings and zero times
// leave the column unchanged.
type ActionUpdate struct {
	Status             schema.ActionStatus
	VerificationInfo   string
	JobID              string
	NextVerificationAt time.Time
	UpdatedAt          time.Time
}

// Transition applies update to id when its current status is one of
// from. It reports false when the action was in another status.
func (s *ActionStore) Transition(ctx context.Context, id string, update ActionUpdate, from ...schema.ActionStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("store: transition of %s names no source status", id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{
		string(update.Status),
		update.VerificationInfo,
		update.JobID,
		nanos(update.NextVerificationAt),
		nanos(update.UpdatedAt),
		id,
	}
	for _, status := range from {
		args = append(args, string(status))
	}

	var changed bool
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE actions SET
				status = CASE WHEN ?1 = '' THEN status ELSE ?1 END,
				verification_info = CASE WHEN ?2 = '' THEN verification_info ELSE ?2 END,
				job_id = CASE WHEN ?3 = '' THEN job_id ELSE ?3 END,
				next_verification_at = CASE WHEN ?4 = 0 THEN next_verification_at ELSE ?4 END,
				updated_at = ?5
			WHERE id = ?6 AND status IN (`+placeholders+`)`,
			&sqlitex.ExecOptions{Args: args})
		changed = conn.Changes() == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: transitioning action %s: %w", id, err)
	}
	return changed, nil
}

// Due returns up to limit actions in a sweepable status whose next
// verification time has passed, earliest first.
func (s *ActionStore) Due(ctx context.Context, now time.Time, limit int) ([]schema.Action, error) {
	return s.query(ctx, `
		SELECT `+actionColumns+` FROM actions
		WHERE status IN ('sent', 'escalated', 'escalate_pending')
			AND next_verification_at > 0 AND next_verification_at <= ?
		ORDER BY next_verification_at, id
		LIMIT ?`, nanos(now), limit)
}

// List returns actions newest first.
func (s *ActionStore) List(ctx context.Context, filter ActionFilter) ([]schema.Action, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, `
		SELECT `+actionColumns+` FROM actions
		WHERE (? = '' OR controller_key = ?)
			AND (? = '' OR subject_ref = ?)
			AND (? = '' OR status = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		filter.ControllerKey, filter.ControllerKey,
		filter.SubjectRef, filter.SubjectRef,
		string(filter.Status), string(filter.Status),
		limit)
}

func (s *ActionStore) query(ctx context.Context, query string, args ...any) ([]schema.Action, error) {
	var actions []schema.Action
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				action, err := s.scan(stmt)
				if err != nil {
					return err
				}
				actions = append(actions, action)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: querying actions: %w", err)
	}
	return actions, nil
}
