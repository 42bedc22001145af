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

// BreakerStore persists per-controller circuit state. Writes are
// compare-and-swap on the version column.
type BreakerStore struct {
	pool *sqlitepool.Pool
}

const breakerColumns = `controller_key, state, recent_failures, window_started_at, opened_at,
	cool_down, trips, probe_in_flight, last_error_code, last_error_note, updated_at, version`

func scanBreaker(stmt *sqlite.Stmt) schema.CircuitState {
	return schema.CircuitState{
		ControllerKey:   stmt.ColumnText(0),
		State:           schema.BreakerState(stmt.ColumnText(1)),
		RecentFailures:  stmt.ColumnInt(2),
		WindowStartedAt: fromNanos(stmt.ColumnInt64(3)),
		OpenedAt:        fromNanos(stmt.ColumnInt64(4)),
		CoolDown:        time.Duration(stmt.ColumnInt64(5)),
		Trips:           stmt.ColumnInt(6),
		ProbeInFlight:   stmt.ColumnInt(7) != 0,
		LastErrorCode:   stmt.ColumnText(8),
		LastErrorNote:   stmt.ColumnText(9),
		UpdatedAt:       fromNanos(stmt.ColumnInt64(10)),
		Version:         stmt.ColumnInt64(11),
	}
}

// Get returns the state for key. A controller with no row is closed
// with version zero and found is false.
func (s *BreakerStore) Get(ctx context.Context, key string) (state schema.CircuitState, found bool, err error) {
	err = s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+breakerColumns+` FROM breakers WHERE controller_key = ?`,
			&sqlitex.ExecOptions{
				Args: []any{key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					state = scanBreaker(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return state, false, fmt.Errorf("store: reading breaker %s: %w", key, err)
	}
	if !found {
		state = schema.CircuitState{ControllerKey: key, State: schema.BreakerClosed}
	}
	return state, found, nil
}

// Save writes state if the stored version still equals state.Version
// (zero meaning no row yet). It reports false when another writer
// changed the row first; the caller re-reads and retries.
func (s *BreakerStore) Save(ctx context.Context, state schema.CircuitState) (bool, error) {
	args := []any{
		string(state.State), state.RecentFailures, nanos(state.WindowStartedAt),
		nanos(state.OpenedAt), int64(state.CoolDown), state.Trips, boolInt(state.ProbeInFlight),
		state.LastErrorCode, state.LastErrorNote, nanos(state.UpdatedAt),
	}
	var saved bool
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		var err error
		if state.Version == 0 {
			err = sqlitex.Execute(conn, `
				INSERT INTO breakers (state, recent_failures, window_started_at, opened_at,
					cool_down, trips, probe_in_flight, last_error_code, last_error_note,
					updated_at, controller_key, version)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
				ON CONFLICT (controller_key) DO NOTHING`,
				&sqlitex.ExecOptions{Args: append(args, state.ControllerKey)})
		} else {
			err = sqlitex.Execute(conn, `
				UPDATE breakers SET state = ?, recent_failures = ?, window_started_at = ?,
					opened_at = ?, cool_down = ?, trips = ?, probe_in_flight = ?,
					last_error_code = ?, last_error_note = ?, updated_at = ?,
					version = version + 1
				WHERE controller_key = ? AND version = ?`,
				&sqlitex.ExecOptions{Args: append(args, state.ControllerKey, state.Version)})
		}
		saved = conn.Changes() == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: saving breaker %s: %w", state.ControllerKey, err)
	}
	return saved, nil
}

// AcquireProbe grants the single half-open probe for key. It succeeds
// only when the breaker is open with its cool-down elapsed, or already
// half-open, and no probe holds the slot. A probe that has not
// reported by probeStaleBefore is presumed dead and its slot is
// reclaimed.
func (s *BreakerStore) AcquireProbe(ctx context.Context, key string, now, probeStaleBefore time.Time) (bool, error) {
	var acquired bool
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE breakers
			SET state = 'half_open', probe_in_flight = 1, updated_at = ?, version = version + 1
			WHERE controller_key = ?
				AND (
					(state = 'open' AND opened_at + cool_down <= ?)
					OR state = 'half_open'
				)
				AND (probe_in_flight = 0 OR updated_at <= ?)`,
			&sqlitex.ExecOptions{Args: []any{nanos(now), key, nanos(now), nanos(probeStaleBefore)}})
		acquired = conn.Changes() == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: acquiring probe for %s: %w", key, err)
	}
	return acquired, nil
}

// List returns every breaker row ordered by controller key.
func (s *BreakerStore) List(ctx context.Context) ([]schema.CircuitState, error) {
	var states []schema.CircuitState
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+breakerColumns+` FROM breakers ORDER BY controller_key`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					states = append(states, scanBreaker(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing breakers: %w", err)
	}
	return states, nil
}

// Delete removes the row for key, returning the controller to a fresh
// closed state.
func (s *BreakerStore) Delete(ctx context.Context, key string) error {
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `DELETE FROM breakers WHERE controller_key = ?`,
			&sqlitex.ExecOptions{Args: []any{key}})
	})
	if err != nil {
		return fmt.Errorf("store: deleting breaker %s: %w", key, err)
	}
	return nil
}
