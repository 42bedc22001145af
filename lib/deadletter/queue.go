// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/store"
)

// ErrNotFound is returned for an unknown entry id.
var ErrNotFound = errors.New("deadletter: entry not found")

// Store persists entries. *store.DeadLetterStore implements it.
type Store interface {
	Insert(ctx context.Context, entry schema.DeadLetterEntry) error
	Get(ctx context.Context, id string) (schema.DeadLetterEntry, error)
	List(ctx context.Context, filter store.DeadLetterFilter) ([]schema.DeadLetterEntry, error)
	RecordRetry(ctx context.Context, id, actionID, errorCode, errorNote string, now time.Time) error
	Delete(ctx context.Context, id string) error
}

// Filter narrows List and RetryAll.
type Filter = store.DeadLetterFilter

// Config holds the parameters for a Queue.
type Config struct {
	Store  Store
	Clock  clock.Clock
	Logger *slog.Logger
}

// Queue is the dead-letter queue.
type Queue struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
}

// New validates cfg and returns a Queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errors.New("deadletter: Store is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("deadletter: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("deadletter: Logger is required")
	}
	return &Queue{store: cfg.Store, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Push stores entry and returns its id. ID and CreatedAt are assigned
// when unset.
func (q *Queue) Push(ctx context.Context, entry schema.DeadLetterEntry) (string, error) {
	if entry.ControllerKey == "" {
		return "", errors.New("deadletter: ControllerKey is required")
	}
	if entry.ID == "" {
		entry.ID = store.NewID("dlq")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = q.clock.Now()
	}
	if err := q.store.Insert(ctx, entry); err != nil {
		return "", fmt.Errorf("deadletter: push: %w", err)
	}
	q.logger.Warn("dispatch dead-lettered",
		"dead_letter_id", entry.ID,
		"controller_key", entry.ControllerKey,
		"channel", entry.Channel,
		"error_code", entry.ErrorCode,
	)
	return entry.ID, nil
}

// Get returns one entry.
func (q *Queue) Get(ctx context.Context, id string) (schema.DeadLetterEntry, error) {
	entry, err := q.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return schema.DeadLetterEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, err
}

// List returns entries oldest first.
func (q *Queue) List(ctx context.Context, filter Filter) ([]schema.DeadLetterEntry, error) {
	return q.store.List(ctx, filter)
}

// Purge removes id for good. reason is logged with the entry.
func (q *Queue) Purge(ctx context.Context, id, reason string) error {
	entry, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := q.store.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("deadletter: purge: %w", err)
	}
	q.logger.Info("dead letter purged",
		"dead_letter_id", id,
		"controller_key", entry.ControllerKey,
		"error_code", entry.ErrorCode,
		"retries", entry.Retries,
		"reason", reason,
	)
	return nil
}

// recordRetry counts a failed retry on id.
func (q *Queue) recordRetry(ctx context.Context, id, actionID, code, note string) error {
	if err := q.store.RecordRetry(ctx, id, actionID, code, note, q.clock.Now()); err != nil {
		return fmt.Errorf("deadletter: recording retry: %w", err)
	}
	return nil
}
