// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/schema"
)

// ErrGuardUnavailable is returned when the reservation store failed
// and the action label does not accept at-least-once delivery.
var ErrGuardUnavailable = errors.New("idempotency: guard unavailable")

// Outcome is the result of CheckAndReserve.
type Outcome string

const (
	// New means this call made the reservation; proceed.
	New Outcome = "new"

	// Exists means an unexpired reservation was already present;
	// short-circuit without side effects.
	Exists Outcome = "exists"
)

// Store is the persistence the guard needs. lib/store's
// IdempotencyStore implements it.
type Store interface {
	Reserve(ctx context.Context, record schema.IdempotencyRecord) (bool, error)
	Release(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Config holds the parameters for a Guard.
type Config struct {
	Store Store
	Clock clock.Clock

	// TTL is the default reservation lifetime. Required.
	TTL time.Duration

	// LabelTTLs overrides TTL per action label.
	LabelTTLs map[string]time.Duration

	// AtLeastOnce lists labels that proceed when the store fails.
	AtLeastOnce []string

	Logger *slog.Logger
}

// Guard reserves idempotency keys.
type Guard struct {
	store       Store
	clock       clock.Clock
	ttl         time.Duration
	labelTTLs   map[string]time.Duration
	atLeastOnce []string
	logger      *slog.Logger
}

// NewGuard validates cfg and returns a Guard.
func NewGuard(cfg Config) (*Guard, error) {
	if cfg.Store == nil {
		return nil, errors.New("idempotency: Store is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("idempotency: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("idempotency: Logger is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("idempotency: TTL must be positive")
	}
	return &Guard{
		store:       cfg.Store,
		clock:       cfg.Clock,
		ttl:         cfg.TTL,
		labelTTLs:   cfg.LabelTTLs,
		atLeastOnce: slices.Clone(cfg.AtLeastOnce),
		logger:      cfg.Logger,
	}, nil
}

// TTL returns the reservation lifetime for label.
func (g *Guard) TTL(label string) time.Duration {
	if ttl, ok := g.labelTTLs[label]; ok && ttl > 0 {
		return ttl
	}
	return g.ttl
}

// CheckAndReserve reserves key for label. A reservation whose TTL has
// passed is replaced in the same write and reported as New.
func (g *Guard) CheckAndReserve(ctx context.Context, key, label string) (Outcome, error) {
	now := g.clock.Now()
	reserved, err := g.store.Reserve(ctx, schema.IdempotencyRecord{
		Key:         key,
		ActionLabel: label,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.TTL(label)),
	})
	if err != nil {
		if slices.Contains(g.atLeastOnce, label) {
			g.logger.Warn("idempotency store unavailable, proceeding at-least-once",
				"key", key,
				"action_label", label,
				"error", err,
			)
			return New, nil
		}
		return "", fmt.Errorf("%w: %w", ErrGuardUnavailable, err)
	}
	if !reserved {
		return Exists, nil
	}
	return New, nil
}

// Release drops a reservation so a later retry of the same request is
// not deduplicated. Callers release when the side effect they reserved
// for was never durably started.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.store.Release(ctx, key); err != nil {
		return fmt.Errorf("idempotency: releasing %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes reservations whose TTL has passed.
func (g *Guard) PurgeExpired(ctx context.Context) (int, error) {
	purged, err := g.store.PurgeExpired(ctx, g.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("idempotency: purging: %w", err)
	}
	return purged, nil
}
