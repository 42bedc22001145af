// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/controller"
	"github.com/bureau-foundation/erasure/lib/schema"
)

// ErrCircuitOpen marks a dispatch the breaker refused.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// errContended is returned when every compare-and-swap attempt lost.
var errContended = errors.New("breaker: too much contention updating circuit")

// maxSwapAttempts bounds the read-modify-write retry loop.
const maxSwapAttempts = 16

// Store persists circuits. lib/store's BreakerStore implements it.
type Store interface {
	Get(ctx context.Context, key string) (schema.CircuitState, bool, error)
	Save(ctx context.Context, state schema.CircuitState) (bool, error)
	AcquireProbe(ctx context.Context, key string, now, probeStaleBefore time.Time) (bool, error)
	List(ctx context.Context) ([]schema.CircuitState, error)
	Delete(ctx context.Context, key string) error
}

// Config holds the parameters for a Breaker.
type Config struct {
	Store Store
	Clock clock.Clock

	// Controllers supplies per-controller threshold and window
	// overrides. Optional.
	Controllers *controller.Table

	Threshold   int
	Window      time.Duration
	CoolDown    time.Duration
	MaxCoolDown time.Duration

	// ProbeTimeout is how long a granted probe may go unreported
	// before another caller may take the slot. Defaults to CoolDown.
	ProbeTimeout time.Duration

	Logger *slog.Logger
}

// Decision is the answer to ShouldAllow.
type Decision struct {
	Allow          bool
	State          schema.BreakerState
	RecentFailures int

	// RetryAt is when a blocked caller may try again. Zero when
	// allowed. ShouldAllow leaves it zero when the half-open slot is
	// taken; Admit reports when that slot expires.
	RetryAt time.Time
}

// Breaker is a persistent per-controller circuit breaker. It is safe
// for concurrent use across goroutines and processes.
type Breaker struct {
	store        Store
	clock        clock.Clock
	controllers  *controller.Table
	threshold    int
	window       time.Duration
	coolDown     time.Duration
	maxCoolDown  time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger
}

// New validates cfg and returns a Breaker.
func New(cfg Config) (*Breaker, error) {
	if cfg.Store == nil {
		return nil, errors.New("breaker: Store is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("breaker: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("breaker: Logger is required")
	}
	if cfg.Threshold < 1 {
		return nil, errors.New("breaker: Threshold must be at least 1")
	}
	if cfg.Window <= 0 || cfg.CoolDown <= 0 {
		return nil, errors.New("breaker: Window and CoolDown must be positive")
	}
	if cfg.MaxCoolDown < cfg.CoolDown {
		cfg.MaxCoolDown = cfg.CoolDown
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = cfg.CoolDown
	}
	return &Breaker{
		store:        cfg.Store,
		clock:        cfg.Clock,
		controllers:  cfg.Controllers,
		threshold:    cfg.Threshold,
		window:       cfg.Window,
		coolDown:     cfg.CoolDown,
		maxCoolDown:  cfg.MaxCoolDown,
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
	}, nil
}

// limits returns the threshold and window for key.
func (b *Breaker) limits(key string) (int, time.Duration) {
	threshold, window := b.threshold, b.window
	if b.controllers == nil {
		return threshold, window
	}
	if entry, ok := b.controllers.Lookup(key); ok {
		if entry.BreakerThreshold > 0 {
			threshold = entry.BreakerThreshold
		}
		if entry.BreakerWindow > 0 {
			window = entry.BreakerWindow
		}
	}
	return threshold, window
}

// ShouldAllow reports whether a dispatch to key may proceed. For an
// open circuit past its cool-down, the first caller is granted the
// half-open probe and every other caller is refused until the probe
// reports through RecordSuccess or RecordFailure.
func (b *Breaker) ShouldAllow(ctx context.Context, key string) (Decision, error) {
	state, _, err := b.store.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("breaker: reading %s: %w", key, err)
	}
	decision := Decision{State: state.State, RecentFailures: state.RecentFailures}
	now := b.clock.Now()

	switch state.State {
	case schema.BreakerClosed, "":
		decision.Allow = true
		decision.State = schema.BreakerClosed
		return decision, nil

	case schema.BreakerOpen:
		reopenAt := state.OpenedAt.Add(state.CoolDown)
		if now.Before(reopenAt) {
			decision.RetryAt = reopenAt
			return decision, nil
		}
	}

	granted, err := b.store.AcquireProbe(ctx, key, now, now.Add(-b.probeTimeout))
	if err != nil {
		return Decision{}, fmt.Errorf("breaker: acquiring probe for %s: %w", key, err)
	}
	decision.State = schema.BreakerHalfOpen
	if granted {
		decision.Allow = true
		b.logger.Info("circuit half-open, probe granted", "controller_key", key)
	}
	return decision, nil
}

// Admit reports whether a request for key may be accepted for later
// delivery. It refuses while the circuit is open inside its cool-down
// or while a live delivery holds the half-open slot, and otherwise
// allows without taking the slot: the delivery itself must still pass
// ShouldAllow before it reaches the controller.
func (b *Breaker) Admit(ctx context.Context, key string) (Decision, error) {
	state, _, err := b.store.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("breaker: reading %s: %w", key, err)
	}
	decision := Decision{State: state.State, RecentFailures: state.RecentFailures, Allow: true}
	now := b.clock.Now()

	switch state.State {
	case "":
		decision.State = schema.BreakerClosed
	case schema.BreakerOpen:
		if reopenAt := state.OpenedAt.Add(state.CoolDown); now.Before(reopenAt) {
			decision.Allow = false
			decision.RetryAt = reopenAt
		}
	case schema.BreakerHalfOpen:
		if slotExpires := state.UpdatedAt.Add(b.probeTimeout); state.ProbeInFlight && now.Before(slotExpires) {
			decision.Allow = false
			decision.RetryAt = slotExpires
		}
	}
	return decision, nil
}

// RecordFailure counts a failure that reached controller key.
func (b *Breaker) RecordFailure(ctx context.Context, key, code, note string) error {
	threshold, window := b.limits(key)
	return b.update(ctx, key, func(state *schema.CircuitState, now time.Time) bool {
		state.LastErrorCode = code
		state.LastErrorNote = note
		state.UpdatedAt = now

		switch state.State {
		case schema.BreakerHalfOpen:
			state.CoolDown = min(state.CoolDown*2, b.maxCoolDown)
			if state.CoolDown <= 0 {
				state.CoolDown = b.coolDown
			}
			state.State = schema.BreakerOpen
			state.OpenedAt = now
			state.ProbeInFlight = false
			state.RecentFailures++
			state.Trips++
			b.logger.Warn("circuit probe failed, reopening",
				"controller_key", key,
				"cool_down", state.CoolDown,
				"error_code", code,
			)

		case schema.BreakerOpen:
			// A job started before the trip reported late. Count it,
			// but do not extend the cool-down.
			state.RecentFailures++

		default:
			if state.WindowStartedAt.IsZero() || now.Sub(state.WindowStartedAt) >= window {
				state.WindowStartedAt = now
				state.RecentFailures = 0
			}
			state.RecentFailures++
			state.State = schema.BreakerClosed
			if state.RecentFailures >= threshold {
				state.State = schema.BreakerOpen
				state.OpenedAt = now
				state.CoolDown = b.coolDown
				state.Trips++
				b.logger.Warn("circuit opened",
					"controller_key", key,
					"recent_failures", state.RecentFailures,
					"threshold", threshold,
					"cool_down", state.CoolDown,
					"error_code", code,
				)
			}
		}
		return true
	})
}

// RecordSuccess closes the circuit for key and clears its counters.
func (b *Breaker) RecordSuccess(ctx context.Context, key string) error {
	return b.update(ctx, key, func(state *schema.CircuitState, now time.Time) bool {
		if state.State == schema.BreakerClosed && state.RecentFailures == 0 {
			return false
		}
		if state.State != schema.BreakerClosed {
			b.logger.Info("circuit closed", "controller_key", key, "previous_state", state.State)
		}
		state.State = schema.BreakerClosed
		state.RecentFailures = 0
		state.WindowStartedAt = time.Time{}
		state.OpenedAt = time.Time{}
		state.CoolDown = 0
		state.ProbeInFlight = false
		state.UpdatedAt = now
		return true
	})
}

// update applies mutate to the stored state and writes it back with a
// version check, retrying on conflict. mutate returns false when no
// write is needed.
func (b *Breaker) update(ctx context.Context, key string, mutate func(*schema.CircuitState, time.Time) bool) error {
	for range maxSwapAttempts {
		state, _, err := b.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("breaker: reading %s: %w", key, err)
		}
		if state.State == "" {
			state.State = schema.BreakerClosed
		}
		if !mutate(&state, b.clock.Now()) {
			return nil
		}
		saved, err := b.store.Save(ctx, state)
		if err != nil {
			return fmt.Errorf("breaker: saving %s: %w", key, err)
		}
		if saved {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w %s", errContended, key)
}

// Snapshot returns every persisted circuit. Controllers with no row
// are closed with no failures.
func (b *Breaker) Snapshot(ctx context.Context) ([]schema.CircuitState, error) {
	states, err := b.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("breaker: listing: %w", err)
	}
	return states, nil
}

// State returns the circuit for key.
func (b *Breaker) State(ctx context.Context, key string) (schema.CircuitState, error) {
	state, _, err := b.store.Get(ctx, key)
	if err != nil {
		return state, fmt.Errorf("breaker: reading %s: %w", key, err)
	}
	return state, nil
}

// Reset forces key closed, discarding its history.
func (b *Breaker) Reset(ctx context.Context, key string) error {
	if err := b.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("breaker: resetting %s: %w", key, err)
	}
	b.logger.Info("circuit reset by operator", "controller_key", key)
	return nil
}
