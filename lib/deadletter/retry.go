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
	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/schema"
)

// Dispatcher re-runs a dead-lettered request on behalf of its entry.
// It must not push a second entry for the same payload.
// *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Replay(ctx context.Context, request schema.DispatchRequest, entry schema.DeadLetterEntry) (schema.DispatchResponse, error)
}

// RetrierConfig holds the parameters for a Retrier.
type RetrierConfig struct {
	Queue      *Queue
	Dispatcher Dispatcher
	Clock      clock.Clock

	// ChunkSize entries are retried between pauses. Defaults to 10.
	ChunkSize int
	Pause     time.Duration

	Logger *slog.Logger
}

// Retrier replays dead letters through the dispatcher.
type Retrier struct {
	queue      *Queue
	dispatcher Dispatcher
	clock      clock.Clock
	chunkSize  int
	pause      time.Duration
	logger     *slog.Logger
}

// NewRetrier validates cfg and returns a Retrier.
func NewRetrier(cfg RetrierConfig) (*Retrier, error) {
	if cfg.Queue == nil || cfg.Dispatcher == nil {
		return nil, errors.New("deadletter: Queue and Dispatcher are required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("deadletter: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("deadletter: Logger is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	return &Retrier{
		queue:      cfg.Queue,
		dispatcher: cfg.Dispatcher,
		clock:      cfg.Clock,
		chunkSize:  cfg.ChunkSize,
		pause:      cfg.Pause,
		logger:     cfg.Logger,
	}, nil
}

// Retry re-dispatches entry id. An ok response, including a dedup,
// purges the entry. Otherwise the entry's retry count goes up and the
// dispatch error is returned with the response. The entry remains the
// only dead letter for its payload however often the retry fails.
func (r *Retrier) Retry(ctx context.Context, id string) (schema.DispatchResponse, error) {
	entry, err := r.queue.Get(ctx, id)
	if err != nil {
		return schema.DispatchResponse{}, err
	}

	var request schema.DispatchRequest
	if err := codec.Unmarshal(entry.Payload, &request); err != nil {
		note := fmt.Sprintf("payload does not decode: %v", err)
		if recordErr := r.queue.recordRetry(ctx, id, "", schema.ErrorCodeInvalidRequest, note); recordErr != nil {
			return schema.DispatchResponse{}, recordErr
		}
		return schema.DispatchResponse{}, fmt.Errorf("deadletter: entry %s: %s", id, note)
	}

	response, dispatchErr := r.dispatcher.Replay(ctx, request, entry)
	if response.OK {
		reason := "retry dispatched as " + response.ProviderRef
		if response.Idempotent == schema.IdempotencyDeduped {
			reason = "retry deduplicated against an existing submission"
		}
		if err := r.queue.Purge(ctx, id, reason); err != nil {
			return response, err
		}
		return response, nil
	}

	note := response.Note
	if note == "" && dispatchErr != nil {
		note = dispatchErr.Error()
	}
	if err := r.queue.recordRetry(ctx, id, response.ActionID, response.Error, note); err != nil {
		return response, err
	}
	r.logger.Info("dead letter retry failed",
		"dead_letter_id", id,
		"controller_key", entry.ControllerKey,
		"error_code", response.Error,
	)
	if dispatchErr == nil {
		dispatchErr = fmt.Errorf("deadletter: retry of %s failed: %s", id, response.Error)
	}
	return response, dispatchErr
}

// RetrySummary counts the outcome of RetryAll.
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetryAll retries up to filter.Limit entries, oldest first, pausing
// between chunks. It stops early only when ctx ends.
func (r *Retrier) RetryAll(ctx context.Context, filter Filter) (RetrySummary, error) {
	var summary RetrySummary
	entries, err := r.queue.List(ctx, filter)
	if err != nil {
		return summary, err
	}
	for start := 0; start < len(entries); start += r.chunkSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-r.clock.After(r.pause):
			}
		}
		for _, entry := range entries[start:min(start+r.chunkSize, len(entries))] {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Attempted++
			if _, err := r.Retry(ctx, entry.ID); err != nil {
				summary.Failed++
				continue
			}
			summary.Succeeded++
		}
	}
	if summary.Attempted > 0 {
		r.logger.Info("dead letter retry pass finished",
			"attempted", summary.Attempted,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
		)
	}
	return summary, nil
}

// Run calls RetryAll every interval until ctx is cancelled.
func (r *Retrier) Run(ctx context.Context, interval time.Duration, filter Filter) error {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := r.RetryAll(ctx, filter); err != nil && ctx.Err() == nil {
			r.logger.Error("dead letter retry pass failed", "error", err)
		}
	}
}
