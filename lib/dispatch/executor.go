// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/erasure/lib/breaker"
	"github.com/bureau-foundation/erasure/lib/channel"
	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/controller"
	"github.com/bureau-foundation/erasure/lib/jobqueue"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/store"
)

// Transports selects the channel transport for a controller.
// *channel.Router implements it.
type Transports interface {
	Select(name schema.Channel) (channel.Transport, error)
}

// ExecutorConfig holds the collaborators of an Executor.
type ExecutorConfig struct {
	Controllers *controller.Table
	Transports  Transports
	Breaker     CircuitBreaker
	Actions     Actions
	Clock       clock.Clock

	// HalfOpenWait is how long a delivery waits when another delivery
	// holds the controller's half-open slot. Defaults to one minute.
	HalfOpenWait time.Duration

	Logger *slog.Logger
}

// Executor performs queued submissions. It implements
// jobqueue.Executor.
type Executor struct {
	controllers  *controller.Table
	transports   Transports
	breaker      CircuitBreaker
	actions      Actions
	clock        clock.Clock
	halfOpenWait time.Duration
	logger       *slog.Logger
}

// NewExecutor validates cfg and returns an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Controllers == nil || cfg.Transports == nil || cfg.Breaker == nil || cfg.Actions == nil {
		return nil, errors.New("dispatch: Controllers, Transports, Breaker and Actions are required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("dispatch: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("dispatch: Logger is required")
	}
	if cfg.HalfOpenWait <= 0 {
		cfg.HalfOpenWait = time.Minute
	}
	return &Executor{
		controllers:  cfg.Controllers,
		transports:   cfg.Transports,
		breaker:      cfg.Breaker,
		actions:      cfg.Actions,
		clock:        cfg.Clock,
		halfOpenWait: cfg.HalfOpenWait,
		logger:       cfg.Logger,
	}, nil
}

// Execute delivers the submission carried by job. The controller's
// breaker is consulted first: a refused delivery is deferred until
// the circuit may admit it again, without using an attempt or
// counting a failure. Transient failures are returned as-is so the
// queue retries them, and count against the breaker. Rejections fail
// the job at once without touching the breaker.
func (e *Executor) Execute(ctx context.Context, job schema.Job) (string, error) {
	var request schema.DispatchRequest
	if err := codec.Unmarshal(job.Payload, &request); err != nil {
		return "", jobqueue.Permanent(fmt.Errorf("decoding payload: %w", err))
	}
	target, found := resolve(e.controllers, request)
	if !found {
		return "", jobqueue.Permanent(fmt.Errorf("controller %s no longer resolves", request.ControllerKey))
	}
	transport, err := e.transports.Select(target.Channel)
	if err != nil {
		return "", jobqueue.Permanent(err)
	}

	decision, err := e.breaker.ShouldAllow(ctx, target.Key)
	if err != nil {
		// Unknown breaker state is treated as open.
		return "", jobqueue.Defer(e.clock.Now().Add(e.halfOpenWait), fmt.Errorf("reading breaker for %s: %w", target.Key, err))
	}
	if !decision.Allow {
		retryAt := decision.RetryAt
		if retryAt.IsZero() {
			retryAt = e.clock.Now().Add(e.halfOpenWait)
		}
		return "", jobqueue.Defer(retryAt, fmt.Errorf("%w: %s is %s", breaker.ErrCircuitOpen, target.Key, decision.State))
	}

	result, err := transport.Submit(ctx, channel.Submission{
		JobID:      job.ID,
		Controller: target,
		Request:    request,
		TargetURL:  job.TargetURL,
	})
	if err != nil {
		if errors.Is(err, channel.ErrTransient) {
			if recordErr := e.breaker.RecordFailure(ctx, target.Key, failureCode(err), err.Error()); recordErr != nil {
				e.logger.Error("recording breaker failure", "controller_key", target.Key, "error", recordErr)
			}
			return "", err
		}
		return "", jobqueue.Permanent(err)
	}

	if err := e.breaker.RecordSuccess(ctx, target.Key); err != nil {
		e.logger.Error("recording breaker success", "controller_key", target.Key, "error", err)
	}
	e.recordDelivery(ctx, job, result)
	return result.String(), nil
}

// recordDelivery notes the delivery on the job's Action. A follow-up
// moves its Action to escalated.
func (e *Executor) recordDelivery(ctx context.Context, job schema.Job, result channel.Result) {
	if job.ActionID == "" {
		return
	}
	update := store.ActionUpdate{
		VerificationInfo: "delivered: " + result.String(),
		UpdatedAt:        e.clock.Now(),
	}
	from := []schema.ActionStatus{schema.ActionSent}
	if job.Kind == schema.JobKindFollowUp {
		update.Status = schema.ActionEscalated
		from = []schema.ActionStatus{schema.ActionEscalatePending}
	}
	if _, err := e.actions.Transition(ctx, job.ActionID, update, from...); err != nil {
		e.logger.Error("recording delivery on action", "action_id", job.ActionID, "job_id", job.ID, "error", err)
	}
}

// failureCode names a transient failure for the breaker's
// last_error_code.
func failureCode(err error) string {
	var delivery *channel.DeliveryError
	if errors.As(err, &delivery) && delivery.StatusCode != 0 {
		return fmt.Sprintf("http_%d", delivery.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "transport_error"
}
