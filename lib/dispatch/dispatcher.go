// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/erasure/lib/breaker"
	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/controller"
	"github.com/bureau-foundation/erasure/lib/idempotency"
	"github.com/bureau-foundation/erasure/lib/jobqueue"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/store"
)

// Guard reserves idempotency keys. *idempotency.Guard implements it.
type Guard interface {
	CheckAndReserve(ctx context.Context, key, label string) (idempotency.Outcome, error)
	Release(ctx context.Context, key string) error
}

// CircuitBreaker gates and scores dispatches per controller. Admit
// gates the enqueue; ShouldAllow gates the delivery and hands out the
// half-open slot. *breaker.Breaker implements it.
type CircuitBreaker interface {
	Admit(ctx context.Context, key string) (breaker.Decision, error)
	ShouldAllow(ctx context.Context, key string) (breaker.Decision, error)
	RecordFailure(ctx context.Context, key, code, note string) error
	RecordSuccess(ctx context.Context, key string) error
}

// Enqueuer makes a submission durable. *jobqueue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec jobqueue.JobSpec) (string, error)
}

// Actions persists Action rows. *store.ActionStore implements it.
type Actions interface {
	Insert(ctx context.Context, action schema.Action) error
	Get(ctx context.Context, id string) (schema.Action, error)
	Transition(ctx context.Context, id string, update store.ActionUpdate, from ...schema.ActionStatus) (bool, error)
}

// DeadLetters accepts undeliverable payloads. *deadletter.Queue
// implements it.
type DeadLetters interface {
	Push(ctx context.Context, entry schema.DeadLetterEntry) (string, error)
}

// Config holds the collaborators and parameters of a Dispatcher.
type Config struct {
	Guard       Guard
	Breaker     CircuitBreaker
	Queue       Enqueuer
	Actions     Actions
	DeadLetters DeadLetters
	Controllers *controller.Table
	Clock       clock.Clock

	// InitialDelay is how long after dispatch the first verification
	// is scheduled.
	InitialDelay time.Duration

	// BatchSize and BatchPause shape DispatchBatch. BatchSize
	// defaults to 10.
	BatchSize  int
	BatchPause time.Duration

	Logger *slog.Logger
}

// Dispatcher runs the request path for erasure submissions.
type Dispatcher struct {
	guard        Guard
	breaker      CircuitBreaker
	queue        Enqueuer
	actions      Actions
	deadLetters  DeadLetters
	controllers  *controller.Table
	clock        clock.Clock
	initialDelay time.Duration
	batchSize    int
	batchPause   time.Duration
	logger       *slog.Logger
}

// New validates cfg and returns a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Guard == nil:
		return nil, errors.New("dispatch: Guard is required")
	case cfg.Breaker == nil:
		return nil, errors.New("dispatch: Breaker is required")
	case cfg.Queue == nil:
		return nil, errors.New("dispatch: Queue is required")
	case cfg.Actions == nil:
		return nil, errors.New("dispatch: Actions is required")
	case cfg.DeadLetters == nil:
		return nil, errors.New("dispatch: DeadLetters is required")
	case cfg.Controllers == nil:
		return nil, errors.New("dispatch: Controllers is required")
	case cfg.Clock == nil:
		return nil, errors.New("dispatch: Clock is required")
	case cfg.Logger == nil:
		return nil, errors.New("dispatch: Logger is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Dispatcher{
		guard:        cfg.Guard,
		breaker:      cfg.Breaker,
		queue:        cfg.Queue,
		actions:      cfg.Actions,
		deadLetters:  cfg.DeadLetters,
		controllers:  cfg.Controllers,
		clock:        cfg.Clock,
		initialDelay: cfg.InitialDelay,
		batchSize:    cfg.BatchSize,
		batchPause:   cfg.BatchPause,
		logger:       cfg.Logger,
	}, nil
}

// Dispatch submits one request. Every outcome is described by the
// returned Response; the error is non-nil exactly when Response.OK is
// false, and is always an *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, request schema.DispatchRequest) (schema.DispatchResponse, error) {
	return d.dispatch(ctx, request, nil)
}

// Replay re-dispatches the request preserved in a dead-letter entry.
// The entry stays the payload's only copy: an enqueue failure is
// reported against it rather than pushing another entry, and the
// failed Action it names is resumed instead of drafting a new one.
func (d *Dispatcher) Replay(ctx context.Context, request schema.DispatchRequest, entry schema.DeadLetterEntry) (schema.DispatchResponse, error) {
	return d.dispatch(ctx, request, &entry)
}

func (d *Dispatcher) dispatch(ctx context.Context, request schema.DispatchRequest, replay *schema.DeadLetterEntry) (schema.DispatchResponse, error) {
	request.ControllerKey = strings.ToLower(strings.TrimSpace(request.ControllerKey))
	key := request.ControllerKey
	if key == "" || request.Subject.IsZero() {
		return refuse(KindInvalidRequest, key, "controller_key and at least one subject identifier are required", nil)
	}

	label := request.Label()
	idempotencyKey := idempotency.Key(key, request.Subject, label)
	logger := d.logger.With("controller_key", key, "action_label", label)

	outcome, err := d.guard.CheckAndReserve(ctx, idempotencyKey, label)
	if err != nil {
		logger.Error("idempotency check failed", "error", err)
		return refuse(KindGuardUnavailable, key, "idempotency store unavailable; retry later", err)
	}
	if outcome == idempotency.Exists {
		logger.Info("duplicate dispatch suppressed")
		return schema.DispatchResponse{
			OK:         true,
			Channel:    schema.ChannelNoop,
			Idempotent: schema.IdempotencyDeduped,
		}, nil
	}

	// From here on every refusal gives the reservation back, so a
	// later attempt is not mistaken for a duplicate.
	decision, err := d.breaker.Admit(ctx, key)
	if err != nil {
		// Unknown breaker state is treated as open.
		d.release(ctx, idempotencyKey, logger)
		logger.Error("reading breaker state failed", "error", err)
		response, _ := refuse(KindCircuitOpen, key, "breaker state unavailable; retry later", nil)
		return response, &Error{Kind: KindCircuitOpen, ControllerKey: key, Err: fmt.Errorf("%w: %w", breaker.ErrCircuitOpen, err)}
	}
	if !decision.Allow {
		d.release(ctx, idempotencyKey, logger)
		hint := "circuit open; a probe request is in flight"
		if !decision.RetryAt.IsZero() {
			hint = "circuit open; retry after " + decision.RetryAt.UTC().Format(time.RFC3339)
		}
		logger.Warn("dispatch blocked by open circuit", "state", decision.State, "retry_at", decision.RetryAt)
		response := schema.DispatchResponse{
			OK:         false,
			Channel:    schema.ChannelNoop,
			Error:      string(KindCircuitOpen),
			Idempotent: schema.IdempotencyNew,
			Hint:       hint,
		}
		return response, &Error{Kind: KindCircuitOpen, ControllerKey: key, Err: breaker.ErrCircuitOpen}
	}

	target, found := resolve(d.controllers, request)
	if !found {
		d.release(ctx, idempotencyKey, logger)
		return refuse(KindControllerUnknown, key, "unknown controller and no form_url given", nil)
	}
	if !target.Available {
		d.release(ctx, idempotencyKey, logger)
		return refuse(KindControllerUnavailable, key, target.Name+" cannot be reached by an automated channel", nil)
	}

	response, err := d.submit(ctx, request, target, replay, logger)
	if err != nil {
		d.release(ctx, idempotencyKey, logger)
	}
	return response, err
}

// submit performs the durable side effect: Action row, job, and the
// Action's move to sent.
func (d *Dispatcher) submit(ctx context.Context, request schema.DispatchRequest, target controller.Controller,
	replay *schema.DeadLetterEntry, logger *slog.Logger,
) (schema.DispatchResponse, error) {
	now := d.clock.Now()
	subjectRef := idempotency.SubjectRef(request.Subject)
	targetURL := targetURL(request, target)
	kind := schema.JobKindDispatch
	from := []schema.ActionStatus{schema.ActionDraft}

	var actionID string
	if request.ActionID == "" && replay != nil && replay.ActionID != "" {
		actionID = d.resumable(ctx, replay.ActionID, target.Key, logger)
		if actionID != "" {
			from = []schema.ActionStatus{schema.ActionFailed}
		}
	}
	if request.ActionID != "" {
		kind = schema.JobKindFollowUp
		action, err := d.actions.Get(ctx, request.ActionID)
		if err != nil {
			return refuse(KindInvalidRequest, target.Key, "follow-up names an unknown action", err)
		}
		if action.ControllerKey != target.Key {
			return refuse(KindInvalidRequest, target.Key, "follow-up action belongs to "+action.ControllerKey, nil)
		}
		actionID = action.ID
	} else if actionID == "" {
		action := schema.Action{
			ID:            store.NewID("act"),
			ControllerKey: target.Key,
			SubjectRef:    subjectRef,
			Subject:       request.Subject,
			Channel:       target.Channel,
			Status:        schema.ActionDraft,
			TargetURL:     targetURL,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := d.actions.Insert(ctx, action); err != nil {
			return d.enqueueFailed(ctx, request, target, subjectRef, "", nil, fmt.Errorf("recording action: %w", err), replay, logger)
		}
		actionID = action.ID
	}

	payload, err := codec.Marshal(request)
	if err != nil {
		return d.enqueueFailed(ctx, request, target, subjectRef, actionID, nil, fmt.Errorf("encoding payload: %w", err), replay, logger)
	}

	jobID, err := d.queue.Enqueue(ctx, jobqueue.JobSpec{
		Kind:          kind,
		ActionID:      actionID,
		ControllerKey: target.Key,
		SubjectRef:    subjectRef,
		TargetURL:     targetURL,
		Metadata: map[string]string{
			"channel":      string(target.Channel),
			"action_label": request.Label(),
		},
		Payload: payload,
	})
	if err != nil {
		return d.enqueueFailed(ctx, request, target, subjectRef, actionID, payload, err, replay, logger)
	}

	update := store.ActionUpdate{
		Status:             schema.ActionSent,
		JobID:              jobID,
		NextVerificationAt: now.Add(d.initialDelay),
		UpdatedAt:          now,
	}
	if kind == schema.JobKindFollowUp {
		update.Status = schema.ActionEscalatePending
		from = []schema.ActionStatus{schema.ActionSent, schema.ActionNeedsReview, schema.ActionFailed}
	}
	moved, err := d.actions.Transition(ctx, actionID, update, from...)
	if err != nil {
		// The job is durable and will run; only the bookkeeping lags.
		logger.Error("recording action transition failed", "action_id", actionID, "job_id", jobID, "error", err)
	} else if !moved {
		logger.Warn("action was not in an expected status for dispatch", "action_id", actionID, "job_id", jobID)
	}

	logger.Info("dispatch enqueued",
		"action_id", actionID,
		"job_id", jobID,
		"channel", target.Channel,
		"kind", kind,
	)
	return schema.DispatchResponse{
		OK:          true,
		Channel:     target.Channel,
		ProviderRef: jobID,
		Idempotent:  schema.IdempotencyNew,
		ActionID:    actionID,
	}, nil
}

// resumable returns id when it names a failed dispatch Action for
// controllerKey that a replay may move back to sent, and "" otherwise.
func (d *Dispatcher) resumable(ctx context.Context, id, controllerKey string, logger *slog.Logger) string {
	action, err := d.actions.Get(ctx, id)
	if err != nil {
		logger.Warn("dead-lettered action cannot be resumed", "action_id", id, "error", err)
		return ""
	}
	if action.ControllerKey != controllerKey || action.Status != schema.ActionFailed {
		return ""
	}
	return action.ID
}

// enqueueFailed records a breaker failure, preserves the payload in
// the dead-letter queue and fails a fresh Action. A replay keeps its
// existing entry.
func (d *Dispatcher) enqueueFailed(ctx context.Context, request schema.DispatchRequest, target controller.Controller,
	subjectRef, actionID string, payload []byte, cause error, replay *schema.DeadLetterEntry, logger *slog.Logger,
) (schema.DispatchResponse, error) {
	logger.Error("dispatch enqueue failed", "action_id", actionID, "error", cause)

	if err := d.breaker.RecordFailure(ctx, target.Key, schema.ErrorCodeEnqueueFailed, cause.Error()); err != nil {
		logger.Error("recording breaker failure", "error", err)
	}

	var entryID, hint string
	if replay != nil {
		entryID = replay.ID
		hint = "payload remains in dead-letter entry " + entryID
	} else {
		if payload == nil {
			// Best effort: a payload that failed to encode the first
			// time is not retried here, and the entry keeps its error
			// note.
			payload, _ = codec.Marshal(request)
		}
		var err error
		entryID, err = d.deadLetters.Push(ctx, schema.DeadLetterEntry{
			Channel:       target.Channel,
			ControllerKey: target.Key,
			SubjectRef:    subjectRef,
			ActionID:      actionID,
			Payload:       payload,
			ErrorCode:     schema.ErrorCodeEnqueueFailed,
			ErrorNote:     cause.Error(),
		})
		if err != nil {
			logger.Error("dead-lettering failed dispatch", "error", err)
		} else {
			hint = "payload preserved in dead-letter entry " + entryID
		}
	}

	if actionID != "" && request.ActionID == "" {
		now := d.clock.Now()
		if _, err := d.actions.Transition(ctx, actionID, store.ActionUpdate{
			Status:           schema.ActionFailed,
			VerificationInfo: "enqueue failed: " + cause.Error(),
			UpdatedAt:        now,
		}, schema.ActionDraft); err != nil {
			logger.Error("failing action", "action_id", actionID, "error", err)
		}
	}

	response := schema.DispatchResponse{
		OK:         false,
		Channel:    target.Channel,
		Error:      schema.ErrorCodeEnqueueFailed,
		Note:       cause.Error(),
		Idempotent: schema.IdempotencyNew,
		Hint:       hint,
		ActionID:   actionID,
	}
	return response, &Error{
		Kind:          KindEnqueueFailure,
		ControllerKey: target.Key,
		Err:           fmt.Errorf("%w: %w", ErrEnqueueFailure, cause),
	}
}

func (d *Dispatcher) release(ctx context.Context, key string, logger *slog.Logger) {
	if err := d.guard.Release(ctx, key); err != nil {
		logger.Error("releasing idempotency reservation", "error", err)
	}
}

// refuse builds the response and error for a request turned away
// before any side effect.
func refuse(kind Kind, controllerKey, note string, cause error) (schema.DispatchResponse, error) {
	return schema.DispatchResponse{
		OK:         false,
		Channel:    schema.ChannelNoop,
		Error:      string(kind),
		Note:       note,
		Idempotent: schema.IdempotencyNew,
	}, &Error{Kind: kind, ControllerKey: controllerKey, Err: cause}
}

// resolve finds the controller for request. An unknown controller is
// served as an ad-hoc webform when the request carries a form URL.
func resolve(controllers *controller.Table, request schema.DispatchRequest) (controller.Controller, bool) {
	if found, ok := controllers.Lookup(request.ControllerKey); ok {
		return found, true
	}
	if request.FormURL == "" {
		return controller.Controller{}, false
	}
	name := request.ControllerName
	if name == "" {
		name = request.ControllerKey
	}
	return controller.Controller{
		Key:       strings.ToLower(strings.TrimSpace(request.ControllerKey)),
		Name:      name,
		Channel:   schema.ChannelWebform,
		FormURL:   request.FormURL,
		Available: true,
	}, true
}

// targetURL is where a webform posts and what the sweep fetches by
// default. Email controllers have none.
func targetURL(request schema.DispatchRequest, target controller.Controller) string {
	if target.Channel != schema.ChannelWebform {
		return ""
	}
	if request.FormURL != "" {
		return request.FormURL
	}
	return target.FormURL
}
