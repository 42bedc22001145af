// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobqueue

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

// ErrLeaseLost is returned by completions when the caller no longer
// holds the job: it was reaped, or never claimed by this worker.
var ErrLeaseLost = errors.New("jobqueue: job is not running under this worker")

// maxClaimRaces bounds how many lost races ClaimNext tolerates before
// reporting no work.
const maxClaimRaces = 8

// Store persists jobs. lib/store's JobStore implements it.
type Store interface {
	Insert(ctx context.Context, job schema.Job) error
	Get(ctx context.Context, id string) (schema.Job, error)
	OldestClaimable(ctx context.Context, now time.Time) (string, bool, error)
	Claim(ctx context.Context, id, workerID string, now time.Time) (bool, error)
	Succeed(ctx context.Context, id, workerID, result string, now time.Time) (bool, error)
	Fail(ctx context.Context, id, workerID, message string, terminal bool, now, retryAt time.Time) (schema.JobStatus, bool, error)
	Defer(ctx context.Context, id, workerID, message string, availableAt time.Time) (bool, error)
	ReapStale(ctx context.Context, claimedBefore, now time.Time) ([]store.ReapedJob, error)
	List(ctx context.Context, status schema.JobStatus, limit int) ([]schema.Job, error)
	Stats(ctx context.Context) (schema.JobStats, error)
}

// FailureOutcome says what CompleteFailure did with the job.
type FailureOutcome string

const (
	Requeued         FailureOutcome = "requeued"
	TerminallyFailed FailureOutcome = "terminally_failed"

	// Deferred means the job never ran and went back to the queue
	// with its attempt returned.
	Deferred FailureOutcome = "deferred"
)

// PermanentError marks a failure that retrying cannot fix, such as a
// controller rejecting the request outright.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so CompleteFailure fails the job without using
// its remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// DeferredError marks an execution that declined to start, such as
// a delivery held back by an open circuit. The job is requeued for
// Until and the attempt is not counted.
type DeferredError struct {
	Until time.Time
	Err   error
}

func (e *DeferredError) Error() string { return e.Err.Error() }
func (e *DeferredError) Unwrap() error { return e.Err }

// Defer wraps err so CompleteFailure requeues the job for until
// without using an attempt.
func Defer(until time.Time, err error) error {
	if err == nil {
		return nil
	}
	return &DeferredError{Until: until, Err: err}
}

// IsDeferred reports whether err was wrapped by Defer.
func IsDeferred(err error) bool {
	var deferred *DeferredError
	return errors.As(err, &deferred)
}

// JobSpec describes a job to enqueue.
type JobSpec struct {
	Kind          schema.JobKind
	ActionID      string
	ControllerKey string
	SubjectRef    string
	TargetURL     string
	Metadata      map[string]string
	Payload       []byte

	// MaxAttempts overrides the queue default when positive.
	MaxAttempts int
}

// Config holds the parameters for a Queue.
type Config struct {
	Store Store
	Clock clock.Clock

	// MaxAttempts is the default attempt budget. Required.
	MaxAttempts int

	Backoff BackoffConfig
	Logger  *slog.Logger
}

// Queue is the durable job queue.
type Queue struct {
	store       Store
	clock       clock.Clock
	maxAttempts int
	backoff     BackoffConfig
	logger      *slog.Logger
}

// New validates cfg and returns a Queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errors.New("jobqueue: Store is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("jobqueue: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("jobqueue: Logger is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("jobqueue: MaxAttempts must be at least 1")
	}
	return &Queue{
		store:       cfg.Store,
		clock:       cfg.Clock,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      cfg.Logger,
	}, nil
}

// Enqueue inserts a queued job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, spec JobSpec) (string, error) {
	if spec.ControllerKey == "" {
		return "", errors.New("jobqueue: ControllerKey is required")
	}
	kind := spec.Kind
	if kind == "" {
		kind = schema.JobKindDispatch
	}
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}
	job := schema.Job{
		ID:            store.NewID("job"),
		Kind:          kind,
		Status:        schema.JobQueued,
		ActionID:      spec.ActionID,
		ControllerKey: spec.ControllerKey,
		SubjectRef:    spec.SubjectRef,
		TargetURL:     spec.TargetURL,
		Metadata:      spec.Metadata,
		Payload:       spec.Payload,
		MaxAttempts:   maxAttempts,
		CreatedAt:     q.clock.Now(),
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("jobqueue: enqueue: %w", err)
	}
	q.logger.Debug("job enqueued",
		"job_id", job.ID,
		"kind", job.Kind,
		"controller_key", job.ControllerKey,
	)
	return job.ID, nil
}

// ClaimNext claims the oldest claimable job for workerID. It returns
// nil when there is none.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*schema.Job, error) {
	for range maxClaimRaces {
		now := q.clock.Now()
		id, ok, err := q.store.OldestClaimable(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("jobqueue: %w", err)
		}
		if !ok {
			return nil, nil
		}
		won, err := q.store.Claim(ctx, id, workerID, now)
		if err != nil {
			return nil, fmt.Errorf("jobqueue: %w", err)
		}
		if !won {
			continue
		}
		job, err := q.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("jobqueue: reading claimed job: %w", err)
		}
		return &job, nil
	}
	q.logger.Debug("claim contention, backing off", "worker_id", workerID)
	return nil, nil
}

// CompleteSuccess marks a job workerID holds as succeeded.
func (q *Queue) CompleteSuccess(ctx context.Context, id, workerID, result string) error {
	ok, err := q.store.Succeed(ctx, id, workerID, result, q.clock.Now())
	if err != nil {
		return fmt.Errorf("jobqueue: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLeaseLost, id)
	}
	return nil
}

// CompleteFailure records a failed attempt on a job workerID holds.
// A DeferredError requeues the job without counting the attempt.
func (q *Queue) CompleteFailure(ctx context.Context, id, workerID string, jobErr error) (FailureOutcome, error) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("jobqueue: %w", err)
	}
	now := q.clock.Now()
	message := "unknown error"
	if jobErr != nil {
		message = jobErr.Error()
	}

	var deferred *DeferredError
	if errors.As(jobErr, &deferred) {
		until := deferred.Until
		if until.Before(now) {
			until = now
		}
		ok, err := q.store.Defer(ctx, id, workerID, message, until)
		if err != nil {
			return "", fmt.Errorf("jobqueue: %w", err)
		}
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrLeaseLost, id)
		}
		return Deferred, nil
	}

	status, ok, err := q.store.Fail(ctx, id, workerID, message, IsPermanent(jobErr), now,
		NextRetryAt(now, job.Attempts, q.backoff))
	if err != nil {
		return "", fmt.Errorf("jobqueue: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrLeaseLost, id)
	}
	if status == schema.JobQueued {
		return Requeued, nil
	}
	return TerminallyFailed, nil
}

// ReapStale returns jobs claimed longer than leaseTimeout ago to the
// queue, or fails them when their attempts are used up.
func (q *Queue) ReapStale(ctx context.Context, leaseTimeout time.Duration) ([]store.ReapedJob, error) {
	now := q.clock.Now()
	reaped, err := q.store.ReapStale(ctx, now.Add(-leaseTimeout), now)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: %w", err)
	}
	for _, job := range reaped {
		q.logger.Warn("reaped stale job claim", "job_id", job.ID, "status", job.Status)
	}
	return reaped, nil
}

// Get returns one job.
func (q *Queue) Get(ctx context.Context, id string) (schema.Job, error) {
	return q.store.Get(ctx, id)
}

// List returns recent jobs, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status schema.JobStatus, limit int) ([]schema.Job, error) {
	return q.store.List(ctx, status, limit)
}

// Stats counts jobs by status.
func (q *Queue) Stats(ctx context.Context) (schema.JobStats, error) {
	return q.store.Stats(ctx)
}
