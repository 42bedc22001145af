// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/store"
)

// Executor runs a job's side effect. A nil error means success; the
// returned string is stored as the job result.
type Executor interface {
	Execute(ctx context.Context, job schema.Job) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job schema.Job) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, job schema.Job) (string, error) {
	return f(ctx, job)
}

// TerminalHook is called after a job fails for good, including jobs
// failed by the reaper. cause is nil for reaped jobs.
type TerminalHook func(ctx context.Context, job schema.Job, cause error)

// PoolConfig holds the parameters for a Pool.
type PoolConfig struct {
	Queue    *Queue
	Executor Executor
	Clock    clock.Clock

	// Workers is the number of concurrent polling workers.
	Workers int

	// WorkerPrefix prefixes worker ids, which appear in job rows.
	// Defaults to "worker".
	WorkerPrefix string

	PollInterval time.Duration

	// JobTimeout bounds one execution.
	JobTimeout time.Duration

	// LeaseTimeout and ReapInterval drive the stale claim reaper. A
	// zero ReapInterval disables it.
	LeaseTimeout time.Duration
	ReapInterval time.Duration

	// OnTerminal is called for every job that ends failed. Optional.
	OnTerminal TerminalHook

	Logger *slog.Logger
}

// Pool runs workers against a Queue.
type Pool struct {
	config PoolConfig
	logger *slog.Logger
}

// NewPool validates cfg and returns a Pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Queue == nil || cfg.Executor == nil || cfg.Clock == nil || cfg.Logger == nil {
		return nil, errors.New("jobqueue: Queue, Executor, Clock and Logger are required")
	}
	if cfg.Workers < 1 {
		return nil, errors.New("jobqueue: Workers must be at least 1")
	}
	if cfg.PollInterval <= 0 || cfg.JobTimeout <= 0 {
		return nil, errors.New("jobqueue: PollInterval and JobTimeout must be positive")
	}
	if cfg.ReapInterval > 0 && cfg.LeaseTimeout <= cfg.JobTimeout {
		return nil, errors.New("jobqueue: LeaseTimeout must exceed JobTimeout")
	}
	if cfg.WorkerPrefix == "" {
		cfg.WorkerPrefix = "worker"
	}
	return &Pool{config: cfg, logger: cfg.Logger}, nil
}

// Run starts the workers and the reaper and blocks until ctx is
// cancelled or one of them fails.
func (p *Pool) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for index := range p.config.Workers {
		workerID := fmt.Sprintf("%s-%d", p.config.WorkerPrefix, index)
		group.Go(func() error {
			return p.work(groupCtx, workerID)
		})
	}
	if p.config.ReapInterval > 0 {
		group.Go(func() error {
			return p.reap(groupCtx)
		})
	}
	p.logger.Info("job workers started",
		"workers", p.config.Workers,
		"poll_interval", p.config.PollInterval,
		"lease_timeout", p.config.LeaseTimeout,
	)
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) work(ctx context.Context, workerID string) error {
	ticker := p.config.Clock.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	for {
		// Drain everything claimable before waiting for the next tick.
		for {
			processed, err := p.RunOnce(ctx, workerID)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				p.logger.Error("job worker iteration failed", "worker_id", workerID, "error", err)
				break
			}
			if !processed {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) reap(ctx context.Context) error {
	ticker := p.config.Clock.NewTicker(p.config.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := p.ReapOnce(ctx); err != nil {
			p.logger.Error("reaping stale jobs failed", "error", err)
		}
	}
}

// ReapOnce runs one reaper pass and fires OnTerminal for jobs it
// failed. It returns every job it took back.
func (p *Pool) ReapOnce(ctx context.Context) ([]store.ReapedJob, error) {
	reaped, err := p.config.Queue.ReapStale(ctx, p.config.LeaseTimeout)
	if err != nil {
		return nil, err
	}
	for _, entry := range reaped {
		if entry.Status != schema.JobFailed || p.config.OnTerminal == nil {
			continue
		}
		job, err := p.config.Queue.Get(ctx, entry.ID)
		if err != nil {
			p.logger.Error("reading reaped job", "job_id", entry.ID, "error", err)
			continue
		}
		p.config.OnTerminal(ctx, job, nil)
	}
	return reaped, nil
}

// RunOnce claims and executes at most one job as workerID. It reports
// whether a job was claimed. Execution failures are recorded on the
// job and are not returned.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := p.config.Queue.ClaimNext(ctx, workerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	logger := p.logger.With("job_id", job.ID, "worker_id", workerID, "attempt", job.Attempts)

	executeCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	result, executeErr := p.config.Executor.Execute(executeCtx, *job)
	cancel()

	if executeErr == nil {
		if err := p.config.Queue.CompleteSuccess(ctx, job.ID, workerID, result); err != nil {
			if errors.Is(err, ErrLeaseLost) {
				logger.Warn("job finished after its claim was reaped; result discarded")
				return true, nil
			}
			return true, err
		}
		logger.Info("job succeeded", "controller_key", job.ControllerKey)
		return true, nil
	}

	outcome, err := p.config.Queue.CompleteFailure(ctx, job.ID, workerID, executeErr)
	if err != nil {
		if errors.Is(err, ErrLeaseLost) {
			logger.Warn("job failed after its claim was reaped", "error", executeErr)
			return true, nil
		}
		return true, err
	}
	if outcome == Deferred {
		logger.Info("job deferred", "controller_key", job.ControllerKey, "reason", executeErr)
		return true, nil
	}
	logger.Warn("job attempt failed",
		"controller_key", job.ControllerKey,
		"outcome", outcome,
		"error", executeErr,
	)
	if outcome == TerminallyFailed && p.config.OnTerminal != nil {
		failed, err := p.config.Queue.Get(ctx, job.ID)
		if err != nil {
			return true, err
		}
		p.config.OnTerminal(ctx, failed, executeErr)
	}
	return true, nil
}
