// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/sqlitepool"
)

// JobStore persists the job queue.
type JobStore struct {
	pool *sqlitepool.Pool
}

// ReapedJob reports one stale claim the reaper released.
type ReapedJob struct {
	ID     string           `json:"id"`
	Status schema.JobStatus `json:"status"`
}

const jobColumns = `id, kind, status, action_id, controller_key, subject_ref, target_url,
	metadata, payload, attempts, max_attempts, error, result, created_at,
	claimed_at, finished_at, worker_id`

func scanJob(stmt *sqlite.Stmt) (schema.Job, error) {
	job := schema.Job{
		ID:            stmt.ColumnText(0),
		Kind:          schema.JobKind(stmt.ColumnText(1)),
		Status:        schema.JobStatus(stmt.ColumnText(2)),
		ActionID:      stmt.ColumnText(3),
		ControllerKey: stmt.ColumnText(4),
		SubjectRef:    stmt.ColumnText(5),
		TargetURL:     stmt.ColumnText(6),
		Payload:       columnBlob(stmt, 8),
		Attempts:      stmt.ColumnInt(9),
		MaxAttempts:   stmt.ColumnInt(10),
		Error:         stmt.ColumnText(11),
		Result:        stmt.ColumnText(12),
		CreatedAt:     fromNanos(stmt.ColumnInt64(13)),
		ClaimedAt:     fromNanos(stmt.ColumnInt64(14)),
		FinishedAt:    fromNanos(stmt.ColumnInt64(15)),
		WorkerID:      stmt.ColumnText(16),
	}
	if metadata := columnBlob(stmt, 7); metadata != nil {
		if err := codec.Unmarshal(metadata, &job.Metadata); err != nil {
			return job, fmt.Errorf("store: job %s metadata: %w", job.ID, err)
		}
	}
	return job, nil
}

// Insert adds a queued job. ID and CreatedAt must be set.
func (s *JobStore) Insert(ctx context.Context, job schema.Job) error {
	var metadata []byte
	if len(job.Metadata) > 0 {
		var err error
		if metadata, err = codec.Marshal(job.Metadata); err != nil {
			return fmt.Errorf("store: encoding job metadata: %w", err)
		}
	}
	return s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO jobs (id, kind, status, action_id, controller_key, subject_ref,
				target_url, metadata, payload, attempts, max_attempts, created_at, available_at)
			VALUES (?, ?, 'queued', ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				job.ID, string(job.Kind), job.ActionID, job.ControllerKey, job.SubjectRef,
				job.TargetURL, metadata, job.Payload, job.MaxAttempts,
				nanos(job.CreatedAt), nanos(job.CreatedAt),
			}})
		if err != nil {
			return fmt.Errorf("store: inserting job: %w", err)
		}
		return nil
	})
}

// Get returns the job with id or ErrNotFound.
func (s *JobStore) Get(ctx context.Context, id string) (schema.Job, error) {
	var (
		job   schema.Job
		found bool
	)
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var err error
					job, err = scanJob(stmt)
					found = true
					return err
				},
			})
	})
	if err != nil {
		return job, fmt.Errorf("store: reading job: %w", err)
	}
	if !found {
		return job, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// OldestClaimable returns the id of the oldest queued job that still
// has attempts left and whose retry delay has passed.
func (s *JobStore) OldestClaimable(ctx context.Context, now time.Time) (string, bool, error) {
	var id string
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id FROM jobs
			WHERE status = 'queued' AND attempts < max_attempts AND available_at <= ?
			ORDER BY created_at, id
			LIMIT 1`,
			&sqlitex.ExecOptions{
				Args: []any{nanos(now)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					id = stmt.ColumnText(0)
					return nil
				},
			})
	})
	if err != nil {
		return "", false, fmt.Errorf("store: selecting claimable job: %w", err)
	}
	return id, id != "", nil
}

// Claim moves id from queued to running for workerID and counts the
// attempt. It reports false when another worker got there first or the
// job is no longer claimable.
func (s *JobStore) Claim(ctx context.Context, id, workerID string, now time.Time) (bool, error) {
	var changed bool
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE jobs
			SET status = 'running', worker_id = ?, claimed_at = ?, attempts = attempts + 1
			WHERE id = ? AND status = 'queued' AND attempts < max_attempts`,
			&sqlitex.ExecOptions{Args: []any{workerID, nanos(now), id}})
		changed = conn.Changes() == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: claiming job %s: %w", id, err)
	}
	return changed, nil
}

// Succeed marks a running job succeeded. It reports false when the
// job is not running under workerID (reaped, or never claimed).
func (s *JobStore) Succeed(ctx context.Context, id, workerID, result string, now time.Time) (bool, error) {
	var changed bool
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE jobs
			SET status = 'succeeded', result = ?, error = '', finished_at = ?
			WHERE id = ? AND status = 'running' AND worker_id = ?`,
			&sqlitex.ExecOptions{Args: []any{result, nanos(now), id, workerID}})
		changed = conn.Changes() == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: completing job %s: %w", id, err)
	}
	return changed, nil
}

// Fail records a failed attempt. A job with attempts left returns to
// queued, claimable again at retryAt; otherwise it becomes failed.
// terminal forces failed regardless of attempts. The resulting status
// is returned; ok is false when the job was not running under
// workerID.
func (s *JobStore) Fail(ctx context.Context, id, workerID, message string, terminal bool, now, retryAt time.Time) (status schema.JobStatus, ok bool, err error) {
	err = s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE jobs
			SET status = CASE WHEN ? = 0 AND attempts < max_attempts THEN 'queued' ELSE 'failed' END,
				finished_at = CASE WHEN ? = 0 AND attempts < max_attempts THEN 0 ELSE ? END,
				available_at = ?,
				error = ?,
				worker_id = ''
			WHERE id = ? AND status = 'running' AND worker_id = ?
			RETURNING status`,
			&sqlitex.ExecOptions{
				Args: []any{boolInt(terminal), boolInt(terminal), nanos(now), nanos(retryAt), message, id, workerID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					status = schema.JobStatus(stmt.ColumnText(0))
					ok = true
					return nil
				},
			})
	})
	if err != nil {
		return "", false, fmt.Errorf("store: failing job %s: %w", id, err)
	}
	return status, ok, nil
}

// Defer returns a running job to queued, claimable again at
// availableAt, and gives back the attempt its claim counted. It
// reports false when the job was not running under workerID.
func (s *JobStore) Defer(ctx context.Context, id, workerID, message string, availableAt time.Time) (bool, error) {
	var changed bool
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE jobs
			SET status = 'queued',
				attempts = MAX(attempts - 1, 0),
				available_at = ?,
				error = ?,
				worker_id = ''
			WHERE id = ? AND status = 'running' AND worker_id = ?`,
			&sqlitex.ExecOptions{Args: []any{nanos(availableAt), message, id, workerID}})
		changed = conn.Changes() == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: deferring job %s: %w", id, err)
	}
	return changed, nil
}

// ReapStale releases running jobs claimed before claimedBefore. The
// expired claim counts as the failed attempt it already consumed:
// jobs with attempts left are requeued, the rest fail.
func (s *JobStore) ReapStale(ctx context.Context, claimedBefore, now time.Time) ([]ReapedJob, error) {
	var reaped []ReapedJob
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE jobs
			SET status = CASE WHEN attempts < max_attempts THEN 'queued' ELSE 'failed' END,
				finished_at = CASE WHEN attempts < max_attempts THEN 0 ELSE ? END,
				available_at = ?,
				error = 'lease expired',
				worker_id = ''
			WHERE status = 'running' AND claimed_at < ?
			RETURNING id, status`,
			&sqlitex.ExecOptions{
				Args: []any{nanos(now), nanos(now), nanos(claimedBefore)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					reaped = append(reaped, ReapedJob{
						ID:     stmt.ColumnText(0),
						Status: schema.JobStatus(stmt.ColumnText(1)),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: reaping stale jobs: %w", err)
	}
	return reaped, nil
}

// List returns up to limit jobs, newest first. An empty status lists
// every status.
func (s *JobStore) List(ctx context.Context, status schema.JobStatus, limit int) ([]schema.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []schema.Job
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT `+jobColumns+` FROM jobs
			WHERE ? = '' OR status = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{string(status), string(status), limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					job, err := scanJob(stmt)
					if err != nil {
						return err
					}
					jobs = append(jobs, job)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing jobs: %w", err)
	}
	return jobs, nil
}

// Stats counts jobs per status.
func (s *JobStore) Stats(ctx context.Context) (schema.JobStats, error) {
	var stats schema.JobStats
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT status, COUNT(*) FROM jobs GROUP BY status`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count := stmt.ColumnInt(1)
					switch schema.JobStatus(stmt.ColumnText(0)) {
					case schema.JobQueued:
						stats.Queued = count
					case schema.JobRunning:
						stats.Running = count
					case schema.JobSucceeded:
						stats.Succeeded = count
					case schema.JobFailed:
						stats.Failed = count
					}
					return nil
				},
			})
	})
	if err != nil {
		return stats, fmt.Errorf("store: job stats: %w", err)
	}
	return stats, nil
}
