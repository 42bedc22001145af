// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// JobStatus is the lifecycle state of a Job. Succeeded and failed are
// terminal.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobKind distinguishes a first submission from an escalation.
type JobKind string

const (
	JobKindDispatch JobKind = "dispatch"
	JobKindFollowUp JobKind = "follow_up"
)

// Job is one unit of queued work. Attempts counts executions started
// and never exceeds MaxAttempts.
type Job struct {
	ID            string            `json:"id"`
	Kind          JobKind           `json:"kind"`
	Status        JobStatus         `json:"status"`
	ActionID      string            `json:"action_id,omitempty"`
	ControllerKey string            `json:"controller_key"`
	SubjectRef    string            `json:"subject_ref"`
	TargetURL     string            `json:"target_url,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	Error         string            `json:"error,omitempty"`
	Result        string            `json:"result,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ClaimedAt     time.Time         `json:"claimed_at,omitzero"`
	FinishedAt    time.Time         `json:"finished_at,omitzero"`
	WorkerID      string            `json:"worker_id,omitempty"`

	// Payload is the CBOR-encoded DispatchRequest the worker executes.
	Payload []byte `json:"-"`
}

// JobStats counts jobs by status.
type JobStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
