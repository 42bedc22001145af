// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// IdempotencyRecord reserves a dispatch fingerprint until ExpiresAt.
type IdempotencyRecord struct {
	Key         string    `json:"key"`
	ActionLabel string    `json:"action_label"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// BreakerState is the circuit breaker state of one controller.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitState is the persisted breaker for one controller. Version
// increments on every write; saves are conditional on it.
type CircuitState struct {
	ControllerKey   string        `json:"controller_key"`
	State           BreakerState  `json:"state"`
	RecentFailures  int           `json:"recent_failures"`
	WindowStartedAt time.Time     `json:"window_started_at,omitzero"`
	OpenedAt        time.Time     `json:"opened_at,omitzero"`
	CoolDown        time.Duration `json:"cool_down"`
	Trips           int           `json:"trips"`
	ProbeInFlight   bool          `json:"probe_in_flight"`
	LastErrorCode   string        `json:"last_error_code,omitempty"`
	LastErrorNote   string        `json:"last_error_note,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at,omitzero"`
	Version         int64         `json:"version"`
}

// DeadLetterEntry is an irrecoverable dispatch awaiting retry or purge.
// Payload is the CBOR DispatchRequest.
type DeadLetterEntry struct {
	ID            string    `json:"id"`
	Channel       Channel   `json:"channel"`
	ControllerKey string    `json:"controller_key"`
	SubjectRef    string    `json:"subject_ref"`
	ActionID      string    `json:"action_id,omitempty"`
	Payload       []byte    `json:"payload"`
	ErrorCode     string    `json:"error_code"`
	ErrorNote     string    `json:"error_note,omitempty"`
	Retries       int       `json:"retries"`
	CreatedAt     time.Time `json:"created_at"`
	LastRetryAt   time.Time `json:"last_retry_at,omitzero"`
}
