// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// ActionStatus tracks an erasure request from draft to outcome.
type ActionStatus string

const (
	ActionDraft           ActionStatus = "draft"
	ActionSent            ActionStatus = "sent"
	ActionEscalatePending ActionStatus = "escalate_pending"
	ActionEscalated       ActionStatus = "escalated"
	ActionNeedsReview     ActionStatus = "needs_review"
	ActionVerified        ActionStatus = "verified"
	ActionFailed          ActionStatus = "failed"
)

// Sweepable reports whether the verification sweep re-checks actions
// in this status.
func (s ActionStatus) Sweepable() bool {
	switch s {
	case ActionSent, ActionEscalated, ActionEscalatePending:
		return true
	}
	return false
}

// Action is the logical request to one controller for one subject.
// Subject is held sealed at rest and decrypted on read.
type Action struct {
	ID                 string       `json:"id"`
	ControllerKey      string       `json:"controller_key"`
	SubjectRef         string       `json:"subject_ref"`
	Subject            Subject      `json:"-"`
	Channel            Channel      `json:"channel"`
	Status             ActionStatus `json:"status"`
	VerificationInfo   string       `json:"verification_info,omitempty"`
	TargetURL          string       `json:"target_url,omitempty"`
	JobID              string       `json:"job_id,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	NextVerificationAt time.Time    `json:"next_verification_at,omitzero"`
}

// DiscoveredItem is a candidate evidence URL supplied by the upstream
// discovery feed.
type DiscoveredItem struct {
	ID            string    `json:"id"`
	SubjectRef    string    `json:"subject_ref"`
	ControllerKey string    `json:"controller_key"`
	URL           string    `json:"url"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}
