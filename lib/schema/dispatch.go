// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "encoding/json"

// Channel is how a submission reaches a controller.
type Channel string

const (
	ChannelWebform Channel = "webform"
	ChannelEmail   Channel = "email"
	ChannelNoop    Channel = "noop"
)

// Idempotency reports whether a dispatch reserved a new key.
type Idempotency string

const (
	IdempotencyNew     Idempotency = "new"
	IdempotencyDeduped Idempotency = "deduped"
)

// Error codes carried in DispatchResponse.Error and DLQ entries.
const (
	ErrorCodeCircuitOpen        = "circuit_open"
	ErrorCodeEnqueueFailed      = "enqueue_failed"
	ErrorCodeGuardUnavailable   = "idempotency_unavailable"
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeControllerUnknown  = "controller_unknown"
	ErrorCodeDeliveryExhausted  = "delivery_exhausted"
	ErrorCodeControllerDisabled = "controller_unavailable"
)

// DefaultActionLabel is used when a request names none.
const DefaultActionLabel = "create_request_v1"

// FollowUpActionLabel marks an escalation dispatch.
const FollowUpActionLabel = "follow_up_v1"

// Subject identifies the data principal. Any subset may be set; the
// idempotency key uses the first non-empty field in the order ID,
// Email, Phone, Handle, Name.
type Subject struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Handle string `json:"handle,omitempty"`
}

// IsZero reports whether no identifier is set.
func (s Subject) IsZero() bool {
	return s == Subject{}
}

// Draft is the message body prepared upstream.
type Draft struct {
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
}

// DispatchRequest asks for one erasure submission to one controller.
type DispatchRequest struct {
	ControllerKey  string  `json:"controller_key"`
	ControllerName string  `json:"controller_name,omitempty"`
	Subject        Subject `json:"subject"`
	Locale         string  `json:"locale,omitempty"`
	Draft          *Draft  `json:"draft,omitempty"`
	FormURL        string  `json:"form_url,omitempty"`
	ActionLabel    string  `json:"action_label,omitempty"`

	// ActionID links a follow-up to the Action it escalates. Empty for
	// first submissions.
	ActionID string `json:"action_id,omitempty"`
}

// Label returns ActionLabel or the default.
func (r DispatchRequest) Label() string {
	if r.ActionLabel == "" {
		return DefaultActionLabel
	}
	return r.ActionLabel
}

// DispatchResponse is the dispatcher's answer. Empty strings stand
// for absent values; ProviderRef, Error, Note and Hint are always
// present on the wire and encode as null when absent.
type DispatchResponse struct {
	OK          bool        `json:"ok"`
	Channel     Channel     `json:"channel"`
	ProviderRef string      `json:"provider_ref"`
	Error       string      `json:"error"`
	Note        string      `json:"note"`
	Idempotent  Idempotency `json:"idempotent"`
	Hint        string      `json:"hint"`

	// ActionID is the Action created or reused for this request.
	ActionID string `json:"action_id,omitempty"`
}

// MarshalJSON encodes absent optional strings as null.
func (r DispatchResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OK          bool        `json:"ok"`
		Channel     Channel     `json:"channel"`
		ProviderRef *string     `json:"provider_ref"`
		Error       *string     `json:"error"`
		Note        *string     `json:"note"`
		Idempotent  Idempotency `json:"idempotent"`
		Hint        *string     `json:"hint"`
		ActionID    string      `json:"action_id,omitempty"`
	}{
		OK:          r.OK,
		Channel:     r.Channel,
		ProviderRef: nullable(r.ProviderRef),
		Error:       nullable(r.Error),
		Note:        nullable(r.Note),
		Idempotent:  r.Idempotent,
		Hint:        nullable(r.Hint),
		ActionID:    r.ActionID,
	})
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
