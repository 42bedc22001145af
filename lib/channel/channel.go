// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/erasure/lib/controller"
	"github.com/bureau-foundation/erasure/lib/schema"
)

var (
	// ErrTransient marks a failure worth retrying.
	ErrTransient = errors.New("channel: transient delivery failure")

	// ErrRejected marks a failure no retry will fix.
	ErrRejected = errors.New("channel: submission rejected")

	// ErrNoTransport is returned by Router.Select for a channel with
	// no configured transport.
	ErrNoTransport = errors.New("channel: no transport configured")
)

// Submission is one delivery attempt.
type Submission struct {
	JobID      string
	Controller controller.Controller
	Request    schema.DispatchRequest

	// TargetURL is where a webform submission posts. It is the
	// request's form URL or the controller's.
	TargetURL string
}

// Result describes an accepted submission.
type Result struct {
	Channel schema.Channel

	// StatusCode is the HTTP status for webform submissions.
	StatusCode int

	// ProviderRef is the provider's message id, when it returns one.
	ProviderRef string
}

// String formats the result for the job's result column.
func (r Result) String() string {
	var parts []string
	parts = append(parts, "channel="+string(r.Channel))
	if r.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", r.StatusCode))
	}
	if r.ProviderRef != "" {
		parts = append(parts, "ref="+r.ProviderRef)
	}
	return strings.Join(parts, " ")
}

// Transport delivers a submission.
type Transport interface {
	Submit(ctx context.Context, submission Submission) (Result, error)
}

// DeliveryError carries the classified cause of a failed delivery.
// It matches ErrTransient or ErrRejected under errors.Is.
type DeliveryError struct {
	Channel    schema.Channel
	StatusCode int
	Transient  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "rejected"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("channel %s: %s (status %d): %v", e.Channel, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("channel %s: %s: %v", e.Channel, kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Transient
	case ErrRejected:
		return !e.Transient
	}
	return false
}

// Router selects the transport for a controller's channel.
type Router struct {
	transports map[schema.Channel]Transport
}

// NewRouter returns a Router over the given transports. A nil
// transport leaves its channel unconfigured.
func NewRouter(transports map[schema.Channel]Transport) *Router {
	router := &Router{transports: make(map[schema.Channel]Transport, len(transports))}
	for name, transport := range transports {
		if transport != nil {
			router.transports[name] = transport
		}
	}
	return router
}

// Select returns the transport for channel.
func (r *Router) Select(channel schema.Channel) (Transport, error) {
	transport, ok := r.transports[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, channel)
	}
	return transport, nil
}

// Noop accepts every submission.
type Noop struct{}

func (Noop) Submit(context.Context, Submission) (Result, error) {
	return Result{Channel: schema.ChannelNoop}, nil
}

// messageSubject and messageBody render the text a controller
// receives. An upstream draft wins; otherwise a plain request naming
// the subject's identifiers is composed.
func messageSubject(submission Submission) string {
	if draft := submission.Request.Draft; draft != nil && draft.Subject != "" {
		return draft.Subject
	}
	return "Request for erasure of personal data"
}

func messageBody(submission Submission) string {
	if draft := submission.Request.Draft; draft != nil && draft.BodyText != "" {
		return draft.BodyText
	}
	controllerName := submission.Controller.Name
	if controllerName == "" {
		controllerName = submission.Request.ControllerName
	}
	if controllerName == "" {
		controllerName = submission.Controller.Key
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "To the data protection team at %s,\n\n", controllerName)
	builder.WriteString("I request the erasure of all personal data you hold about me, " +
		"and confirmation once it has been deleted. The identifiers you may hold are:\n\n")
	subject := submission.Request.Subject
	for _, field := range []struct{ label, value string }{
		{"Name", subject.Name},
		{"Email", subject.Email},
		{"Phone", subject.Phone},
		{"Handle", subject.Handle},
	} {
		if field.value != "" {
			fmt.Fprintf(&builder, "  %s: %s\n", field.label, field.value)
		}
	}
	fmt.Fprintf(&builder, "\nReference: %s\n", submission.JobID)
	return builder.String()
}
