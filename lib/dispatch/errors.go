// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/erasure/lib/schema"
)

// ErrEnqueueFailure wraps the cause when a dispatch could not be made
// durable.
var ErrEnqueueFailure = errors.New("dispatch: enqueue failed")

// Kind classifies a refused or failed dispatch.
type Kind string

const (
	KindInvalidRequest        Kind = Kind(schema.ErrorCodeInvalidRequest)
	KindGuardUnavailable      Kind = Kind(schema.ErrorCodeGuardUnavailable)
	KindCircuitOpen           Kind = Kind(schema.ErrorCodeCircuitOpen)
	KindControllerUnknown     Kind = Kind(schema.ErrorCodeControllerUnknown)
	KindControllerUnavailable Kind = Kind(schema.ErrorCodeControllerDisabled)
	KindEnqueueFailure        Kind = Kind(schema.ErrorCodeEnqueueFailed)
)

// Error is returned alongside a not-ok Response. Kind matches the
// response's error code.
type Error struct {
	Kind          Kind
	ControllerKey string
	Err           error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dispatch %s: %s", e.ControllerKey, e.Kind)
	}
	return fmt.Sprintf("dispatch %s: %s: %v", e.ControllerKey, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var dispatchErr *Error
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Kind
	}
	return ""
}
