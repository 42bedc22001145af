// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/erasure/lib/schema"
)

// Escalate sends a follow-up for action id under the follow-up label.
// Only actions that were sent, need review, or failed delivery can be
// escalated.
func (d *Dispatcher) Escalate(ctx context.Context, id string) (schema.DispatchResponse, error) {
	action, err := d.actions.Get(ctx, id)
	if err != nil {
		return refuse(KindInvalidRequest, "", "unknown action", fmt.Errorf("escalating %s: %w", id, err))
	}
	switch action.Status {
	case schema.ActionSent, schema.ActionNeedsReview, schema.ActionFailed:
	default:
		return refuse(KindInvalidRequest, action.ControllerKey,
			fmt.Sprintf("action is %s and cannot be escalated", action.Status), nil)
	}

	request := schema.DispatchRequest{
		ControllerKey: action.ControllerKey,
		Subject:       action.Subject,
		ActionLabel:   schema.FollowUpActionLabel,
		ActionID:      action.ID,
	}
	if _, known := d.controllers.Lookup(action.ControllerKey); !known {
		request.FormURL = action.TargetURL
	}
	return d.Dispatch(ctx, request)
}
