// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/idempotency"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/store"
)

// HandleTerminal is the job queue's terminal hook. It dead-letters the
// job's payload, fails its Action and releases the request's
// idempotency reservation. cause is nil for jobs failed by the lease
// reaper.
func (d *Dispatcher) HandleTerminal(ctx context.Context, job schema.Job, cause error) {
	logger := d.logger.With("job_id", job.ID, "controller_key", job.ControllerKey)

	note := job.Error
	if cause != nil {
		note = cause.Error()
	}
	entryID, err := d.deadLetters.Push(ctx, schema.DeadLetterEntry{
		Channel:       schema.Channel(job.Metadata["channel"]),
		ControllerKey: job.ControllerKey,
		SubjectRef:    job.SubjectRef,
		ActionID:      job.ActionID,
		Payload:       job.Payload,
		ErrorCode:     schema.ErrorCodeDeliveryExhausted,
		ErrorNote:     fmt.Sprintf("after %d attempts: %s", job.Attempts, note),
	})
	if err != nil {
		logger.Error("dead-lettering exhausted job", "error", err)
	}

	if job.ActionID != "" {
		if _, err := d.actions.Transition(ctx, job.ActionID, store.ActionUpdate{
			Status:           schema.ActionFailed,
			VerificationInfo: "delivery failed: " + note,
			UpdatedAt:        d.clock.Now(),
		}, schema.ActionSent, schema.ActionEscalatePending); err != nil {
			logger.Error("failing action", "action_id", job.ActionID, "error", err)
		}
	}

	var request schema.DispatchRequest
	if err := codec.Unmarshal(job.Payload, &request); err != nil {
		logger.Error("decoding payload of exhausted job; reservation left to expire", "error", err)
	} else {
		d.release(ctx, idempotency.Key(request.ControllerKey, request.Subject, request.Label()), logger)
	}

	logger.Warn("dispatch exhausted its attempts", "dead_letter_id", entryID, "attempts", job.Attempts, "error", note)
}
