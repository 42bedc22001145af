// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"

	"github.com/bureau-foundation/erasure/lib/schema"
)

// DispatchBatch dispatches requests in chunks of the configured batch
// size, pausing between chunks so a large import does not hammer the
// store or one controller. Responses are returned in request order.
// Per-request failures are reported in their Response; the error is
// non-nil only when ctx ends the batch early, in which case the
// responses gathered so far are returned.
func (d *Dispatcher) DispatchBatch(ctx context.Context, requests []schema.DispatchRequest) ([]schema.DispatchResponse, error) {
	responses := make([]schema.DispatchResponse, 0, len(requests))
	for start := 0; start < len(requests); start += d.batchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return responses, ctx.Err()
			case <-d.clock.After(d.batchPause):
			}
		}
		end := min(start+d.batchSize, len(requests))
		for _, request := range requests[start:end] {
			if err := ctx.Err(); err != nil {
				return responses, err
			}
			response, err := d.Dispatch(ctx, request)
			if err != nil {
				d.logger.Debug("batch dispatch refused",
					"controller_key", request.ControllerKey,
					"kind", KindOf(err),
				)
			}
			responses = append(responses, response)
		}
	}
	return responses, nil
}
