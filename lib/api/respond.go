// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/erasure/lib/deadletter"
	"github.com/bureau-foundation/erasure/lib/dispatch"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/store"
)

// errorBody is the JSON shape of every non-dispatch error.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	body := errorBody{Error: code}
	if err != nil {
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, deadletter.ErrNotFound)
}

// dispatchStatus maps a dispatch outcome to an HTTP status. The
// response body always carries the full DispatchResponse.
func dispatchStatus(response schema.DispatchResponse, err error) int {
	if response.OK {
		if response.Idempotent == schema.IdempotencyDeduped {
			return http.StatusOK
		}
		return http.StatusAccepted
	}
	switch dispatch.KindOf(err) {
	case dispatch.KindInvalidRequest:
		if isNotFound(err) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case dispatch.KindControllerUnknown:
		return http.StatusNotFound
	case dispatch.KindControllerUnavailable:
		return http.StatusConflict
	case dispatch.KindCircuitOpen, dispatch.KindGuardUnavailable, dispatch.KindEnqueueFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
