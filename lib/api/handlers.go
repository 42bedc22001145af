// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bureau-foundation/erasure/lib/deadletter"
	"github.com/bureau-foundation/erasure/lib/ledger"
	"github.com/bureau-foundation/erasure/lib/receipt"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/signing"
	"github.com/bureau-foundation/erasure/lib/store"
)

// maxBatch bounds a batch dispatch request.
const maxBatch = 500

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var request schema.DispatchRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrorCodeInvalidRequest, err)
		return
	}
	response, err := a.config.Dispatcher.Dispatch(r.Context(), request)
	writeJSON(w, dispatchStatus(response, err), response)
}

func (a *API) handleDispatchBatch(w http.ResponseWriter, r *http.Request) {
	var requests []schema.DispatchRequest
	if err := decodeJSON(r, &requests); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrorCodeInvalidRequest, err)
		return
	}
	if len(requests) > maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, schema.ErrorCodeInvalidRequest,
			errors.New("batch holds more than "+strconv.Itoa(maxBatch)+" requests"))
		return
	}
	responses, err := a.config.Dispatcher.DispatchBatch(r.Context(), requests)
	if err != nil {
		// Cancelled part way: report what was dispatched.
		a.logger.Warn("batch dispatch interrupted", "completed", len(responses), "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
}

func (a *API) handleEscalate(w http.ResponseWriter, r *http.Request) {
	response, err := a.config.Dispatcher.Escalate(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, dispatchStatus(response, err), response)
}

func (a *API) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := deadletter.Filter{
		ControllerKey: query.Get("controller"),
		Channel:       schema.Channel(query.Get("channel")),
	}
	if value := query.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		filter.Limit = limit
	}
	entries, err := a.config.DeadLetters.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dlq_unavailable", err)
		return
	}
	if entries == nil {
		entries = []schema.DeadLetterEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) handleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	entry, err := a.config.DeadLetters.Get(r.Context(), chi.URLParam(r, "id"))
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dlq_unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	response, err := a.config.Retrier.Retry(r.Context(), chi.URLParam(r, "id"))
	if isNotFound(err) && !response.OK && response.Error == "" {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	writeJSON(w, dispatchStatus(response, err), response)
}

func (a *API) handlePurgeDeadLetter(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "purged via api"
	}
	err := a.config.DeadLetters.Purge(r.Context(), chi.URLParam(r, "id"), reason)
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dlq_unavailable", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	states, err := a.config.Breakers.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "breaker_unavailable", err)
		return
	}
	if states == nil {
		states = []schema.CircuitState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": states})
}

func (a *API) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	if err := a.config.Breakers.Reset(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeError(w, http.StatusInternalServerError, "breaker_unavailable", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.config.Jobs.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue_unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleLedgerCommit(w http.ResponseWriter, r *http.Request) {
	record, err := a.config.Ledger.Commit(r.Context(), chi.URLParam(r, "subject"))
	switch {
	case errors.Is(err, ledger.ErrNoEvidence):
		writeError(w, http.StatusConflict, "no_evidence", err)
	case errors.Is(err, ledger.ErrNoSigner):
		writeError(w, http.StatusServiceUnavailable, "signer_unavailable", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "commit_failed", err)
	default:
		writeJSON(w, http.StatusCreated, record)
	}
}

func (a *API) handleLedgerGet(w http.ResponseWriter, r *http.Request) {
	record, err := a.config.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger_unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *API) handleLedgerBundle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := a.config.Ledger.ExportBundle(r.Context(), id)
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if errors.Is(err, ledger.ErrNoSigner) {
		writeError(w, http.StatusServiceUnavailable, "signer_unavailable", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger_unavailable", err)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.cbor"`)
	w.Write(data)
}

func (a *API) handleReceiptVerify(w http.ResponseWriter, r *http.Request) {
	result, err := a.config.Receipts.VerifyReceipt(r.Context(), chi.URLParam(r, "job"))
	switch {
	case errors.Is(err, receipt.ErrReceiptMissing):
		writeError(w, http.StatusNotFound, "receipt_missing", err)
	case errors.Is(err, receipt.ErrHashMismatch), err == nil:
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusInternalServerError, "receipt_unavailable", err)
	}
}

// verification is the public verification answer. A proof that fails
// verification is a successful request with Valid false.
type verification struct {
	Valid    bool                      `json:"valid"`
	Error    string                    `json:"error,omitempty"`
	Record   *schema.ProofLedgerRecord `json:"record,omitempty"`
	Manifest *ledger.Manifest          `json:"manifest,omitempty"`
}

// proofRejected reports whether err means the proof itself is bad, as
// opposed to the verifier being unable to check it.
func proofRejected(err error) bool {
	return errors.Is(err, signing.ErrSignatureInvalid) ||
		errors.Is(err, ledger.ErrRootMismatch) ||
		errors.Is(err, ledger.ErrPackDigest)
}

func verificationStatus(err error) (int, string) {
	switch {
	case err == nil, proofRejected(err):
		return http.StatusOK, ""
	case isNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, signing.ErrUnsupportedAlgorithm), errors.Is(err, signing.ErrMissingKeyMaterial):
		return http.StatusUnprocessableEntity, "unverifiable"
	default:
		return http.StatusInternalServerError, "verification_unavailable"
	}
}

func (a *API) handlePublicVerify(w http.ResponseWriter, r *http.Request) {
	record, err := a.config.Ledger.VerifyID(r.Context(), chi.URLParam(r, "id"))
	if status, code := verificationStatus(err); code != "" {
		writeError(w, status, code, err)
		return
	}
	answer := verification{Valid: err == nil, Record: &record}
	if err != nil {
		answer.Error = err.Error()
		a.logger.Warn("ledger record failed verification", "ledger_id", record.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, answer)
}

func (a *API) handlePublicVerifyBundle(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_bundle", err)
		return
	}
	manifest, err := a.config.Ledger.VerifyBundle(r.Context(), data)
	if err != nil && manifest.RecordID == "" && !proofRejected(err) {
		writeError(w, http.StatusBadRequest, "invalid_bundle", err)
		return
	}
	if status, code := verificationStatus(err); code != "" {
		writeError(w, status, code, err)
		return
	}
	answer := verification{Valid: err == nil, Manifest: &manifest}
	if err != nil {
		answer.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, answer)
}

// discoveryRequest is one discovery feed item.
type discoveryRequest struct {
	SubjectRef    string  `json:"subject_ref"`
	ControllerKey string  `json:"controller_key"`
	URL           string  `json:"url"`
	Confidence    float64 `json:"confidence"`
}

func (a *API) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var request discoveryRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrorCodeInvalidRequest, err)
		return
	}
	if request.SubjectRef == "" || request.ControllerKey == "" {
		writeError(w, http.StatusBadRequest, schema.ErrorCodeInvalidRequest,
			errors.New("subject_ref and controller_key are required"))
		return
	}
	parsed, err := url.Parse(request.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, schema.ErrorCodeInvalidRequest,
			fmt.Errorf("url must be an absolute http(s) URL, got %q", request.URL))
		return
	}
	if request.Confidence < 0 || request.Confidence > 1 {
		writeError(w, http.StatusBadRequest, schema.ErrorCodeInvalidRequest,
			errors.New("confidence must be between 0 and 1"))
		return
	}

	item := schema.DiscoveredItem{
		ID:            store.NewID("dsc"),
		SubjectRef:    request.SubjectRef,
		ControllerKey: request.ControllerKey,
		URL:           request.URL,
		Confidence:    request.Confidence,
		CreatedAt:     a.config.Clock.Now(),
	}
	if err := a.config.Discovery.Insert(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "discovery_unavailable", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}
