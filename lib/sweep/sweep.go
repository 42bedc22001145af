// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/erasure/lib/blobstore"
	"github.com/bureau-foundation/erasure/lib/capture"
	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/digest"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/store"
)

// Confidence values recorded with each verdict.
const (
	confidenceDataFound    = 0.9
	confidenceGone         = 0.95
	confidenceNotFound     = 0.85
	confidenceUnexpected   = 0.3
	confidenceFetchFailure = 0.2
)

// Actions is the part of the action store the sweep uses.
type Actions interface {
	Due(ctx context.Context, now time.Time, limit int) ([]schema.Action, error)
	Transition(ctx context.Context, id string, update store.ActionUpdate, from ...schema.ActionStatus) (bool, error)
}

// Verifications appends verification rows.
type Verifications interface {
	Insert(ctx context.Context, verification schema.Verification) error
}

// Receipts records the evidence digests for a job.
type Receipts interface {
	Put(ctx context.Context, receipt schema.Receipt) error
}

// Discovery supplies listing URLs found for a subject.
type Discovery interface {
	Best(ctx context.Context, subjectRef, controllerKey string) (schema.DiscoveredItem, bool, error)
}

// Blobs stores evidence bytes. *blobstore.Store implements it.
type Blobs interface {
	Put(kind, contentType string, data []byte) (string, error)
}

// Config holds the collaborators and parameters of a Sweeper.
type Config struct {
	Actions       Actions
	Verifications Verifications
	Receipts      Receipts
	Discovery     Discovery
	Blobs         Blobs
	Capturer      capture.Capturer
	Clock         clock.Clock

	// FanOut bounds concurrent captures. Defaults to 5.
	FanOut int

	// Pause separates chunks of FanOut captures.
	Pause time.Duration

	// RetryInterval reschedules inconclusive checks. Required.
	RetryInterval time.Duration

	// RecheckInterval is recorded as the next check time after a
	// conclusive verdict.
	RecheckInterval time.Duration

	Logger *slog.Logger
}

// Sweeper runs verification sweeps.
type Sweeper struct {
	config Config
	logger *slog.Logger
}

// New validates cfg and returns a Sweeper.
func New(cfg Config) (*Sweeper, error) {
	if cfg.Actions == nil || cfg.Verifications == nil || cfg.Receipts == nil || cfg.Blobs == nil || cfg.Capturer == nil {
		return nil, errors.New("sweep: Actions, Verifications, Receipts, Blobs and Capturer are required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("sweep: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("sweep: Logger is required")
	}
	if cfg.RetryInterval <= 0 {
		return nil, errors.New("sweep: RetryInterval must be positive")
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 5
	}
	return &Sweeper{config: cfg, logger: cfg.Logger}, nil
}

// Result counts the outcome of one sweep.
type Result struct {
	Checked      int `json:"checked"`
	Verified     int `json:"verified"`
	NeedsReview  int `json:"needs_review"`
	Inconclusive int `json:"inconclusive"`

	// Failed counts actions whose check could not be recorded.
	Failed int `json:"failed"`
}

func (r *Result) add(outcome verdict) {
	r.Checked++
	switch outcome {
	case verdictVerified:
		r.Verified++
	case verdictNeedsReview:
		r.NeedsReview++
	case verdictInconclusive:
		r.Inconclusive++
	case verdictFailed:
		r.Failed++
	}
}

type verdict int

const (
	verdictFailed verdict = iota
	verdictVerified
	verdictNeedsReview
	verdictInconclusive
)

// Sweep checks up to batchLimit due actions.
func (s *Sweeper) Sweep(ctx context.Context, batchLimit int) (Result, error) {
	var result Result
	if batchLimit <= 0 {
		batchLimit = 50
	}
	due, err := s.config.Actions.Due(ctx, s.config.Clock.Now(), batchLimit)
	if err != nil {
		return result, fmt.Errorf("sweep: listing due actions: %w", err)
	}

	var mutex sync.Mutex
	for start := 0; start < len(due); start += s.config.FanOut {
		if start > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-s.config.Clock.After(s.config.Pause):
			}
		}
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.config.FanOut)
		for _, action := range due[start:min(start+s.config.FanOut, len(due))] {
			group.Go(func() error {
				outcome, err := s.check(groupCtx, action)
				if err != nil {
					s.logger.Error("verification check failed",
						"action_id", action.ID,
						"controller_key", action.ControllerKey,
						"error", err,
					)
					outcome = verdictFailed
				}
				mutex.Lock()
				result.add(outcome)
				mutex.Unlock()
				return nil
			})
		}
		group.Wait()
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	if result.Checked > 0 {
		s.logger.Info("verification sweep finished",
			"checked", result.Checked,
			"verified", result.Verified,
			"needs_review", result.NeedsReview,
			"inconclusive", result.Inconclusive,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, batchLimit int) error {
	ticker := s.config.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := s.Sweep(ctx, batchLimit); err != nil && ctx.Err() == nil {
			s.logger.Error("verification sweep failed", "error", err)
		}
	}
}

// check verifies one action and records the outcome.
func (s *Sweeper) check(ctx context.Context, action schema.Action) (verdict, error) {
	url, err := s.evidenceURL(ctx, action)
	if err != nil {
		return verdictFailed, err
	}
	if url == "" {
		return s.recordInconclusive(ctx, action, schema.Evidence{}, confidenceFetchFailure, "no evidence URL")
	}

	artifact, err := s.config.Capturer.Capture(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return verdictFailed, ctx.Err()
		}
		return s.recordInconclusive(ctx, action, schema.Evidence{URL: url}, confidenceFetchFailure, err.Error())
	}

	evidence, err := s.storeEvidence(action, artifact)
	if err != nil {
		return verdictFailed, err
	}

	matched := matchSubject(artifact.HTML, action.Subject)
	status := artifact.StatusCode
	var (
		newStatus  schema.ActionStatus
		confidence float64
		info       string
	)
	switch {
	case len(matched) > 0:
		newStatus, confidence = schema.ActionNeedsReview, confidenceDataFound
		info = "subject data still listed (matched " + strings.Join(matched, ", ") + ")"
	case status == http.StatusNotFound || status == http.StatusGone:
		newStatus, confidence = schema.ActionVerified, confidenceGone
		info = fmt.Sprintf("listing removed (HTTP %d)", status)
	case status >= 200 && status < 300:
		newStatus, confidence = schema.ActionVerified, confidenceNotFound
		info = "subject data not found on page"
	default:
		return s.recordInconclusive(ctx, action, evidence, confidenceUnexpected, fmt.Sprintf("unexpected HTTP %d", status))
	}

	now := s.config.Clock.Now()
	verification := schema.Verification{
		ID:                 store.NewID("ver"),
		ActionID:           action.ID,
		SubjectRef:         action.SubjectRef,
		ControllerRef:      action.ControllerKey,
		DataFound:          len(matched) > 0,
		Confidence:         confidence,
		Evidence:           evidence,
		CreatedAt:          now,
		NextVerificationAt: now.Add(s.config.RecheckInterval),
	}
	if err := s.config.Verifications.Insert(ctx, verification); err != nil {
		return verdictFailed, err
	}
	if err := s.putReceipt(ctx, action, evidence, now); err != nil {
		return verdictFailed, err
	}
	moved, err := s.config.Actions.Transition(ctx, action.ID, store.ActionUpdate{
		Status:             newStatus,
		VerificationInfo:   info,
		NextVerificationAt: verification.NextVerificationAt,
		UpdatedAt:          now,
	}, action.Status)
	if err != nil {
		return verdictFailed, err
	}
	if !moved {
		s.logger.Warn("action changed status during verification", "action_id", action.ID)
	}
	s.logger.Info("verification recorded",
		"action_id", action.ID,
		"controller_key", action.ControllerKey,
		"status", newStatus,
		"confidence", confidence,
		"http_status", status,
	)
	if newStatus == schema.ActionNeedsReview {
		return verdictNeedsReview, nil
	}
	return verdictVerified, nil
}

// recordInconclusive appends a low-confidence row and reschedules the
// action without changing its status.
func (s *Sweeper) recordInconclusive(ctx context.Context, action schema.Action, evidence schema.Evidence, confidence float64, reason string) (verdict, error) {
	now := s.config.Clock.Now()
	next := now.Add(s.config.RetryInterval)
	verification := schema.Verification{
		ID:                 store.NewID("ver"),
		ActionID:           action.ID,
		SubjectRef:         action.SubjectRef,
		ControllerRef:      action.ControllerKey,
		Confidence:         confidence,
		Evidence:           evidence,
		Inconclusive:       true,
		Error:              reason,
		CreatedAt:          now,
		NextVerificationAt: next,
	}
	if err := s.config.Verifications.Insert(ctx, verification); err != nil {
		return verdictFailed, err
	}
	if evidence.HTMLPath != "" {
		if err := s.putReceipt(ctx, action, evidence, now); err != nil {
			return verdictFailed, err
		}
	}
	if _, err := s.config.Actions.Transition(ctx, action.ID, store.ActionUpdate{
		VerificationInfo:   "inconclusive: " + reason,
		NextVerificationAt: next,
		UpdatedAt:          now,
	}, action.Status); err != nil {
		return verdictFailed, err
	}
	s.logger.Info("verification inconclusive",
		"action_id", action.ID,
		"controller_key", action.ControllerKey,
		"reason", reason,
		"next_verification_at", next,
	)
	return verdictInconclusive, nil
}

// evidenceURL prefers the best discovered listing over the action's
// target URL.
func (s *Sweeper) evidenceURL(ctx context.Context, action schema.Action) (string, error) {
	if s.config.Discovery != nil {
		item, found, err := s.config.Discovery.Best(ctx, action.SubjectRef, action.ControllerKey)
		if err != nil {
			return "", fmt.Errorf("reading discovery feed: %w", err)
		}
		if found && item.URL != "" {
			return item.URL, nil
		}
	}
	return action.TargetURL, nil
}

// storeEvidence writes the artifact bytes to the blob store and
// returns their paths and content digests.
func (s *Sweeper) storeEvidence(action schema.Action, artifact capture.Artifact) (schema.Evidence, error) {
	evidence := schema.Evidence{URL: artifact.URL, HTTPStatus: artifact.StatusCode}
	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "text/html"
	}
	path, err := s.config.Blobs.Put(blobstore.KindHTML, contentType, artifact.HTML)
	if err != nil {
		return evidence, fmt.Errorf("storing HTML evidence for %s: %w", action.ID, err)
	}
	evidence.HTMLPath = path
	evidence.HTMLHash = digest.Content(artifact.HTML)

	if len(artifact.Screenshot) > 0 {
		path, err := s.config.Blobs.Put(blobstore.KindScreenshot, "image/png", artifact.Screenshot)
		if err != nil {
			return evidence, fmt.Errorf("storing screenshot evidence for %s: %w", action.ID, err)
		}
		evidence.ScreenshotPath = path
		evidence.ScreenshotHash = digest.Content(artifact.Screenshot)
	}
	return evidence, nil
}

func (s *Sweeper) putReceipt(ctx context.Context, action schema.Action, evidence schema.Evidence, now time.Time) error {
	if action.JobID == "" {
		return nil
	}
	return s.config.Receipts.Put(ctx, schema.Receipt{
		JobID:          action.JobID,
		ActionID:       action.ID,
		HTMLPath:       evidence.HTMLPath,
		ScreenshotPath: evidence.ScreenshotPath,
		HTMLHash:       evidence.HTMLHash,
		ScreenshotHash: evidence.ScreenshotHash,
		CreatedAt:      now,
	})
}
