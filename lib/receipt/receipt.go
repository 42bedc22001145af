// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/erasure/lib/blobstore"
	"github.com/bureau-foundation/erasure/lib/digest"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/store"
)

var (
	// ErrReceiptMissing is returned when no receipt was recorded for
	// the job.
	ErrReceiptMissing = errors.New("receipt: no receipt recorded for job")

	// ErrHashMismatch accompanies a Result whose OK is false.
	ErrHashMismatch = errors.New("receipt: evidence does not match receipt")
)

// Receipts reads recorded receipts. *store.ReceiptStore implements it.
type Receipts interface {
	Get(ctx context.Context, jobID string) (schema.Receipt, error)
}

// Blobs reads evidence bytes. *blobstore.Store implements it.
type Blobs interface {
	Get(path string) ([]byte, error)
}

// Digests is a pair of content digests.
type Digests struct {
	HTML       string `json:"html"`
	Screenshot string `json:"screenshot,omitempty"`
}

// Result compares a receipt with the evidence as it is stored now.
// Recomputed fields are empty for an artifact that could not be read;
// Problems says why.
type Result struct {
	JobID        string   `json:"job_id"`
	OK           bool     `json:"ok"`
	HTMLOK       bool     `json:"html_ok"`
	ScreenshotOK bool     `json:"screenshot_ok"`
	Stored       Digests  `json:"stored"`
	Recomputed   Digests  `json:"recomputed"`
	Problems     []string `json:"problems,omitempty"`
}

// Verifier recomputes receipt digests.
type Verifier struct {
	receipts Receipts
	blobs    Blobs
	logger   *slog.Logger
}

// NewVerifier returns a Verifier. All arguments are required.
func NewVerifier(receipts Receipts, blobs Blobs, logger *slog.Logger) (*Verifier, error) {
	if receipts == nil || blobs == nil {
		return nil, errors.New("receipt: receipts and blobs are required")
	}
	if logger == nil {
		return nil, errors.New("receipt: logger is required")
	}
	return &Verifier{receipts: receipts, blobs: blobs, logger: logger}, nil
}

// VerifyReceipt reads the job's evidence back and compares its
// digests with the receipt. A mismatch returns the filled Result
// together with ErrHashMismatch. Failures to reach the stores are
// returned as plain errors.
func (v *Verifier) VerifyReceipt(ctx context.Context, jobID string) (Result, error) {
	result := Result{JobID: jobID}
	recorded, err := v.receipts.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return result, fmt.Errorf("%w: %s", ErrReceiptMissing, jobID)
	}
	if err != nil {
		return result, err
	}
	result.Stored = Digests{HTML: recorded.HTMLHash, Screenshot: recorded.ScreenshotHash}

	result.Recomputed.HTML, result.HTMLOK, err = v.check(&result, "html", recorded.HTMLPath, recorded.HTMLHash)
	if err != nil {
		return result, err
	}
	if recorded.ScreenshotPath == "" && recorded.ScreenshotHash == "" {
		result.ScreenshotOK = true
	} else {
		result.Recomputed.Screenshot, result.ScreenshotOK, err = v.check(&result, "screenshot", recorded.ScreenshotPath, recorded.ScreenshotHash)
		if err != nil {
			return result, err
		}
	}
	result.OK = result.HTMLOK && result.ScreenshotOK

	if !result.OK {
		v.logger.Warn("receipt mismatch",
			"job_id", jobID,
			"stored_html", result.Stored.HTML,
			"recomputed_html", result.Recomputed.HTML,
			"stored_screenshot", result.Stored.Screenshot,
			"recomputed_screenshot", result.Recomputed.Screenshot,
			"problems", result.Problems,
		)
		return result, fmt.Errorf("%w: job %s", ErrHashMismatch, jobID)
	}
	return result, nil
}

// check recomputes one artifact's digest. A missing or corrupt blob
// is a mismatch, not an error.
func (v *Verifier) check(result *Result, name, path, stored string) (string, bool, error) {
	if path == "" {
		result.Problems = append(result.Problems, name+": no artifact recorded")
		return "", false, nil
	}
	data, err := v.blobs.Get(path)
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		result.Problems = append(result.Problems, name+": artifact missing")
		return "", false, nil
	case errors.Is(err, blobstore.ErrCorrupt):
		result.Problems = append(result.Problems, name+": "+err.Error())
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("receipt: reading %s artifact: %w", name, err)
	}
	recomputed := digest.Content(data)
	if recomputed != stored {
		result.Problems = append(result.Problems, name+": digest changed")
		return recomputed, false, nil
	}
	return recomputed, true, nil
}
