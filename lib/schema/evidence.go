// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// Evidence describes the artifacts captured for one verification. The
// paths are blob store references.
type Evidence struct {
	URL            string `json:"url"`
	HTTPStatus     int    `json:"http_status"`
	HTMLHash       string `json:"html_hash,omitempty"`
	ScreenshotHash string `json:"screenshot_hash,omitempty"`
	HTMLPath       string `json:"html_path,omitempty"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

// Verification is one append-only re-check of an Action.
type Verification struct {
	ID                 string    `json:"id"`
	ActionID           string    `json:"action_id"`
	SubjectRef         string    `json:"subject_ref"`
	ControllerRef      string    `json:"controller_ref"`
	DataFound          bool      `json:"data_found"`
	Confidence         float64   `json:"confidence"`
	Evidence           Evidence  `json:"evidence_artifacts"`
	Inconclusive       bool      `json:"inconclusive"`
	Error              string    `json:"error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	NextVerificationAt time.Time `json:"next_verification_at,omitzero"`
}

// ProofLedgerRecord is a signed Merkle root over a subject's evidence
// digests. Records are immutable.
type ProofLedgerRecord struct {
	ID             string    `json:"id"`
	SubjectRef     string    `json:"subject_ref"`
	MerkleRoot     string    `json:"merkle_root_hex"`
	Algorithm      string    `json:"algorithm"`
	KeyID          string    `json:"key_id"`
	Signature      []byte    `json:"signature_b64"`
	EvidenceCount  int       `json:"evidence_count"`
	EvidenceHashes []string  `json:"evidence_hashes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Receipt is the digest pair recorded when a Job's evidence was
// captured.
type Receipt struct {
	JobID          string    `json:"job_id"`
	ActionID       string    `json:"action_id"`
	HTMLPath       string    `json:"html_path"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	HTMLHash       string    `json:"html_hash"`
	ScreenshotHash string    `json:"screenshot_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
