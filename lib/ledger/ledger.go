// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/digest"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/signing"
	"github.com/bureau-foundation/erasure/lib/store"
)

var (
	// ErrNoEvidence is returned by Commit when the subject has no
	// uncommitted evidence digests.
	ErrNoEvidence = errors.New("ledger: no new evidence to commit")

	// ErrRootMismatch is returned when a root recomputed from evidence
	// differs from the recorded root.
	ErrRootMismatch = errors.New("ledger: merkle root does not match evidence")

	// ErrNoSigner is returned by Commit on a verify-only Ledger.
	ErrNoSigner = errors.New("ledger: no signer configured")
)

// Verifications reads the rows a commit consumes.
type Verifications interface {
	Uncommitted(ctx context.Context, subjectRef string) ([]schema.Verification, error)
	ListByLedger(ctx context.Context, ledgerID string) ([]schema.Verification, error)
}

// Records persists ledger records. *store.LedgerStore implements it.
type Records interface {
	Commit(ctx context.Context, record schema.ProofLedgerRecord, verificationIDs []string) error
	Get(ctx context.Context, id string) (schema.ProofLedgerRecord, error)
	ListBySubject(ctx context.Context, subjectRef string) ([]schema.ProofLedgerRecord, error)
}

// Keys resolves a key id and checks a signature with it.
// *signing.Keyring implements it.
type Keys interface {
	Verify(ctx context.Context, algorithm signing.Algorithm, keyID string, message, signature []byte) error
}

// Config holds a Ledger's collaborators.
type Config struct {
	Verifications Verifications
	Records       Records
	Keys          Keys

	// Signer signs new roots. A Ledger without one can only verify.
	Signer signing.Signer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Ledger commits and verifies proof records.
type Ledger struct {
	verifications Verifications
	records       Records
	keys          Keys
	signer        signing.Signer
	clock         clock.Clock
	logger        *slog.Logger
}

// New validates cfg and returns a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Verifications == nil || cfg.Records == nil {
		return nil, errors.New("ledger: Verifications and Records are required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("ledger: Keys is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("ledger: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("ledger: Logger is required")
	}
	return &Ledger{
		verifications: cfg.Verifications,
		records:       cfg.Records,
		keys:          cfg.Keys,
		signer:        cfg.Signer,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
	}, nil
}

// evidenceHashes returns every non-empty HTML and screenshot digest in
// rows, in row order. Duplicates are left for digest.CanonicalSet.
func evidenceHashes(rows []schema.Verification) []string {
	hashes := make([]string, 0, 2*len(rows))
	for _, row := range rows {
		if row.Evidence.HTMLHash != "" {
			hashes = append(hashes, row.Evidence.HTMLHash)
		}
		if row.Evidence.ScreenshotHash != "" {
			hashes = append(hashes, row.Evidence.ScreenshotHash)
		}
	}
	return hashes
}

// Commit signs the root over the subject's evidence captured since its
// previous commit. Rows without digests are consumed with the rest so
// they are not reconsidered.
func (l *Ledger) Commit(ctx context.Context, subjectRef string) (schema.ProofLedgerRecord, error) {
	if l.signer == nil {
		return schema.ProofLedgerRecord{}, ErrNoSigner
	}
	rows, err := l.verifications.Uncommitted(ctx, subjectRef)
	if err != nil {
		return schema.ProofLedgerRecord{}, fmt.Errorf("ledger: reading evidence for %s: %w", subjectRef, err)
	}
	set, err := digest.CanonicalSet(evidenceHashes(rows))
	if err != nil {
		return schema.ProofLedgerRecord{}, fmt.Errorf("ledger: evidence for %s: %w", subjectRef, err)
	}
	if len(set) == 0 {
		return schema.ProofLedgerRecord{}, fmt.Errorf("%w for %s", ErrNoEvidence, subjectRef)
	}
	root, err := digest.LedgerRoot(set)
	if err != nil {
		return schema.ProofLedgerRecord{}, err
	}

	signature, err := l.signer.Sign(ctx, root[:])
	if err != nil {
		return schema.ProofLedgerRecord{}, fmt.Errorf("ledger: signing root for %s: %w", subjectRef, err)
	}

	record := schema.ProofLedgerRecord{
		ID:             store.NewID("led"),
		SubjectRef:     subjectRef,
		MerkleRoot:     digest.FormatHash(root),
		Algorithm:      string(l.signer.Algorithm()),
		KeyID:          l.signer.KeyID(),
		Signature:      signature,
		EvidenceCount:  len(set),
		EvidenceHashes: set,
		CreatedAt:      l.clock.Now(),
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	if err := l.records.Commit(ctx, record, ids); err != nil {
		return schema.ProofLedgerRecord{}, err
	}

	l.logger.Info("ledger record committed",
		"ledger_id", record.ID,
		"subject_ref", subjectRef,
		"merkle_root", record.MerkleRoot,
		"evidence_count", record.EvidenceCount,
		"verification_count", len(rows),
		"key_id", record.KeyID,
	)
	return record, nil
}

// Get returns a stored record.
func (l *Ledger) Get(ctx context.Context, id string) (schema.ProofLedgerRecord, error) {
	return l.records.Get(ctx, id)
}

// List returns a subject's records oldest first.
func (l *Ledger) List(ctx context.Context, subjectRef string) ([]schema.ProofLedgerRecord, error) {
	return l.records.ListBySubject(ctx, subjectRef)
}

// Verify checks the record's signature over its root bytes with the
// public key its KeyID names.
func (l *Ledger) Verify(ctx context.Context, record schema.ProofLedgerRecord) error {
	return verifySignature(ctx, l.keys, record.Algorithm, record.KeyID, record.MerkleRoot, record.Signature)
}

// VerifyFull verifies the signature, then recomputes the root from the
// record's digest list and from the verification rows it committed.
// Either disagreeing with the recorded root fails with ErrRootMismatch.
func (l *Ledger) VerifyFull(ctx context.Context, record schema.ProofLedgerRecord) error {
	if err := l.Verify(ctx, record); err != nil {
		return err
	}
	if err := checkRoot(record.MerkleRoot, record.EvidenceHashes, record.EvidenceCount); err != nil {
		return fmt.Errorf("ledger record %s digest list: %w", record.ID, err)
	}
	rows, err := l.verifications.ListByLedger(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("ledger: reading evidence for %s: %w", record.ID, err)
	}
	if err := checkRoot(record.MerkleRoot, evidenceHashes(rows), record.EvidenceCount); err != nil {
		return fmt.Errorf("ledger record %s verification rows: %w", record.ID, err)
	}
	return nil
}

// VerifyID looks up a record and verifies it in full.
func (l *Ledger) VerifyID(ctx context.Context, id string) (schema.ProofLedgerRecord, error) {
	record, err := l.records.Get(ctx, id)
	if err != nil {
		return record, err
	}
	return record, l.VerifyFull(ctx, record)
}

func verifySignature(ctx context.Context, keys Keys, algorithmName, keyID, rootHex string, signature []byte) error {
	algorithm, err := signing.ParseAlgorithm(algorithmName)
	if err != nil {
		return err
	}
	root, err := digest.ParseHash(rootHex)
	if err != nil {
		return fmt.Errorf("ledger: merkle root: %w", err)
	}
	return keys.Verify(ctx, algorithm, keyID, root[:], signature)
}

// checkRoot recomputes the root over hashes and compares it with the
// recorded hex root and count.
func checkRoot(rootHex string, hashes []string, count int) error {
	set, err := digest.CanonicalSet(hashes)
	if err != nil {
		return err
	}
	if len(set) != count {
		return fmt.Errorf("%w: %d distinct digests, record counts %d", ErrRootMismatch, len(set), count)
	}
	recomputed, err := digest.LedgerRoot(set)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRootMismatch, err)
	}
	recorded, err := digest.ParseHash(rootHex)
	if err != nil {
		return fmt.Errorf("ledger: merkle root: %w", err)
	}
	if recomputed != recorded {
		return fmt.Errorf("%w: recomputed %s, recorded %s", ErrRootMismatch, digest.FormatHash(recomputed), rootHex)
	}
	return nil
}
