// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/digest"
	"github.com/bureau-foundation/erasure/lib/signing"
)

var (
	// ErrPackDigest is returned when a bundle's pack does not hash to
	// the digest its manifest declares.
	ErrPackDigest = errors.New("ledger: bundle pack digest mismatch")

	// ErrManifestSignature is returned when a bundle's manifest does
	// not verify under its manifest signature. It also wraps
	// signing.ErrSignatureInvalid.
	ErrManifestSignature = errors.New("ledger: bundle manifest signature invalid")
)

// Manifest describes the record a bundle proves.
type Manifest struct {
	RecordID      string    `cbor:"record_id" json:"record_id"`
	SubjectRef    string    `cbor:"subject_ref" json:"subject_ref"`
	MerkleRoot    string    `cbor:"merkle_root_hex" json:"merkle_root_hex"`
	Algorithm     string    `cbor:"algorithm" json:"algorithm"`
	KeyID         string    `cbor:"key_id" json:"key_id"`
	EvidenceCount int       `cbor:"evidence_count" json:"evidence_count"`
	CreatedAt     time.Time `cbor:"created_at" json:"created_at"`

	// PackDigest is the SHA-256 hex of Pack.
	PackDigest string `cbor:"pack_digest" json:"pack_digest"`
}

// Bundle is the self-contained export of a ledger record. Pack is the
// CBOR array of the record's evidence digests in canonical order.
type Bundle struct {
	// Manifest is the CBOR-encoded Manifest, kept as the exact bytes
	// ManifestSignature was made over.
	Manifest codec.RawMessage `cbor:"manifest"`

	// ManifestSignature is the exporting key's signature over
	// Manifest. It binds the record ID, subject and timestamp, which
	// the record's own signature over the root does not cover.
	ManifestSignature []byte `cbor:"manifest_signature"`
	ManifestAlgorithm string `cbor:"manifest_algorithm"`
	ManifestKeyID     string `cbor:"manifest_key_id"`

	// Signature is the record's signature over the raw root bytes.
	Signature []byte `cbor:"signature"`
	Pack      []byte `cbor:"pack"`
}

// ExportBundle encodes the record with id as a CBOR Bundle and signs
// its manifest. A verify-only Ledger returns ErrNoSigner.
func (l *Ledger) ExportBundle(ctx context.Context, id string) ([]byte, error) {
	if l.signer == nil {
		return nil, ErrNoSigner
	}
	record, err := l.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pack, err := codec.Marshal(record.EvidenceHashes)
	if err != nil {
		return nil, fmt.Errorf("ledger: encoding pack for %s: %w", id, err)
	}
	manifest, err := codec.Marshal(Manifest{
		RecordID:      record.ID,
		SubjectRef:    record.SubjectRef,
		MerkleRoot:    record.MerkleRoot,
		Algorithm:     record.Algorithm,
		KeyID:         record.KeyID,
		EvidenceCount: record.EvidenceCount,
		CreatedAt:     record.CreatedAt,
		PackDigest:    digest.Content(pack),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: encoding manifest for %s: %w", id, err)
	}
	manifestSignature, err := l.signer.Sign(ctx, manifest)
	if err != nil {
		return nil, fmt.Errorf("ledger: signing manifest for %s: %w", id, err)
	}
	data, err := codec.Marshal(Bundle{
		Manifest:          manifest,
		ManifestSignature: manifestSignature,
		ManifestAlgorithm: string(l.signer.Algorithm()),
		ManifestKeyID:     l.signer.KeyID(),
		Signature:         record.Signature,
		Pack:              pack,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: encoding bundle for %s: %w", id, err)
	}
	return data, nil
}

// VerifyBundle verifies a bundle with the ledger's keys.
func (l *Ledger) VerifyBundle(ctx context.Context, data []byte) (Manifest, error) {
	return VerifyBundle(ctx, l.keys, data)
}

// VerifyBundle checks a bundle without access to any store: the pack
// must hash to the manifest's PackDigest, the root recomputed from the
// pack must equal the manifest root, the signature over that root must
// verify under the manifest's key, and the manifest signature must
// verify over the manifest bytes. The decoded manifest is returned
// even when a check fails.
func VerifyBundle(ctx context.Context, keys Keys, data []byte) (Manifest, error) {
	var bundle Bundle
	if err := codec.Unmarshal(data, &bundle); err != nil {
		return Manifest{}, fmt.Errorf("ledger: decoding bundle: %w", err)
	}
	var manifest Manifest
	if err := codec.Unmarshal(bundle.Manifest, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("ledger: decoding bundle manifest: %w", err)
	}
	if got := digest.Content(bundle.Pack); got != manifest.PackDigest {
		return manifest, fmt.Errorf("%w: pack hashes to %s, manifest declares %s", ErrPackDigest, got, manifest.PackDigest)
	}
	var hashes []string
	if err := codec.Unmarshal(bundle.Pack, &hashes); err != nil {
		return manifest, fmt.Errorf("ledger: decoding bundle pack: %w", err)
	}
	if err := checkRoot(manifest.MerkleRoot, hashes, manifest.EvidenceCount); err != nil {
		return manifest, err
	}
	if err := verifySignature(ctx, keys, manifest.Algorithm, manifest.KeyID, manifest.MerkleRoot, bundle.Signature); err != nil {
		return manifest, err
	}
	algorithm, err := signing.ParseAlgorithm(bundle.ManifestAlgorithm)
	if err != nil {
		return manifest, err
	}
	if err := keys.Verify(ctx, algorithm, bundle.ManifestKeyID, bundle.Manifest, bundle.ManifestSignature); err != nil {
		if errors.Is(err, signing.ErrSignatureInvalid) {
			return manifest, fmt.Errorf("%w: %w", ErrManifestSignature, err)
		}
		return manifest, fmt.Errorf("ledger: manifest key %s: %w", bundle.ManifestKeyID, err)
	}
	return manifest, nil
}
