// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Algorithm names a signature scheme as recorded in ledger records.
type Algorithm string

const (
	// Ed25519 signs the raw message bytes (pure Ed25519, RFC 8032).
	Ed25519 Algorithm = "ed25519"

	// RSAPSSSHA256 is RSASSA-PSS over SHA-256 with a 32-byte salt.
	RSAPSSSHA256 Algorithm = "rsa-pss-sha256"
)

var (
	ErrSignatureInvalid     = errors.New("signing: signature invalid")
	ErrUnsupportedAlgorithm = errors.New("signing: unsupported algorithm")
	ErrMissingKeyMaterial   = errors.New("signing: missing key material")
)

// ParseAlgorithm validates an algorithm name from config or a record.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case Ed25519, RSAPSSSHA256:
		return Algorithm(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// Signer produces signatures with one key.
type Signer interface {
	KeyID() string
	Algorithm() Algorithm
	Sign(ctx context.Context, message []byte) ([]byte, error)
	PublicKey(ctx context.Context) (crypto.PublicKey, error)
}

// pssOptions is shared by signing and verification so the two can
// never disagree on salt length.
var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthEqualsHash,
	Hash:       crypto.SHA256,
}

// Verify checks signature over message with public. It returns nil
// only when the signature is valid for this exact message and key.
func Verify(algorithm Algorithm, public crypto.PublicKey, message, signature []byte) error {
	if public == nil {
		return fmt.Errorf("%w: no public key", ErrMissingKeyMaterial)
	}
	switch algorithm {
	case Ed25519:
		key, ok := public.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("%w: public key is %T, want ed25519", ErrMissingKeyMaterial, public)
		}
		if len(key) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: ed25519 public key is %d bytes", ErrMissingKeyMaterial, len(key))
		}
		if !ed25519.Verify(key, message, signature) {
			return ErrSignatureInvalid
		}
		return nil

	case RSAPSSSHA256:
		key, ok := public.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: public key is %T, want rsa", ErrMissingKeyMaterial, public)
		}
		digest := sha256.Sum256(message)
		if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, pssOptions); err != nil {
			return ErrSignatureInvalid
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}
