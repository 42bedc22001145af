// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/erasure/lib/secret"
)

// LocalEd25519 signs with an Ed25519 key file.
type LocalEd25519 struct {
	keyID   string
	private *secret.Buffer
	public  ed25519.PublicKey
}

// OpenLocalEd25519 loads <keyID>.key from keyDir. Close releases the
// private key.
func OpenLocalEd25519(keyDir, keyID string) (*LocalEd25519, error) {
	private, err := loadPrivateKey(keyDir, keyID)
	if err != nil {
		return nil, err
	}
	key, ok := private.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds a %T, want ed25519", ErrMissingKeyMaterial, keyID, private)
	}
	public := key.Public().(ed25519.PublicKey)
	buffer, err := secret.NewFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("signing: protecting private key: %w", err)
	}
	return &LocalEd25519{keyID: keyID, private: buffer, public: public}, nil
}

func (s *LocalEd25519) KeyID() string        { return s.keyID }
func (s *LocalEd25519) Algorithm() Algorithm { return Ed25519 }

func (s *LocalEd25519) Sign(_ context.Context, message []byte) ([]byte, error) {
	return ed25519.Sign(ed25519.PrivateKey(s.private.Bytes()), message), nil
}

func (s *LocalEd25519) PublicKey(context.Context) (crypto.PublicKey, error) {
	return s.public, nil
}

// Close zeroes the private key.
func (s *LocalEd25519) Close() error {
	return s.private.Close()
}

// LocalRSAPSS signs with an RSA key file using PSS padding.
type LocalRSAPSS struct {
	keyID   string
	private *rsa.PrivateKey
}

// OpenLocalRSAPSS loads <keyID>.key from keyDir.
func OpenLocalRSAPSS(keyDir, keyID string) (*LocalRSAPSS, error) {
	private, err := loadPrivateKey(keyDir, keyID)
	if err != nil {
		return nil, err
	}
	key, ok := private.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds a %T, want rsa", ErrMissingKeyMaterial, keyID, private)
	}
	return &LocalRSAPSS{keyID: keyID, private: key}, nil
}

func (s *LocalRSAPSS) KeyID() string        { return s.keyID }
func (s *LocalRSAPSS) Algorithm() Algorithm { return RSAPSSSHA256 }

func (s *LocalRSAPSS) Sign(_ context.Context, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	signature, err := rsa.SignPSS(rand.Reader, s.private, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return nil, fmt.Errorf("signing: rsa-pss: %w", err)
	}
	return signature, nil
}

func (s *LocalRSAPSS) PublicKey(context.Context) (crypto.PublicKey, error) {
	return &s.private.PublicKey, nil
}

// Close is a no-op; it exists so both local signers share a shape.
func (s *LocalRSAPSS) Close() error { return nil }

// loadPrivateKey reads a PKCS#8 PEM key file through a secret.Buffer
// so the raw file bytes do not linger on the heap.
func loadPrivateKey(keyDir, keyID string) (crypto.PrivateKey, error) {
	if err := validateKeyID(keyID); err != nil {
		return nil, err
	}
	buffer, err := secret.ReadFile(PrivateKeyPath(keyDir, keyID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no private key for %q in %s", ErrMissingKeyMaterial, keyID, keyDir)
	}
	if err != nil {
		return nil, err
	}
	defer buffer.Close()

	block, _ := pem.Decode(buffer.Bytes())
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("%w: %s is not a PRIVATE KEY PEM file", ErrMissingKeyMaterial, keyID)
	}
	private, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	secret.Zero(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parsing private key %s: %w", keyID, err)
	}
	return private, nil
}

// LocalSigner is a Signer backed by a key file.
type LocalSigner interface {
	Signer
	Close() error
}

// OpenLocal opens the local signer matching algorithm.
func OpenLocal(keyDir, keyID string, algorithm Algorithm) (LocalSigner, error) {
	switch algorithm {
	case Ed25519:
		signer, err := OpenLocalEd25519(keyDir, keyID)
		if err != nil {
			return nil, err
		}
		return signer, nil
	case RSAPSSSHA256:
		signer, err := OpenLocalRSAPSS(keyDir, keyID)
		if err != nil {
			return nil, err
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}
