// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/erasure/lib/blobstore"
	"github.com/bureau-foundation/erasure/lib/config"
	"github.com/bureau-foundation/erasure/lib/sealed"
	"github.com/bureau-foundation/erasure/lib/signing"
)

// GeneratedKeys reports what GenerateKeys wrote. Existing files are
// left alone and reported as not created.
type GeneratedKeys struct {
	SigningKeyID     string `json:"signing_key_id,omitempty"`
	SigningPublicKey string `json:"signing_public_key,omitempty"`
	SigningCreated   bool   `json:"signing_created"`
	SubjectRecipient string `json:"subject_recipient"`
	BlobKeyCreated   bool   `json:"blob_key_created"`
}

// GenerateKeys creates the local key material cfg names: the ledger
// signing key pair when the backend is local, the subject identity and
// the blob key. It never overwrites an existing key.
func GenerateKeys(cfg *config.Config) (GeneratedKeys, error) {
	var generated GeneratedKeys
	keyDir := cfg.Paths.Keys
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return generated, fmt.Errorf("bootstrap: creating key directory: %w", err)
	}

	if cfg.Signing.Backend == "local" {
		algorithm, err := signing.ParseAlgorithm(cfg.Signing.Algorithm)
		if err != nil {
			return generated, fmt.Errorf("bootstrap: %w", err)
		}
		generated.SigningKeyID = cfg.Signing.KeyID
		public, err := signing.LoadPublicKey(keyDir, cfg.Signing.KeyID)
		if errors.Is(err, signing.ErrMissingKeyMaterial) {
			public, err = signing.GenerateKeyFiles(keyDir, cfg.Signing.KeyID, algorithm)
			generated.SigningCreated = err == nil
		}
		if err != nil {
			return generated, fmt.Errorf("bootstrap: %w", err)
		}
		encoded, err := signing.EncodePublicKeyPEM(public)
		if err != nil {
			return generated, fmt.Errorf("bootstrap: %w", err)
		}
		generated.SigningPublicKey = string(encoded)
	}

	sealer, err := sealed.LoadOrGenerate(filepath.Join(keyDir, SubjectIdentityFile))
	if err != nil {
		return generated, fmt.Errorf("bootstrap: %w", err)
	}
	generated.SubjectRecipient = sealer.Recipient()
	sealer.Close()

	blobKeyPath := filepath.Join(keyDir, BlobKeyFile)
	if _, err := os.Stat(blobKeyPath); errors.Is(err, fs.ErrNotExist) {
		if err := blobstore.GenerateKeyFile(blobKeyPath); err != nil {
			return generated, fmt.Errorf("bootstrap: %w", err)
		}
		generated.BlobKeyCreated = true
	} else if err != nil {
		return generated, fmt.Errorf("bootstrap: %w", err)
	}
	return generated, nil
}
