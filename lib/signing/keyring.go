// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"context"
	"crypto"
	"fmt"
	"strings"
	"sync"
)

// Keyring resolves a key id to a public key. Ids that look like KMS
// identifiers (ARNs, "alias/..." names) go to KMS when a client is
// configured; everything else is read from KeyDir. Results are cached
// for the life of the Keyring.
type Keyring struct {
	keyDir string
	kms    KMSClient

	mu    sync.Mutex
	cache map[string]crypto.PublicKey
}

// NewKeyring returns a keyring over keyDir. kmsClient may be nil.
func NewKeyring(keyDir string, kmsClient KMSClient) *Keyring {
	return &Keyring{
		keyDir: keyDir,
		kms:    kmsClient,
		cache:  make(map[string]crypto.PublicKey),
	}
}

// Add registers a public key directly, typically the running signer's
// own key so the service never re-reads it.
func (k *Keyring) Add(keyID string, public crypto.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cache[keyID] = public
}

// PublicKey returns the key for keyID or an error wrapping
// ErrMissingKeyMaterial.
func (k *Keyring) PublicKey(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	k.mu.Lock()
	public, ok := k.cache[keyID]
	k.mu.Unlock()
	if ok {
		return public, nil
	}

	var err error
	if isKMSKeyID(keyID) {
		if k.kms == nil {
			return nil, fmt.Errorf("%w: %s is a KMS key and no KMS client is configured", ErrMissingKeyMaterial, keyID)
		}
		public, err = fetchKMSPublicKey(ctx, k.kms, keyID)
	} else {
		if k.keyDir == "" {
			return nil, fmt.Errorf("%w: no key directory for %s", ErrMissingKeyMaterial, keyID)
		}
		public, err = LoadPublicKey(k.keyDir, keyID)
	}
	if err != nil {
		return nil, err
	}

	k.Add(keyID, public)
	return public, nil
}

// Verify resolves keyID and checks signature. The algorithm recorded
// alongside the signature must match the key type.
func (k *Keyring) Verify(ctx context.Context, algorithm Algorithm, keyID string, message, signature []byte) error {
	public, err := k.PublicKey(ctx, keyID)
	if err != nil {
		return err
	}
	return Verify(algorithm, public, message, signature)
}

func isKMSKeyID(keyID string) bool {
	return strings.HasPrefix(keyID, "arn:aws:kms:") || strings.HasPrefix(keyID, "alias/")
}
