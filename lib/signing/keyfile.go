// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	privateKeySuffix = ".key"
	publicKeySuffix  = ".pub"

	rsaKeyBits = 3072
)

// PrivateKeyPath is where the private key for keyID lives in keyDir.
func PrivateKeyPath(keyDir, keyID string) string {
	return filepath.Join(keyDir, keyID+privateKeySuffix)
}

// PublicKeyPath is where the public key for keyID lives in keyDir.
func PublicKeyPath(keyDir, keyID string) string {
	return filepath.Join(keyDir, keyID+publicKeySuffix)
}

func validateKeyID(keyID string) error {
	if keyID == "" {
		return fmt.Errorf("%w: empty key id", ErrMissingKeyMaterial)
	}
	if strings.ContainsAny(keyID, `/\`) || keyID == "." || keyID == ".." {
		return fmt.Errorf("signing: key id %q is not a plain file name", keyID)
	}
	return nil
}

// GenerateKeyFiles creates a keypair for algorithm and writes it to
// keyDir as <keyID>.key (PKCS#8 PEM, 0600) and <keyID>.pub (PKIX PEM,
// 0644). Existing files are not overwritten.
func GenerateKeyFiles(keyDir, keyID string, algorithm Algorithm) (crypto.PublicKey, error) {
	if err := validateKeyID(keyID); err != nil {
		return nil, err
	}

	var (
		private crypto.Signer
		err     error
	)
	switch algorithm {
	case Ed25519:
		_, private, err = ed25519.GenerateKey(rand.Reader)
	case RSAPSSSHA256:
		private, err = rsa.GenerateKey(rand.Reader, rsaKeyBits)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("signing: generating %s key: %w", algorithm, err)
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("signing: encoding private key: %w", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(private.Public())
	if err != nil {
		return nil, fmt.Errorf("signing: encoding public key: %w", err)
	}

	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, fmt.Errorf("signing: creating key directory: %w", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})
	if err := writeExclusive(PrivateKeyPath(keyDir, keyID), privatePEM, 0o600); err != nil {
		return nil, err
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := writeExclusive(PublicKeyPath(keyDir, keyID), publicPEM, 0o644); err != nil {
		return nil, err
	}
	return private.Public(), nil
}

func writeExclusive(path string, data []byte, mode os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("signing: creating %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("signing: writing %s: %w", path, err)
	}
	return file.Close()
}

// LoadPublicKey reads <keyID>.pub from keyDir.
func LoadPublicKey(keyDir, keyID string) (crypto.PublicKey, error) {
	if err := validateKeyID(keyID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(PublicKeyPath(keyDir, keyID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no public key for %q", ErrMissingKeyMaterial, keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("signing: reading public key: %w", err)
	}
	return ParsePublicKeyPEM(data)
}

// ParsePublicKeyPEM decodes a PKIX "PUBLIC KEY" PEM block.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: not a PUBLIC KEY PEM block", ErrMissingKeyMaterial)
	}
	public, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parsing public key: %w", err)
	}
	return public, nil
}

// EncodePublicKeyPEM is the inverse of ParsePublicKeyPEM. The public
// verification endpoint serves keys in this form.
func EncodePublicKeyPEM(public crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return nil, fmt.Errorf("signing: encoding public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
