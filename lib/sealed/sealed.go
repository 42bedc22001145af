// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/bureau-foundation/erasure/lib/secret"
)

// Sealer encrypts to its own recipient and decrypts with the matching
// identity. It is safe for concurrent use.
type Sealer struct {
	identity  *secret.Buffer
	recipient string
}

// GenerateIdentity creates a fresh X25519 identity. The returned
// buffer holds the AGE-SECRET-KEY-1 text and must be closed by the
// caller (or handed to NewSealer, which takes ownership).
func GenerateIdentity() (*secret.Buffer, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	return secret.NewFromBytes([]byte(identity.String()))
}

// NewSealer takes ownership of identity. Close releases it.
func NewSealer(identity *secret.Buffer) (*Sealer, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: invalid identity: %w", err)
	}
	return &Sealer{
		identity:  identity,
		recipient: parsed.Recipient().String(),
	}, nil
}

// LoadOrGenerate reads the identity file at path, creating it with a
// new identity (mode 0600) when it does not exist.
func LoadOrGenerate(path string) (*Sealer, error) {
	buffer, err := secret.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		buffer, err = GenerateIdentity()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			buffer.Close()
			return nil, fmt.Errorf("sealed: creating key directory: %w", err)
		}
		contents := append(append(make([]byte, 0, buffer.Len()+1), buffer.Bytes()...), '\n')
		err := os.WriteFile(path, contents, 0o600)
		secret.Zero(contents)
		if err != nil {
			buffer.Close()
			return nil, fmt.Errorf("sealed: writing identity: %w", err)
		}
	} else if err != nil {
		return nil, err
	}
	return NewSealer(buffer)
}

// Recipient is the age1... public key ciphertext is sealed to.
func (s *Sealer) Recipient() string {
	return s.recipient
}

// Seal encrypts plaintext and returns base64 ciphertext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	recipient, err := age.ParseX25519Recipient(s.recipient)
	if err != nil {
		return "", fmt.Errorf("sealed: recipient: %w", err)
	}
	var out bytes.Buffer
	writer, err := age.Encrypt(&out, recipient)
	if err != nil {
		return "", fmt.Errorf("sealed: starting encryption: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("sealed: finishing encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out.Bytes()), nil
}

// Open reverses Seal. The plaintext is an ordinary heap slice: subject
// identifiers are needed as strings for page matching, so there is no
// point pinning them in a secret.Buffer.
func (s *Sealer) Open(ciphertext string) ([]byte, error) {
	identity, err := age.ParseX25519Identity(s.identity.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: identity: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding ciphertext: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return plaintext, nil
}

// Close releases the identity.
func (s *Sealer) Close() error {
	return s.identity.Close()
}
