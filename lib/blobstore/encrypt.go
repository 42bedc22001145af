// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/erasure/lib/digest"
	"github.com/bureau-foundation/erasure/lib/secret"
)

// KeySize is the length of the master key and every derived key.
const KeySize = chacha20poly1305.KeySize

const sealedVersion byte = 0x01

// sealedOverhead is version + nonce + tag.
const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var hkdfInfoBlob = []byte("erasure.blob.enc.v1")

// deriveBlobKey derives the key for one blob. masterKey is borrowed;
// the returned buffer belongs to the caller.
func deriveBlobKey(masterKey *secret.Buffer, hash digest.Hash) (*secret.Buffer, error) {
	info := make([]byte, 0, len(hkdfInfoBlob)+len(hash))
	info = append(info, hkdfInfoBlob...)
	info = append(info, hash[:]...)

	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// seal encrypts frame as [version][nonce][ciphertext+tag] with the
// version byte and hash as additional data.
func seal(frame []byte, masterKey *secret.Buffer, hash digest.Hash) ([]byte, error) {
	key, err := deriveBlobKey(masterKey, hash)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	output := make([]byte, 1+len(nonce), sealedOverhead+len(frame))
	output[0] = sealedVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], frame, additionalData(hash)), nil
}

func unseal(sealed []byte, masterKey *secret.Buffer, hash digest.Hash) ([]byte, error) {
	if len(sealed) < sealedOverhead {
		return nil, fmt.Errorf("sealed blob is %d bytes, minimum is %d", len(sealed), sealedOverhead)
	}
	if sealed[0] != sealedVersion {
		return nil, fmt.Errorf("sealed blob version %d is not supported", sealed[0])
	}
	key, err := deriveBlobKey(masterKey, hash)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	frame, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], additionalData(hash))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed: %v", ErrCorrupt, err)
	}
	return frame, nil
}

func additionalData(hash digest.Hash) []byte {
	aad := make([]byte, 0, 1+len(hash))
	aad = append(aad, sealedVersion)
	return append(aad, hash[:]...)
}

// GenerateKeyFile writes a new random master key to path as hex, mode
// 0600. It refuses to overwrite an existing file.
func GenerateKeyFile(path string) error {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return fmt.Errorf("blobstore: generating key: %w", err)
	}
	defer secret.Zero(raw)
	encoded := make([]byte, hex.EncodedLen(KeySize)+1)
	hex.Encode(encoded, raw)
	encoded[len(encoded)-1] = '\n'
	defer secret.Zero(encoded)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	if _, err := file.Write(encoded); err != nil {
		file.Close()
		return fmt.Errorf("blobstore: writing %s: %w", path, err)
	}
	return file.Close()
}

// LoadKeyFile reads a hex master key written by GenerateKeyFile into
// guarded memory.
func LoadKeyFile(path string) (*secret.Buffer, error) {
	encoded, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blobstore: reading key: %w", err)
	}
	defer encoded.Close()
	if encoded.Len() != hex.EncodedLen(KeySize) {
		return nil, fmt.Errorf("blobstore: key in %s must be %d hex characters", path, hex.EncodedLen(KeySize))
	}
	raw := make([]byte, KeySize)
	if _, err := hex.Decode(raw, encoded.Bytes()); err != nil {
		secret.Zero(raw)
		return nil, fmt.Errorf("blobstore: decoding key in %s: %w", path, err)
	}
	return secret.NewFromBytes(raw)
}
