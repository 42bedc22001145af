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
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// fakeKMS holds private keys in-process and answers Sign and
// GetPublicKey the way the service does.
type fakeKMS struct {
	keys      map[string]crypto.Signer
	signCalls int
	keyCalls  int
}

func (f *fakeKMS) Sign(_ context.Context, input *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.signCalls++
	key, ok := f.keys[*input.KeyId]
	if !ok {
		return nil, fmt.Errorf("NotFoundException: %s", *input.KeyId)
	}
	if input.MessageType != types.MessageTypeRaw {
		return nil, fmt.Errorf("unexpected message type %q", input.MessageType)
	}
	switch private := key.(type) {
	case *rsa.PrivateKey:
		if input.SigningAlgorithm != types.SigningAlgorithmSpecRsassaPssSha256 {
			return nil, fmt.Errorf("InvalidKeyUsageException: %s", input.SigningAlgorithm)
		}
		digest := sha256.Sum256(input.Message)
		signature, err := rsa.SignPSS(rand.Reader, private, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
		if err != nil {
			return nil, err
		}
		return &kms.SignOutput{Signature: signature}, nil
	case ed25519.PrivateKey:
		if input.SigningAlgorithm != "ED25519_SHA_512" {
			return nil, fmt.Errorf("InvalidKeyUsageException: %s", input.SigningAlgorithm)
		}
		return &kms.SignOutput{Signature: ed25519.Sign(private, input.Message)}, nil
	}
	return nil, errors.New("unsupported key")
}

func (f *fakeKMS) GetPublicKey(_ context.Context, input *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	f.keyCalls++
	key, ok := f.keys[*input.KeyId]
	if !ok {
		return nil, fmt.Errorf("NotFoundException: %s", *input.KeyId)
	}
	der, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, err
	}
	return &kms.GetPublicKeyOutput{PublicKey: der}, nil
}

const (
	rsaARN     = "arn:aws:kms:eu-west-1:111122223333:key/rsa-ledger"
	ed25519ARN = "arn:aws:kms:eu-west-1:111122223333:key/ed-ledger"
)

func newFakeKMS(t *testing.T) *fakeKMS {
	t.Helper()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	return &fakeKMS{keys: map[string]crypto.Signer{rsaARN: rsaKey, ed25519ARN: edKey}}
}

func TestKMSSignVerifiesWithKeyring(t *testing.T) {
	ctx := context.Background()
	client := newFakeKMS(t)
	keyring := NewKeyring("", client)
	root := testRoot(t)

	cases := []struct {
		keyID     string
		algorithm Algorithm
	}{
		{rsaARN, RSAPSSSHA256},
		{ed25519ARN, Ed25519},
	}
	for _, tc := range cases {
		t.Run(string(tc.algorithm), func(t *testing.T) {
			signer, err := NewKMS(client, tc.keyID, tc.algorithm)
			if err != nil {
				t.Fatalf("NewKMS: %v", err)
			}
			signature, err := signer.Sign(ctx, root)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if err := keyring.Verify(ctx, tc.algorithm, tc.keyID, root, signature); err != nil {
				t.Fatalf("Keyring.Verify: %v", err)
			}
			signature[0] ^= 0x80
			if err := keyring.Verify(ctx, tc.algorithm, tc.keyID, root, signature); !errors.Is(err, ErrSignatureInvalid) {
				t.Fatalf("flipped signature: %v, want ErrSignatureInvalid", err)
			}
		})
	}
}

func TestKMSPublicKeyCached(t *testing.T) {
	ctx := context.Background()
	client := newFakeKMS(t)
	signer, err := NewKMS(client, rsaARN, RSAPSSSHA256)
	if err != nil {
		t.Fatalf("NewKMS: %v", err)
	}
	for range 3 {
		if _, err := signer.PublicKey(ctx); err != nil {
			t.Fatalf("PublicKey: %v", err)
		}
	}
	if client.keyCalls != 1 {
		t.Errorf("GetPublicKey called %d times, want 1", client.keyCalls)
	}
}

func TestNewKMSValidation(t *testing.T) {
	client := newFakeKMS(t)
	if _, err := NewKMS(nil, rsaARN, RSAPSSSHA256); !errors.Is(err, ErrMissingKeyMaterial) {
		t.Errorf("nil client: %v, want ErrMissingKeyMaterial", err)
	}
	if _, err := NewKMS(client, "", RSAPSSSHA256); !errors.Is(err, ErrMissingKeyMaterial) {
		t.Errorf("empty key id: %v, want ErrMissingKeyMaterial", err)
	}
	if _, err := NewKMS(client, rsaARN, "rsa-pkcs1"); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("bad algorithm: %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestKMSSignUnknownKey(t *testing.T) {
	client := newFakeKMS(t)
	signer, err := NewKMS(client, "arn:aws:kms:eu-west-1:111122223333:key/missing", RSAPSSSHA256)
	if err != nil {
		t.Fatalf("NewKMS: %v", err)
	}
	if _, err := signer.Sign(context.Background(), []byte("root")); err == nil {
		t.Fatal("Sign with unknown key succeeded")
	}
}
