// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// kmsEd25519 is the KMS signing algorithm for ECC_NIST_EDWARDS25519
// keys with a raw message (pure Ed25519).
const kmsEd25519 types.SigningAlgorithmSpec = "ED25519_SHA_512"

// kmsTimeout bounds each KMS call.
const kmsTimeout = 5 * time.Second

// KMSClient is the subset of *kms.Client the signer uses.
type KMSClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// NewKMSClient builds a KMS client from the default AWS credential
// chain. A non-empty endpoint overrides the service URL (LocalStack,
// VPC endpoints).
func NewKMSClient(ctx context.Context, region, endpoint string) (*kms.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("signing: loading AWS config: %w", err)
	}
	return kms.NewFromConfig(cfg, func(options *kms.Options) {
		if endpoint != "" {
			options.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// KMS signs with a key held by AWS KMS.
type KMS struct {
	client    KMSClient
	keyID     string
	algorithm Algorithm

	mu     sync.Mutex
	public crypto.PublicKey
}

// NewKMS returns a signer for keyID (an ARN, key id, or alias).
func NewKMS(client KMSClient, keyID string, algorithm Algorithm) (*KMS, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: no KMS client", ErrMissingKeyMaterial)
	}
	if keyID == "" {
		return nil, fmt.Errorf("%w: empty KMS key id", ErrMissingKeyMaterial)
	}
	if _, err := kmsAlgorithm(algorithm); err != nil {
		return nil, err
	}
	return &KMS{client: client, keyID: keyID, algorithm: algorithm}, nil
}

func kmsAlgorithm(algorithm Algorithm) (types.SigningAlgorithmSpec, error) {
	switch algorithm {
	case Ed25519:
		return kmsEd25519, nil
	case RSAPSSSHA256:
		return types.SigningAlgorithmSpecRsassaPssSha256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

func (s *KMS) KeyID() string        { return s.keyID }
func (s *KMS) Algorithm() Algorithm { return s.algorithm }

func (s *KMS) Sign(ctx context.Context, message []byte) ([]byte, error) {
	spec, err := kmsAlgorithm(s.algorithm)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, kmsTimeout)
	defer cancel()

	output, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          message,
		MessageType:      types.MessageTypeRaw,
		SigningAlgorithm: spec,
	})
	if err != nil {
		return nil, fmt.Errorf("signing: kms sign with %s: %w", s.keyID, err)
	}
	if len(output.Signature) == 0 {
		return nil, fmt.Errorf("signing: kms returned an empty signature for %s", s.keyID)
	}
	return output.Signature, nil
}

// PublicKey fetches the key once and caches it.
func (s *KMS) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.public != nil {
		return s.public, nil
	}
	public, err := fetchKMSPublicKey(ctx, s.client, s.keyID)
	if err != nil {
		return nil, err
	}
	s.public = public
	return public, nil
}

func fetchKMSPublicKey(ctx context.Context, client KMSClient, keyID string) (crypto.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, kmsTimeout)
	defer cancel()

	output, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, fmt.Errorf("signing: kms get public key %s: %w", keyID, err)
	}
	if len(output.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: kms returned no public key for %s", ErrMissingKeyMaterial, keyID)
	}
	public, err := x509.ParsePKIXPublicKey(output.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("signing: parsing kms public key %s: %w", keyID, err)
	}
	return public, nil
}
