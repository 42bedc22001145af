// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signing signs and verifies proof ledger roots.
//
// A [Signer] produces a signature over raw bytes and names the key and
// algorithm that produced it. Three backends implement it:
//
//   - [LocalEd25519]: a PKCS#8 key file on disk. The private key is
//     held in a secret.Buffer while the signer is open.
//   - [LocalRSAPSS]: a PKCS#8 RSA key file, RSA-PSS with SHA-256 and a
//     salt as long as the hash.
//   - [KMS]: AWS KMS. The service signs; the private key never leaves
//     it. Both RSA-PSS-SHA256 and Ed25519 KMS keys are supported.
//
// Verification is backend-independent. A ledger record carries the
// algorithm name and key id; a [Keyring] maps the key id to a public
// key (from a local .pub file or KMS GetPublicKey), and [Verify] checks
// the signature. A verifier holding only the public key reaches the
// same answer as the service.
//
// Failures are reported through three sentinels: [ErrSignatureInvalid]
// when the math fails, [ErrUnsupportedAlgorithm] for an algorithm name
// this package does not know, and [ErrMissingKeyMaterial] when the key
// needed for the operation cannot be found or is the wrong type.
package signing
