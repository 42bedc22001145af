// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR encoding used wherever the pipeline needs
// bytes that must be reproduced exactly later.
//
// Three things depend on it:
//
//   - Dead-letter payloads. A DLQ entry stores the complete dispatch
//     request as CBOR so a retry reconstructs the original input
//     byte-for-byte, independent of later schema additions.
//   - Job payloads. The worker decodes the queued submission from the
//     job row.
//   - Proof bundles. The manifest and evidence pack of an exported
//     ledger record are CBOR, and the pack digest is computed over
//     those bytes, so encoding must be deterministic.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, shortest integer forms, no indefinite lengths. The same
// value always yields the same bytes.
package codec
