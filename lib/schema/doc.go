// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the records that move through the erasure
// pipeline and the wire shapes of its external interfaces.
//
// Persistent records:
//
//   - [Job] -- one queued execution of a submission to a controller
//   - [Action] -- the logical erasure request a Job serves
//   - [IdempotencyRecord] -- a reserved dispatch fingerprint
//   - [CircuitState] -- per-controller breaker state
//   - [DeadLetterEntry] -- an unrecoverable dispatch, with its payload
//   - [Verification] -- one append-only re-check of an Action
//   - [ProofLedgerRecord] -- a signed Merkle root over evidence hashes
//   - [Receipt] -- the artifact digests recorded for a Job
//   - [DiscoveredItem] -- a candidate evidence URL from discovery
//
// [DispatchRequest] and [DispatchResponse] are the dispatcher's input
// and output. JSON tags are the wire names; the CBOR codec reuses
// them, so a dead-letter payload decodes with the same field names a
// client sent.
//
// This package depends on no other packages in this module.
package schema
