// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest holds the hash functions the pipeline commits to.
//
// Two hash families are used, for different audiences:
//
//   - [Content] is lowercase hex SHA-256. It is the digest recorded for
//     every evidence artifact (HTML and screenshot) and the one a third
//     party recomputes from a downloaded artifact with stock tooling.
//   - [Hash] is a 32-byte BLAKE3 keyed digest. Internal structure uses
//     it: Merkle nodes of the proof ledger, blob store addresses, and
//     idempotency fingerprints. Each use has its own domain key, so the
//     same bytes hashed for two purposes never collide.
//
// [LedgerRoot] is the entry point the ledger uses: it takes the hex
// content digests of a subject's evidence, de-duplicates and sorts
// them, and folds them into a single root. Any permutation of the same
// set yields the same root; changing any element changes it.
package digest
