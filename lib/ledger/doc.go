// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger commits a subject's evidence digests to signed Merkle
// roots and verifies them.
//
// A commit gathers the HTML and screenshot digests of every
// verification row not yet covered by a record, folds the canonical
// set with [digest.LedgerRoot], and signs the 32 raw root bytes. The
// record and the rows it covers are written in one transaction, so a
// row is committed at most once and a record never names evidence it
// did not consume.
//
// Verification needs only the record and the signer's public key.
// [Ledger.Verify] checks the signature; [Ledger.VerifyFull] also
// recomputes the root from the stored digests and from the
// verification rows themselves. Bundles carry a record, its signature
// and its digest pack as one CBOR document that a third party can
// check offline with [VerifyBundle].
package ledger
