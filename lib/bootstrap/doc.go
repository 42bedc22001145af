// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap assembles the erasure pipeline from a validated
// [config.Config]. Both cmd/erasure-service and the operator CLI open
// the same [Components], so the two never drift in how a dispatcher,
// breaker or ledger is wired.
//
// [Open] creates key material that is safe to create on first use:
// the age identity sealing subject identifiers and the blob
// encryption key. Ledger signing keys are never created implicitly.
// Without one the ledger opens verify-only and commits fail with
// [ledger.ErrNoSigner]; [GenerateKeys] creates them explicitly.
package bootstrap
