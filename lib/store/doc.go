// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the SQLite persistence layer for the erasure
// pipeline. One database file holds every table; [Store] exposes a
// repository per record type:
//
//   - [JobStore] -- the job queue, with the conditional claim
//   - [IdempotencyStore] -- dispatch fingerprint reservations
//   - [BreakerStore] -- per-controller circuit state
//   - [DeadLetterStore] -- unrecoverable dispatches
//   - [ActionStore] -- erasure requests, subjects sealed with age
//   - [VerificationStore] -- append-only verification history
//   - [LedgerStore] -- signed Merkle roots
//   - [ReceiptStore] -- artifact digests per job
//   - [DiscoveryStore] -- candidate evidence URLs
//
// Every state change is a single-row write guarded by a WHERE clause
// on the current state, and callers learn whether they won through
// the affected-row count. No in-process lock participates in
// correctness, so several service processes may share the file.
//
// Times are stored as Unix nanoseconds, zero meaning unset. Schema
// changes go through sqlitepool.Migrate.
//
// The repositories take explicit timestamps instead of reading a
// clock, so the packages above them decide what "now" is.
package store
