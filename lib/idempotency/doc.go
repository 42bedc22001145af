// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package idempotency suppresses duplicate dispatches.
//
// [Key] fingerprints a request from the controller key, the subject's
// most stable identifier and the action label. Identical requests map
// to the same key whatever order their fields arrived in. [Guard]
// reserves keys in the store with one conditional insert: the first
// caller gets [New] and proceeds, later callers within the TTL get
// [Exists] and must not repeat the side effect.
//
// When the store cannot answer, the guard fails closed with
// [ErrGuardUnavailable]. Labels configured as at-least-once are let
// through instead, with a warning.
package idempotency
