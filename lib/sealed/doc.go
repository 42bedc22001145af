// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed redacts subject identifiers at rest. The actions
// table never stores a subject's name, email, phone, or handle in
// the clear: lib/store seals the encoded subject with age before the
// INSERT and opens it when the verification sweep needs the
// identifiers to search fetched pages.
//
// Ciphertext is base64 text so it fits a TEXT column. The age X25519
// identity lives in a [secret.Buffer] for the life of the [Sealer].
package sealed
