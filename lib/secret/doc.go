// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material the service must keep off the Go
// heap: the local ledger signing seed, the age identity that unseals
// subject identifiers, and the blob encryption key.
//
// A [Buffer] is an anonymous mmap region that is mlocked and marked
// MADV_DONTDUMP. The garbage collector never sees it, so no stale copy
// survives a Close. [ReadFile] loads a key file straight into a Buffer
// and scrubs the intermediate heap copy.
package secret
