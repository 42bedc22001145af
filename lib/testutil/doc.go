// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared fixtures for erasure package tests.
//
// [OpenStore] opens a migrated store in a temporary directory with a
// throwaway sealing identity. [Logger] returns a logger that discards
// output, for the Config structs that require one.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern for tests that wait on goroutines. They are the only place
// tests use real wall-clock timeouts; everything else runs on
// clock.Fake.
//
// Helpers call t.Fatalf on failure rather than returning errors, since
// test setup failures are not recoverable.
package testutil
