// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package breaker isolates failing controllers.
//
// Each controller has one circuit, persisted through [Store] so every
// process sees the same state. A closed circuit counts failures inside
// a window that starts at the first failure; reaching the threshold
// opens it. An open circuit blocks dispatch until its cool-down
// passes, then grants exactly one probe (half-open). The probe's
// success closes the circuit and clears its counters. Its failure
// reopens it with the cool-down doubled, up to a maximum.
//
// All transitions are compare-and-swap writes on the stored version.
// A writer that loses re-reads and retries, so concurrent failures are
// all counted. A request the breaker blocks never reaches the
// controller and is never counted as a failure.
package breaker
