// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package receipt re-checks a job's captured evidence against the
// digests recorded when it was captured. A mismatch is reported with
// both values; a job with no receipt is a distinct error, so "artifact
// changed" and "never recorded" are not confused.
package receipt
