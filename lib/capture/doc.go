// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture fetches the evidence a verification sweep hashes.
//
// A [Capturer] loads a controller page and returns its HTML and, when
// the backend can render one, a screenshot. [HTTPCapturer] delegates
// to a remote capture service that renders pages in a browser and
// answers in CBOR. [FetchOnly] is a plain GET for deployments without
// one; it returns no screenshot.
//
// A page that loads with a non-2xx status is still a capture: the
// status is part of the evidence (a 410 is strong evidence of
// deletion). Only failing to obtain a response at all is an error,
// reported as [ErrFetch].
package capture
