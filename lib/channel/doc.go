// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel delivers erasure submissions to controllers.
//
// A [Transport] performs one submission. [Webform] posts the request
// to the controller's privacy form, [Email] sends it through SES v2 to
// the controller's privacy address, and [Noop] accepts everything
// without side effects for controllers handled out of band.
//
// Failures are classified so the caller can decide between retrying
// and giving up: errors matching [ErrTransient] (timeouts, 5xx,
// throttling) may succeed later, errors matching [ErrRejected] (4xx,
// malformed addresses) will not. [Router] maps a controller's
// configured channel to its transport.
//
// Transports run inside the job queue worker, never on the dispatch
// request path, so each submission happens once per claimed attempt.
package channel
