// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sweep re-checks controllers for a subject's data after an
// erasure request was sent.
//
// [Sweeper.Sweep] picks Actions in status sent, escalated or
// escalate_pending whose next verification time has passed, captures
// the evidence page for each (a discovered listing URL when one is
// known, otherwise the controller's target URL), stores the HTML and
// screenshot in the blob store under their content digests, and
// appends one Verification row per Action.
//
// The verdict comes from matching the subject's identifiers against
// the page: any match moves the Action to needs_review. No match on a
// page that loaded, or that answered 404 or 410, moves it to verified.
// Anything else is inconclusive: the row is recorded with low
// confidence, the Action keeps its status and is rescheduled after
// the retry interval.
//
// Captures fan out with a bounded number in flight and a pause between
// chunks, so one sweep never floods a controller.
package sweep
