// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deadletter holds dispatches that could not be delivered.
//
// [Queue] is the durable list: the dispatcher pushes a payload there
// when an enqueue fails or a job exhausts its attempts, and operators
// list and purge entries. Entries are never dropped implicitly; every
// removal goes through [Queue.Purge] and is logged.
//
// [Retrier] replays entries through the dispatcher end to end, so a
// retry re-checks idempotency and breaker state exactly like a fresh
// request. A successful retry purges the entry; a failed one bumps its
// retry count and keeps it. [Retrier.Run] repeats [Retrier.RetryAll]
// on an interval.
package deadletter
