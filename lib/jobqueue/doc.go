// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobqueue runs dispatch side effects at most once per
// attempt across any number of workers and processes.
//
// The queue lives in the store. [Queue.ClaimNext] selects the oldest
// claimable job and moves it from queued to running with a
// conditional update scoped to that job's id and status; a worker that
// loses the race sees zero rows changed and selects again. No lock
// manager is involved.
//
// A claim counts as an attempt. [Queue.CompleteFailure] requeues a job
// with attempts left (claimable again after an exponential backoff
// with full jitter) and fails it otherwise. Errors wrapped with
// [Permanent] fail the job at once. Completions only land while the
// caller still holds the claim, so a worker whose claim was reaped
// cannot overwrite the outcome of the worker that took over.
//
// [Pool] runs N polling workers plus a reaper that returns claims
// older than the lease timeout to the queue, all under one errgroup.
package jobqueue
