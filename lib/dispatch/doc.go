// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch turns erasure requests into durable submissions.
//
// [Dispatcher.Dispatch] runs the request path in a fixed order: the
// idempotency guard first, then the controller's circuit breaker, and
// only then the side effect. The side effect on the request path is
// durable: an Action row in status sent and a queued job carrying the
// CBOR-encoded request. The controller is contacted later, exactly
// once per claimed attempt, by [Executor] running inside the job queue
// worker pool.
//
// A duplicate request returns ok with idempotent "deduped" and touches
// nothing. A request to a controller whose circuit is open returns
// error "circuit_open" without recording a failure and without a side
// effect. When the enqueue itself fails, the dispatcher records a
// breaker failure, preserves the full payload in the dead-letter queue
// and reports "enqueue_failed".
//
// Delivery outcomes flow back from the worker: a 2xx closes the loop
// with a breaker success, a transient failure feeds the breaker and
// requeues the job, and a job that exhausts its attempts reaches
// [Dispatcher.HandleTerminal], which dead-letters it, fails its Action
// and releases the idempotency reservation so an operator retry is
// not deduplicated.
//
// [Dispatcher.Escalate] sends a follow-up for an existing Action under
// the follow-up label, through the same path.
package dispatch
