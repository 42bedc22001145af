// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used across the
// erasure pipeline.
//
// Every time-dependent decision in the pipeline reads the clock rather
// than the time package: circuit breaker windows and cool-downs,
// idempotency TTLs, job lease expiry, verification scheduling, and the
// pause between sweep chunks. Production wiring passes Real(). Tests
// pass Fake() and move time with Advance, so a five-minute cool-down
// is exercised in microseconds.
//
// When a goroutine blocks on After, Sleep, or a Ticker from a
// FakeClock it registers a pending waiter. WaitForTimers blocks until
// the expected number of waiters exist, which removes the race
// between a worker arming its poll ticker and the test advancing
// time:
//
//	c := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
//	go worker.Run(ctx)
//	c.WaitForTimers(1)
//	c.Advance(pollInterval)
package clock
