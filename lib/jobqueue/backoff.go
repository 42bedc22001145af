// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobqueue

import (
	"math/rand/v2"
	"time"
)

// BackoffConfig bounds retry delays.
type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultBackoff returns 2s doubling up to 5m.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: 2 * time.Second,
		MaxDelay:  5 * time.Minute,
	}
}

// NextRetryAt returns when a job that has used attempt attempts may
// run again: exponential backoff with full jitter, so the delay is
// uniform in [0, min(base*2^(attempt-1), max)].
func NextRetryAt(now time.Time, attempt int, cfg BackoffConfig) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		return now
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	delay := cfg.MaxDelay
	// Shifting past 32 overflows long before it matters.
	if attempt <= 32 {
		if shifted := cfg.BaseDelay << (attempt - 1); shifted > 0 && shifted < cfg.MaxDelay {
			delay = shifted
		}
	}
	return now.Add(time.Duration(rand.Int64N(int64(delay) + 1)))
}
