// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bureau-foundation/erasure/lib/schema"
)

// Three identical truecaller requests produce one job; the repeats are
// answered as deduplicated no-ops.
func TestScenarioTruecallerDedup(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	subject := schema.Subject{Name: "Asha Rao", Phone: "+91 98450 12345"}

	var jobs []string
	for attempt := range 3 {
		// Field formatting differences do not defeat the key.
		variant := subject
		if attempt == 2 {
			variant.Phone = "+91-98450-12345"
		}
		response, err := h.dispatch(schema.DispatchRequest{ControllerKey: "truecaller", Subject: variant})
		if err != nil {
			t.Fatalf("dispatch %d: %v", attempt+1, err)
		}
		if !response.OK {
			t.Fatalf("dispatch %d = %+v", attempt+1, response)
		}
		if attempt == 0 {
			if response.Idempotent != schema.IdempotencyNew {
				t.Errorf("first dispatch idempotent = %s", response.Idempotent)
			}
			jobs = append(jobs, response.ProviderRef)
			continue
		}
		if response.Idempotent != schema.IdempotencyDeduped || response.Channel != schema.ChannelNoop || response.ProviderRef != "" {
			t.Errorf("repeat %d = %+v", attempt+1, response)
		}
	}

	if stats := h.stats(); stats.Queued != 1 {
		t.Fatalf("queued jobs = %d, want 1", stats.Queued)
	}
	h.runJobs()
	if posts := h.forms.posts.Load(); posts != 1 {
		t.Errorf("controller received %d submissions, want 1", posts)
	}
}

// OLX trips after five failed submissions inside its window; the
// sixth dispatch is refused without a side effect.
func TestScenarioOLXCircuitOpensOnSixthDispatch(t *testing.T) {
	h := newHarness(t, harnessOptions{maxAttempts: 1})
	h.forms.status.Store(http.StatusServiceUnavailable)

	for index := range 5 {
		response, err := h.dispatch(request("olx", fmt.Sprintf("user%d@example.com", index)))
		if err != nil || !response.OK {
			t.Fatalf("dispatch %d = %+v, %v", index+1, response, err)
		}
		if ran := h.runJobs(); ran != 1 {
			t.Fatalf("dispatch %d ran %d jobs", index+1, ran)
		}
	}
	if posts := h.forms.posts.Load(); posts != 5 {
		t.Fatalf("controller received %d posts, want 5", posts)
	}

	response, err := h.dispatch(request("olx", "user5@example.com"))
	if KindOf(err) != KindCircuitOpen {
		t.Fatalf("sixth dispatch error = %v, want circuit open", err)
	}
	if response.OK || response.Error != schema.ErrorCodeCircuitOpen {
		t.Errorf("sixth dispatch = %+v", response)
	}
	if stats := h.stats(); stats.Queued != 0 || stats.Failed != 5 {
		t.Errorf("job stats = %+v", stats)
	}
	if count := h.deadLetterCount(); count != 5 {
		t.Errorf("dead letters = %d, want 5", count)
	}
	h.runJobs()
	if posts := h.forms.posts.Load(); posts != 5 {
		t.Errorf("blocked dispatch reached the controller: %d posts", posts)
	}
}

// Jobs queued before OLX trips are held back once the circuit opens:
// they wait out the cool-down with their attempts intact, and the
// first one through afterwards closes the circuit for the rest.
func TestScenarioOpenCircuitHoldsQueuedJobs(t *testing.T) {
	h := newHarness(t, harnessOptions{maxAttempts: 3})
	h.forms.status.Store(http.StatusServiceUnavailable)

	var jobs []string
	for index := range 5 {
		response, err := h.dispatch(request("olx", fmt.Sprintf("user%d@example.com", index)))
		if err != nil || !response.OK {
			t.Fatalf("dispatch %d = %+v, %v", index+1, response, err)
		}
		jobs = append(jobs, response.ProviderRef)
	}
	h.runJobs()

	// Three attempts of the first job and two of the second trip the
	// breaker; nothing else reaches the controller.
	if posts := h.forms.posts.Load(); posts != 5 {
		t.Fatalf("controller received %d posts, want 5", posts)
	}
	state, err := h.breaker.State(context.Background(), "olx")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.State != schema.BreakerOpen || state.RecentFailures != 5 {
		t.Fatalf("breaker = %+v, want open with 5 failures", state)
	}
	if stats := h.stats(); stats.Queued != 4 || stats.Failed != 1 {
		t.Fatalf("job stats = %+v, want 4 queued and 1 failed", stats)
	}
	for index, id := range jobs[1:] {
		job, err := h.queue.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		wantAttempts := 0
		if index == 0 {
			wantAttempts = 2
		}
		if job.Attempts != wantAttempts {
			t.Errorf("job %d attempts = %d, want %d", index+2, job.Attempts, wantAttempts)
		}
	}

	// Still inside the cool-down: nothing is claimable.
	h.clock.Advance(time.Minute)
	if ran := h.runJobs(); ran != 0 {
		t.Fatalf("ran %d jobs during the cool-down", ran)
	}

	h.clock.Advance(4 * time.Minute)
	h.forms.status.Store(http.StatusOK)
	if ran := h.runJobs(); ran != 4 {
		t.Fatalf("ran %d jobs after the cool-down, want 4", ran)
	}
	if posts := h.forms.posts.Load(); posts != 9 {
		t.Errorf("controller received %d posts, want 9", posts)
	}
	state, err = h.breaker.State(context.Background(), "olx")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.State != schema.BreakerClosed {
		t.Errorf("breaker after recovery = %s, want closed", state.State)
	}
	if stats := h.stats(); stats.Succeeded != 4 || stats.Failed != 1 {
		t.Errorf("job stats = %+v, want 4 succeeded and 1 failed", stats)
	}
}
