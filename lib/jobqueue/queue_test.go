// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenStore(t)
	fake := clock.Fake(epoch)
	queue, err := New(Config{
		Store:       db.Jobs,
		Clock:       fake,
		MaxAttempts: maxAttempts,
		Logger:      testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return queue, fake
}

func enqueue(t *testing.T, queue *Queue, controllerKey string) string {
	t.Helper()
	id, err := queue.Enqueue(context.Background(), JobSpec{
		ControllerKey: controllerKey,
		SubjectRef:    "subj_test",
		TargetURL:     "https://" + controllerKey + ".example/privacy",
		Payload:       []byte{0xa0},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Clock: clock.Real(), MaxAttempts: 1, Logger: testutil.Logger()}); err == nil {
		t.Fatal("New without Store should fail")
	}
	db := testutil.OpenStore(t)
	if _, err := New(Config{Store: db.Jobs, Clock: clock.Real(), Logger: testutil.Logger()}); err == nil {
		t.Fatal("New with zero MaxAttempts should fail")
	}
}

func TestEnqueueClaimSucceed(t *testing.T) {
	queue, _ := newTestQueue(t, 3)
	ctx := context.Background()
	id := enqueue(t, queue, "olx")

	job, err := queue.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job == nil || job.ID != id {
		t.Fatalf("ClaimNext = %v, want job %s", job, id)
	}
	if job.Status != schema.JobRunning || job.Attempts != 1 || job.WorkerID != "worker-0" {
		t.Errorf("claimed job status=%s attempts=%d worker=%q", job.Status, job.Attempts, job.WorkerID)
	}
	if job.Kind != schema.JobKindDispatch {
		t.Errorf("Kind = %q, want default %q", job.Kind, schema.JobKindDispatch)
	}

	if err := queue.CompleteSuccess(ctx, id, "worker-0", "status=200"); err != nil {
		t.Fatalf("CompleteSuccess: %v", err)
	}
	stored, err := queue.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != schema.JobSucceeded || stored.Result != "status=200" {
		t.Errorf("after success status=%s result=%q", stored.Status, stored.Result)
	}

	next, err := queue.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext on drained queue: %v", err)
	}
	if next != nil {
		t.Errorf("ClaimNext on drained queue = %s, want nil", next.ID)
	}
}

func TestEnqueueRequiresController(t *testing.T) {
	queue, _ := newTestQueue(t, 3)
	if _, err := queue.Enqueue(context.Background(), JobSpec{SubjectRef: "subj_x"}); err == nil {
		t.Fatal("Enqueue without ControllerKey should fail")
	}
}

func TestConcurrentClaimNextSingleWinner(t *testing.T) {
	queue, _ := newTestQueue(t, 3)
	ctx := context.Background()
	id := enqueue(t, queue, "spokeo")

	const workers = 8
	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		claimed   []string
	)
	for index := range workers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			job, err := queue.ClaimNext(ctx, fmt.Sprintf("worker-%d", index))
			if err != nil {
				t.Errorf("ClaimNext: %v", err)
				return
			}
			if job != nil {
				mutex.Lock()
				claimed = append(claimed, job.ID)
				mutex.Unlock()
			}
		}()
	}
	waitGroup.Wait()

	if len(claimed) != 1 || claimed[0] != id {
		t.Fatalf("claims = %v, want exactly [%s]", claimed, id)
	}
}

func TestCompleteFailureRequeuesThenFails(t *testing.T) {
	queue, _ := newTestQueue(t, 2)
	ctx := context.Background()
	id := enqueue(t, queue, "olx")

	for attempt, want := range []FailureOutcome{Requeued, TerminallyFailed} {
		job, err := queue.ClaimNext(ctx, "worker-0")
		if err != nil {
			t.Fatalf("ClaimNext attempt %d: %v", attempt+1, err)
		}
		if job == nil {
			t.Fatalf("ClaimNext attempt %d returned nil", attempt+1)
		}
		outcome, err := queue.CompleteFailure(ctx, id, "worker-0", errors.New("status 503"))
		if err != nil {
			t.Fatalf("CompleteFailure attempt %d: %v", attempt+1, err)
		}
		if outcome != want {
			t.Errorf("attempt %d outcome = %s, want %s", attempt+1, outcome, want)
		}
	}

	job, err := queue.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != schema.JobFailed || job.Attempts != 2 || job.Error != "status 503" {
		t.Errorf("final job status=%s attempts=%d error=%q", job.Status, job.Attempts, job.Error)
	}
	if next, _ := queue.ClaimNext(ctx, "worker-0"); next != nil {
		t.Errorf("failed job was claimable again")
	}
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	queue, _ := newTestQueue(t, 5)
	ctx := context.Background()
	id := enqueue(t, queue, "olx")

	if _, err := queue.ClaimNext(ctx, "worker-0"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	cause := Permanent(errors.New("status 400"))
	if !IsPermanent(fmt.Errorf("wrapped: %w", cause)) {
		t.Fatal("IsPermanent should see through wrapping")
	}
	outcome, err := queue.CompleteFailure(ctx, id, "worker-0", cause)
	if err != nil {
		t.Fatalf("CompleteFailure: %v", err)
	}
	if outcome != TerminallyFailed {
		t.Errorf("outcome = %s, want %s", outcome, TerminallyFailed)
	}
}

func TestDeferredFailureReturnsAttempt(t *testing.T) {
	queue, fake := newTestQueue(t, 1)
	ctx := context.Background()
	id := enqueue(t, queue, "olx")

	if _, err := queue.ClaimNext(ctx, "worker-0"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	until := epoch.Add(5 * time.Minute)
	cause := Defer(until, errors.New("circuit open"))
	if !IsDeferred(fmt.Errorf("wrapped: %w", cause)) {
		t.Fatal("IsDeferred should see through wrapping")
	}
	outcome, err := queue.CompleteFailure(ctx, id, "worker-0", cause)
	if err != nil {
		t.Fatalf("CompleteFailure: %v", err)
	}
	if outcome != Deferred {
		t.Fatalf("outcome = %s, want %s", outcome, Deferred)
	}

	job, err := queue.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// With MaxAttempts 1 the job would be exhausted had the attempt
	// counted.
	if job.Status != schema.JobQueued || job.Attempts != 0 || job.WorkerID != "" {
		t.Errorf("deferred job status=%s attempts=%d worker=%q", job.Status, job.Attempts, job.WorkerID)
	}
	if next, _ := queue.ClaimNext(ctx, "worker-0"); next != nil {
		t.Fatal("deferred job claimable before its time")
	}
	fake.Advance(5 * time.Minute)
	next, err := queue.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("ClaimNext after deferral: %v", err)
	}
	if next == nil || next.ID != id || next.Attempts != 1 {
		t.Fatalf("ClaimNext after deferral = %+v", next)
	}
}

func TestBackoffDelaysRequeue(t *testing.T) {
	db := testutil.OpenStore(t)
	fake := clock.Fake(epoch)
	queue, err := New(Config{
		Store:       db.Jobs,
		Clock:       fake,
		MaxAttempts: 3,
		Backoff:     BackoffConfig{BaseDelay: time.Minute, MaxDelay: time.Minute},
		Logger:      testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	id := enqueue(t, queue, "olx")
	if _, err := queue.ClaimNext(ctx, "worker-0"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if _, err := queue.CompleteFailure(ctx, id, "worker-0", errors.New("timeout")); err != nil {
		t.Fatalf("CompleteFailure: %v", err)
	}

	// The retry lands somewhere in [now, now+1m]; past the window it
	// must be claimable.
	fake.Advance(time.Minute + time.Second)
	job, err := queue.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("ClaimNext after backoff: %v", err)
	}
	if job == nil || job.ID != id || job.Attempts != 2 {
		t.Fatalf("ClaimNext after backoff = %+v", job)
	}
}

func TestCompletionRequiresOwnership(t *testing.T) {
	queue, _ := newTestQueue(t, 3)
	ctx := context.Background()
	id := enqueue(t, queue, "olx")
	if _, err := queue.ClaimNext(ctx, "worker-0"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if err := queue.CompleteSuccess(ctx, id, "worker-1", ""); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("CompleteSuccess by non-owner = %v, want ErrLeaseLost", err)
	}
	if _, err := queue.CompleteFailure(ctx, id, "worker-1", errors.New("x")); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("CompleteFailure by non-owner = %v, want ErrLeaseLost", err)
	}
	if err := queue.CompleteSuccess(ctx, id, "worker-0", ""); err != nil {
		t.Errorf("CompleteSuccess by owner: %v", err)
	}
}

func TestReapStaleRequeuesExpiredClaim(t *testing.T) {
	queue, fake := newTestQueue(t, 3)
	ctx := context.Background()
	id := enqueue(t, queue, "olx")
	if _, err := queue.ClaimNext(ctx, "worker-0"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	reaped, err := queue.ReapStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if len(reaped) != 0 {
		t.Fatalf("fresh claim was reaped: %v", reaped)
	}

	fake.Advance(6 * time.Minute)
	reaped, err = queue.ReapStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != id || reaped[0].Status != schema.JobQueued {
		t.Fatalf("reaped = %+v, want %s requeued", reaped, id)
	}

	if err := queue.CompleteSuccess(ctx, id, "worker-0", "late"); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("late CompleteSuccess = %v, want ErrLeaseLost", err)
	}
	job, err := queue.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("ClaimNext after reap: %v", err)
	}
	if job == nil || job.Attempts != 2 {
		t.Fatalf("reclaimed job = %+v, want attempts 2", job)
	}
}

func TestStats(t *testing.T) {
	queue, _ := newTestQueue(t, 3)
	ctx := context.Background()
	enqueue(t, queue, "olx")
	enqueue(t, queue, "spokeo")
	enqueue(t, queue, "truecaller")
	if _, err := queue.ClaimNext(ctx, "worker-0"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	stats, err := queue.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Queued != 2 || stats.Running != 1 {
		t.Errorf("Stats = %+v, want 2 queued 1 running", stats)
	}
	jobs, err := queue.List(ctx, schema.JobQueued, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("List(queued) returned %d jobs, want 2", len(jobs))
	}
}

func TestNextRetryAtBounds(t *testing.T) {
	config := BackoffConfig{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
	cases := []struct {
		attempt int
		ceiling time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 30 * time.Second},
		{64, 30 * time.Second},
	}
	for _, tc := range cases {
		for range 50 {
			delay := NextRetryAt(epoch, tc.attempt, config).Sub(epoch)
			if delay < 0 || delay > tc.ceiling {
				t.Fatalf("attempt %d delay %v outside [0, %v]", tc.attempt, delay, tc.ceiling)
			}
		}
	}
	if got := NextRetryAt(epoch, 3, BackoffConfig{}); !got.Equal(epoch) {
		t.Errorf("zero backoff = %v, want now", got)
	}
}
