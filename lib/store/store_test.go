// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/sealed"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	identity, err := sealed.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	sealer, err := sealed.NewSealer(identity)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	t.Cleanup(func() { sealer.Close() })

	s, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "erasure.db"),
		PoolSize: 8,
		Sealer:   sealer,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertJob(t *testing.T, s *Store, id string, maxAttempts int, createdAt time.Time) {
	t.Helper()
	err := s.Jobs.Insert(context.Background(), schema.Job{
		ID:            id,
		Kind:          schema.JobKindDispatch,
		ControllerKey: "truecaller",
		SubjectRef:    "subj_1",
		MaxAttempts:   maxAttempts,
		Metadata:      map[string]string{"channel": "webform"},
		CreatedAt:     createdAt,
	})
	if err != nil {
		t.Fatalf("Insert %s: %v", id, err)
	}
}

func TestOpenRequiresLoggerAndSealer(t *testing.T) {
	if _, err := Open(Config{Path: filepath.Join(t.TempDir(), "a.db")}); err == nil {
		t.Fatal("Open without Logger succeeded")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Open(Config{Path: filepath.Join(t.TempDir(), "a.db"), Logger: logger}); err == nil {
		t.Fatal("Open without Sealer succeeded")
	}
}

func TestJobInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertJob(t, s, "job_a", 3, epoch)

	job, err := s.Jobs.Get(ctx, "job_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != schema.JobQueued || job.Attempts != 0 || job.MaxAttempts != 3 {
		t.Errorf("job = %+v", job)
	}
	if job.Metadata["channel"] != "webform" {
		t.Errorf("metadata = %v", job.Metadata)
	}
	if !job.CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt = %v, want %v", job.CreatedAt, epoch)
	}

	if _, err := s.Jobs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestClaimHasExactlyOneWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertJob(t, s, "job_contended", 3, epoch)

	const claimers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := fmt.Sprintf("worker-%d", i)
			won, err := s.Jobs.Claim(ctx, "job_contended", worker, epoch)
			if err != nil {
				t.Errorf("Claim(%s): %v", worker, err)
				return
			}
			if won {
				mu.Lock()
				winners = append(winners, worker)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	job, err := s.Jobs.Get(ctx, "job_contended")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != schema.JobRunning || job.WorkerID != winners[0] || job.Attempts != 1 {
		t.Errorf("job = status %s worker %s attempts %d", job.Status, job.WorkerID, job.Attempts)
	}
}

func TestOldestClaimableOrderAndAvailability(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertJob(t, s, "job_second", 3, epoch.Add(time.Second))
	insertJob(t, s, "job_first", 3, epoch)

	id, ok, err := s.Jobs.OldestClaimable(ctx, epoch.Add(time.Minute))
	if err != nil || !ok || id != "job_first" {
		t.Fatalf("OldestClaimable = %q, %v, %v; want job_first", id, ok, err)
	}

	if _, err := s.Jobs.Claim(ctx, "job_first", "w", epoch); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	retryAt := epoch.Add(time.Hour)
	status, ok, err := s.Jobs.Fail(ctx, "job_first", "w", "timeout", false, epoch, retryAt)
	if err != nil || !ok || status != schema.JobQueued {
		t.Fatalf("Fail = %s, %v, %v; want queued", status, ok, err)
	}

	// job_first is queued again but not available until retryAt.
	id, _, _ = s.Jobs.OldestClaimable(ctx, epoch.Add(time.Minute))
	if id != "job_second" {
		t.Errorf("before retryAt: OldestClaimable = %q, want job_second", id)
	}
	id, _, _ = s.Jobs.OldestClaimable(ctx, retryAt)
	if id != "job_first" {
		t.Errorf("at retryAt: OldestClaimable = %q, want job_first", id)
	}
}

func TestAttemptsNeverExceedMax(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertJob(t, s, "job_flaky", 2, epoch)

	for attempt := 1; attempt <= 2; attempt++ {
		won, err := s.Jobs.Claim(ctx, "job_flaky", "w", epoch)
		if err != nil || !won {
			t.Fatalf("attempt %d: Claim = %v, %v", attempt, won, err)
		}
		status, _, err := s.Jobs.Fail(ctx, "job_flaky", "w", "boom", false, epoch, epoch)
		if err != nil {
			t.Fatalf("attempt %d: Fail: %v", attempt, err)
		}
		want := schema.JobQueued
		if attempt == 2 {
			want = schema.JobFailed
		}
		if status != want {
			t.Errorf("attempt %d: status = %s, want %s", attempt, status, want)
		}
	}

	won, err := s.Jobs.Claim(ctx, "job_flaky", "w", epoch)
	if err != nil {
		t.Fatalf("Claim after exhaustion: %v", err)
	}
	if won {
		t.Error("claimed a job with no attempts left")
	}
	job, _ := s.Jobs.Get(ctx, "job_flaky")
	if job.Attempts != 2 || job.FinishedAt.IsZero() {
		t.Errorf("job attempts %d finished %v", job.Attempts, job.FinishedAt)
	}
}

func TestCompletionRequiresOwnership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertJob(t, s, "job_owned", 3, epoch)
	if _, err := s.Jobs.Claim(ctx, "job_owned", "owner", epoch); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	ok, err := s.Jobs.Succeed(ctx, "job_owned", "intruder", "done", epoch)
	if err != nil || ok {
		t.Fatalf("Succeed by non-owner = %v, %v", ok, err)
	}
	if _, ok, _ := s.Jobs.Fail(ctx, "job_owned", "intruder", "x", true, epoch, epoch); ok {
		t.Fatal("Fail by non-owner succeeded")
	}
	ok, err = s.Jobs.Succeed(ctx, "job_owned", "owner", "done", epoch)
	if err != nil || !ok {
		t.Fatalf("Succeed by owner = %v, %v", ok, err)
	}
	ok, _ = s.Jobs.Succeed(ctx, "job_owned", "owner", "again", epoch)
	if ok {
		t.Error("second Succeed changed a terminal job")
	}
}

func TestTerminalFailureSkipsRemainingAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertJob(t, s, "job_terminal", 5, epoch)
	s.Jobs.Claim(ctx, "job_terminal", "w", epoch)
	status, ok, err := s.Jobs.Fail(ctx, "job_terminal", "w", "403", true, epoch, epoch)
	if err != nil || !ok || status != schema.JobFailed {
		t.Fatalf("Fail = %s, %v, %v; want failed", status, ok, err)
	}
}

func TestReapStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertJob(t, s, "job_requeue", 3, epoch)
	insertJob(t, s, "job_exhaust", 1, epoch)
	insertJob(t, s, "job_fresh", 3, epoch)
	s.Jobs.Claim(ctx, "job_requeue", "dead", epoch)
	s.Jobs.Claim(ctx, "job_exhaust", "dead", epoch)
	s.Jobs.Claim(ctx, "job_fresh", "alive", epoch.Add(10*time.Minute))

	reaped, err := s.Jobs.ReapStale(ctx, epoch.Add(5*time.Minute), epoch.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	got := map[string]schema.JobStatus{}
	for _, r := range reaped {
		got[r.ID] = r.Status
	}
	if len(got) != 2 || got["job_requeue"] != schema.JobQueued || got["job_exhaust"] != schema.JobFailed {
		t.Fatalf("reaped = %v", got)
	}

	// The dead worker's late completion must not land.
	if ok, _ := s.Jobs.Succeed(ctx, "job_requeue", "dead", "late", epoch); ok {
		t.Error("late completion from reaped worker was accepted")
	}
	stats, err := s.Jobs.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Queued != 1 || stats.Running != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestIdempotencyReserve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	record := schema.IdempotencyRecord{
		Key:         "key-1",
		ActionLabel: schema.DefaultActionLabel,
		CreatedAt:   epoch,
		ExpiresAt:   epoch.Add(time.Hour),
	}
	reserved, err := s.Idempotency.Reserve(ctx, record)
	if err != nil || !reserved {
		t.Fatalf("first Reserve = %v, %v", reserved, err)
	}

	repeat := record
	repeat.CreatedAt = epoch.Add(30 * time.Minute)
	repeat.ExpiresAt = repeat.CreatedAt.Add(time.Hour)
	reserved, err = s.Idempotency.Reserve(ctx, repeat)
	if err != nil || reserved {
		t.Fatalf("Reserve within TTL = %v, %v; want false", reserved, err)
	}

	late := record
	late.CreatedAt = epoch.Add(2 * time.Hour)
	late.ExpiresAt = late.CreatedAt.Add(time.Hour)
	reserved, err = s.Idempotency.Reserve(ctx, late)
	if err != nil || !reserved {
		t.Fatalf("Reserve after expiry = %v, %v; want true", reserved, err)
	}
	stored, err := s.Idempotency.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.ExpiresAt.Equal(late.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", stored.ExpiresAt, late.ExpiresAt)
	}

	if err := s.Idempotency.Release(ctx, "key-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	reserved, _ = s.Idempotency.Reserve(ctx, late)
	if !reserved {
		t.Error("Reserve after Release = false")
	}
}

func TestIdempotencyConcurrentReserve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	record := schema.IdempotencyRecord{Key: "race", ActionLabel: "x", CreatedAt: epoch, ExpiresAt: epoch.Add(time.Hour)}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reserved, err := s.Idempotency.Reserve(ctx, record)
			if err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			if reserved {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestIdempotencyPurgeExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Idempotency.Reserve(ctx, schema.IdempotencyRecord{Key: "old", CreatedAt: epoch, ExpiresAt: epoch.Add(time.Minute)})
	s.Idempotency.Reserve(ctx, schema.IdempotencyRecord{Key: "new", CreatedAt: epoch, ExpiresAt: epoch.Add(time.Hour)})

	purged, err := s.Idempotency.PurgeExpired(ctx, epoch.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := s.Idempotency.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(old) error = %v, want ErrNotFound", err)
	}
}

func TestBreakerSaveIsCompareAndSwap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state, found, err := s.Breakers.Get(ctx, "olx")
	if err != nil || found {
		t.Fatalf("Get fresh = found %v, %v", found, err)
	}
	if state.State != schema.BreakerClosed || state.Version != 0 {
		t.Fatalf("fresh state = %+v", state)
	}

	state.RecentFailures = 1
	state.UpdatedAt = epoch
	saved, err := s.Breakers.Save(ctx, state)
	if err != nil || !saved {
		t.Fatalf("first Save = %v, %v", saved, err)
	}
	// A second writer holding the same stale version loses.
	saved, err = s.Breakers.Save(ctx, state)
	if err != nil || saved {
		t.Fatalf("stale insert Save = %v, %v; want false", saved, err)
	}

	current, _, _ := s.Breakers.Get(ctx, "olx")
	if current.Version != 1 || current.RecentFailures != 1 {
		t.Fatalf("current = %+v", current)
	}
	stale := current
	current.RecentFailures = 2
	if saved, _ := s.Breakers.Save(ctx, current); !saved {
		t.Fatal("Save at current version failed")
	}
	stale.RecentFailures = 99
	if saved, _ := s.Breakers.Save(ctx, stale); saved {
		t.Fatal("Save at stale version succeeded")
	}
	final, _, _ := s.Breakers.Get(ctx, "olx")
	if final.RecentFailures != 2 || final.Version != 2 {
		t.Errorf("final = %+v", final)
	}
}

func TestBreakerAcquireProbe(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Breakers.Save(ctx, schema.CircuitState{
		ControllerKey: "olx",
		State:         schema.BreakerOpen,
		OpenedAt:      epoch,
		CoolDown:      5 * time.Minute,
		UpdatedAt:     epoch,
	})

	if ok, _ := s.Breakers.AcquireProbe(ctx, "olx", epoch.Add(time.Minute), epoch); ok {
		t.Fatal("probe granted during cool-down")
	}
	now := epoch.Add(6 * time.Minute)
	ok, err := s.Breakers.AcquireProbe(ctx, "olx", now, now.Add(-time.Minute))
	if err != nil || !ok {
		t.Fatalf("AcquireProbe after cool-down = %v, %v", ok, err)
	}
	if ok, _ := s.Breakers.AcquireProbe(ctx, "olx", now, now.Add(-time.Minute)); ok {
		t.Fatal("second probe granted while first in flight")
	}
	state, _, _ := s.Breakers.Get(ctx, "olx")
	if state.State != schema.BreakerHalfOpen || !state.ProbeInFlight {
		t.Errorf("state = %+v", state)
	}

	later := now.Add(10 * time.Minute)
	if ok, _ := s.Breakers.AcquireProbe(ctx, "olx", later, later.Add(-time.Minute)); !ok {
		t.Error("stale probe slot was not reclaimed")
	}
}

func TestDeadLetters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, key := range []string{"olx", "spokeo", "olx"} {
		err := s.DeadLetters.Insert(ctx, schema.DeadLetterEntry{
			ID:            fmt.Sprintf("dlq_%d", i),
			Channel:       schema.ChannelWebform,
			ControllerKey: key,
			SubjectRef:    "subj_1",
			Payload:       []byte{0xa0},
			ErrorCode:     schema.ErrorCodeEnqueueFailed,
			CreatedAt:     epoch.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	entries, err := s.DeadLetters.List(ctx, DeadLetterFilter{ControllerKey: "olx"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "dlq_0" || entries[1].ID != "dlq_2" {
		t.Fatalf("entries = %+v", entries)
	}

	if err := s.DeadLetters.RecordRetry(ctx, "dlq_0", "", "delivery_exhausted", "503", epoch.Add(time.Hour)); err != nil {
		t.Fatalf("RecordRetry: %v", err)
	}
	entry, err := s.DeadLetters.Get(ctx, "dlq_0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Retries != 1 || entry.ErrorNote != "503" || entry.LastRetryAt.IsZero() {
		t.Errorf("entry = %+v", entry)
	}

	if err := s.DeadLetters.Delete(ctx, "dlq_0"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.DeadLetters.Delete(ctx, "dlq_0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestActionSubjectIsSealedAtRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	action := schema.Action{
		ID:            "act_1",
		ControllerKey: "truecaller",
		SubjectRef:    "subj_1",
		Subject:       schema.Subject{Name: "Asha Rao", Email: "asha@example.com"},
		Channel:       schema.ChannelWebform,
		Status:        schema.ActionDraft,
		CreatedAt:     epoch,
		UpdatedAt:     epoch,
	}
	if err := s.Actions.Insert(ctx, action); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var raw string
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT subject_sealed FROM actions WHERE id = 'act_1'`,
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				raw = stmt.ColumnText(0)
				return nil
			}})
	})
	if err != nil {
		t.Fatalf("reading raw row: %v", err)
	}
	if raw == "" || strings.Contains(raw, "asha") {
		t.Fatalf("subject stored in the clear: %q", raw)
	}

	got, err := s.Actions.Get(ctx, "act_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Subject != action.Subject {
		t.Errorf("Subject = %+v, want %+v", got.Subject, action.Subject)
	}
}

func TestActionTransitionIsConditional(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Actions.Insert(ctx, schema.Action{
		ID: "act_t", ControllerKey: "olx", SubjectRef: "subj_1",
		Channel: schema.ChannelWebform, Status: schema.ActionDraft,
		CreatedAt: epoch, UpdatedAt: epoch,
	})

	next := epoch.Add(72 * time.Hour)
	ok, err := s.Actions.Transition(ctx, "act_t", ActionUpdate{
		Status:             schema.ActionSent,
		JobID:              "job_1",
		NextVerificationAt: next,
		UpdatedAt:          epoch,
	}, schema.ActionDraft)
	if err != nil || !ok {
		t.Fatalf("draft->sent = %v, %v", ok, err)
	}
	ok, _ = s.Actions.Transition(ctx, "act_t", ActionUpdate{Status: schema.ActionFailed, UpdatedAt: epoch}, schema.ActionDraft)
	if ok {
		t.Fatal("transition from wrong status applied")
	}

	got, _ := s.Actions.Get(ctx, "act_t")
	if got.Status != schema.ActionSent || got.JobID != "job_1" || !got.NextVerificationAt.Equal(next) {
		t.Errorf("action = %+v", got)
	}
	byJob, err := s.Actions.GetByJob(ctx, "job_1")
	if err != nil || byJob.ID != "act_t" {
		t.Errorf("GetByJob = %v, %v", byJob.ID, err)
	}

	due, err := s.Actions.Due(ctx, next.Add(-time.Second), 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("Due early = %d, %v", len(due), err)
	}
	due, _ = s.Actions.Due(ctx, next, 10)
	if len(due) != 1 {
		t.Fatalf("Due = %d, want 1", len(due))
	}
}

func TestLedgerCommitConsumesVerifications(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := range 3 {
		err := s.Verifications.Insert(ctx, schema.Verification{
			ID:            fmt.Sprintf("ver_%d", i),
			ActionID:      "act_1",
			SubjectRef:    "subj_1",
			ControllerRef: "truecaller",
			Confidence:    0.85,
			Evidence:      schema.Evidence{URL: "https://example.test", HTTPStatus: 200, HTMLHash: fmt.Sprintf("%064x", i+1)},
			CreatedAt:     epoch,
		})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	pending, err := s.Verifications.Uncommitted(ctx, "subj_1")
	if err != nil || len(pending) != 3 {
		t.Fatalf("Uncommitted = %d, %v", len(pending), err)
	}
	if pending[0].ID != "ver_0" || pending[0].Evidence.HTTPStatus != 200 {
		t.Errorf("pending[0] = %+v", pending[0])
	}

	record := schema.ProofLedgerRecord{
		ID:             "led_1",
		SubjectRef:     "subj_1",
		MerkleRoot:     "ab",
		Algorithm:      "ed25519",
		KeyID:          "ledger",
		Signature:      []byte{1, 2, 3},
		EvidenceCount:  2,
		EvidenceHashes: []string{"a", "b"},
		CreatedAt:      epoch,
	}
	if err := s.Ledger.Commit(ctx, record, []string{"ver_0", "ver_1"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	pending, _ = s.Verifications.Uncommitted(ctx, "subj_1")
	if len(pending) != 1 || pending[0].ID != "ver_2" {
		t.Fatalf("after commit Uncommitted = %+v", pending)
	}

	// Committing an already-consumed row rolls the whole entry back.
	second := record
	second.ID = "led_2"
	err = s.Ledger.Commit(ctx, second, []string{"ver_2", "ver_0"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("conflicting Commit error = %v, want ErrConflict", err)
	}
	if _, err := s.Ledger.Get(ctx, "led_2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rolled-back entry visible: %v", err)
	}
	pending, _ = s.Verifications.Uncommitted(ctx, "subj_1")
	if len(pending) != 1 {
		t.Errorf("rollback consumed ver_2")
	}

	stored, err := s.Ledger.Get(ctx, "led_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.EvidenceHashes) != 2 || stored.EvidenceHashes[1] != "b" || len(stored.Signature) != 3 {
		t.Errorf("stored = %+v", stored)
	}
	committed, _ := s.Verifications.ListByLedger(ctx, "led_1")
	if len(committed) != 2 {
		t.Errorf("ListByLedger = %d, want 2", len(committed))
	}
}

func TestReceiptUpsertKeepsLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Receipts.Get(ctx, "job_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get before Put error = %v", err)
	}
	s.Receipts.Put(ctx, schema.Receipt{JobID: "job_1", ActionID: "act_1", HTMLPath: "a", HTMLHash: "h1", CreatedAt: epoch})
	s.Receipts.Put(ctx, schema.Receipt{JobID: "job_1", ActionID: "act_1", HTMLPath: "b", HTMLHash: "h2", CreatedAt: epoch.Add(time.Hour)})
	receipt, err := s.Receipts.Get(ctx, "job_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if receipt.HTMLPath != "b" || receipt.HTMLHash != "h2" {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestDiscoveryBest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Discovery.Insert(ctx, schema.DiscoveredItem{ID: "d1", SubjectRef: "subj_1", ControllerKey: "spokeo", URL: "https://a", Confidence: 0.4, CreatedAt: epoch})
	s.Discovery.Insert(ctx, schema.DiscoveredItem{ID: "d2", SubjectRef: "subj_1", ControllerKey: "spokeo", URL: "https://b", Confidence: 0.9, CreatedAt: epoch})

	item, found, err := s.Discovery.Best(ctx, "subj_1", "spokeo")
	if err != nil || !found || item.URL != "https://b" {
		t.Fatalf("Best = %+v, %v, %v", item, found, err)
	}
	if _, found, _ := s.Discovery.Best(ctx, "subj_1", "olx"); found {
		t.Error("Best found an item for another controller")
	}
}
