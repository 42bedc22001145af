// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/erasure/lib/breaker"
	"github.com/bureau-foundation/erasure/lib/channel"
	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/controller"
	"github.com/bureau-foundation/erasure/lib/deadletter"
	"github.com/bureau-foundation/erasure/lib/idempotency"
	"github.com/bureau-foundation/erasure/lib/jobqueue"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/store"
	"github.com/bureau-foundation/erasure/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const initialDelay = 72 * time.Hour

// formServer stands in for controller privacy forms. It answers every
// post with the current status and counts posts.
type formServer struct {
	*httptest.Server
	status atomic.Int32
	posts  atomic.Int32
}

func newFormServer(t *testing.T) *formServer {
	t.Helper()
	server := &formServer{}
	server.status.Store(http.StatusOK)
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.posts.Add(1)
		w.WriteHeader(int(server.status.Load()))
	}))
	t.Cleanup(server.Close)
	return server
}

// failingEnqueuer rejects every enqueue.
type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, jobqueue.JobSpec) (string, error) {
	return "", fmt.Errorf("database is locked")
}

// switchableEnqueuer fails while broken is set and otherwise passes
// through to next.
type switchableEnqueuer struct {
	next   Enqueuer
	broken atomic.Bool
}

func (e *switchableEnqueuer) Enqueue(ctx context.Context, spec jobqueue.JobSpec) (string, error) {
	if e.broken.Load() {
		return "", fmt.Errorf("database is locked")
	}
	return e.next.Enqueue(ctx, spec)
}

type harness struct {
	t           *testing.T
	db          *store.Store
	clock       *clock.FakeClock
	forms       *formServer
	guard       *idempotency.Guard
	breaker     *breaker.Breaker
	queue       *jobqueue.Queue
	deadLetters *deadletter.Queue
	enqueue     *switchableEnqueuer
	dispatcher  *Dispatcher
	executor    *Executor
	pool        *jobqueue.Pool
}

type harnessOptions struct {
	maxAttempts int
	enqueuer    Enqueuer
}

func newHarness(t *testing.T, options harnessOptions) *harness {
	t.Helper()
	if options.maxAttempts == 0 {
		options.maxAttempts = 3
	}
	h := &harness{t: t, db: testutil.OpenStore(t), clock: clock.Fake(epoch), forms: newFormServer(t)}
	logger := testutil.Logger()

	controllers, err := controller.Parse(fmt.Appendf(nil, `{
		// Point the webform controllers at the test server.
		"olx": {"form_url": %[1]q},
		"truecaller": {"form_url": %[1]q},
		"spokeo": {"form_url": %[1]q},
	}`, h.forms.URL+"/form"))
	if err != nil {
		t.Fatalf("controller.Parse: %v", err)
	}

	h.guard, err = idempotency.NewGuard(idempotency.Config{
		Store:  h.db.Idempotency,
		Clock:  h.clock,
		TTL:    30 * 24 * time.Hour,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	h.breaker, err = breaker.New(breaker.Config{
		Store:       h.db.Breakers,
		Clock:       h.clock,
		Controllers: controllers,
		Threshold:   5,
		Window:      10 * time.Minute,
		CoolDown:    5 * time.Minute,
		MaxCoolDown: 2 * time.Hour,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("breaker.New: %v", err)
	}
	h.queue, err = jobqueue.New(jobqueue.Config{
		Store:       h.db.Jobs,
		Clock:       h.clock,
		MaxAttempts: options.maxAttempts,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("jobqueue.New: %v", err)
	}
	h.deadLetters, err = deadletter.New(deadletter.Config{Store: h.db.DeadLetters, Clock: h.clock, Logger: logger})
	if err != nil {
		t.Fatalf("deadletter.New: %v", err)
	}

	h.enqueue = &switchableEnqueuer{next: h.queue}
	var enqueuer Enqueuer = h.enqueue
	if options.enqueuer != nil {
		enqueuer = options.enqueuer
	}
	h.dispatcher, err = New(Config{
		Guard:        h.guard,
		Breaker:      h.breaker,
		Queue:        enqueuer,
		Actions:      h.db.Actions,
		DeadLetters:  h.deadLetters,
		Controllers:  controllers,
		Clock:        h.clock,
		InitialDelay: initialDelay,
		BatchSize:    2,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	webform, err := channel.NewWebform(channel.WebformConfig{Timeout: 2 * time.Second, Logger: logger})
	if err != nil {
		t.Fatalf("NewWebform: %v", err)
	}
	h.executor, err = NewExecutor(ExecutorConfig{
		Controllers: controllers,
		Transports: channel.NewRouter(map[schema.Channel]channel.Transport{
			schema.ChannelWebform: webform,
			schema.ChannelNoop:    channel.Noop{},
		}),
		Breaker: h.breaker,
		Actions: h.db.Actions,
		Clock:   h.clock,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	h.pool, err = jobqueue.NewPool(jobqueue.PoolConfig{
		Queue:        h.queue,
		Executor:     h.executor,
		Clock:        h.clock,
		Workers:      1,
		PollInterval: time.Second,
		JobTimeout:   5 * time.Second,
		OnTerminal:   h.dispatcher.HandleTerminal,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return h
}

func (h *harness) dispatch(request schema.DispatchRequest) (schema.DispatchResponse, error) {
	h.t.Helper()
	return h.dispatcher.Dispatch(context.Background(), request)
}

// runJobs drains the queue through the worker pool, one job at a time.
func (h *harness) runJobs() int {
	h.t.Helper()
	ran := 0
	for {
		processed, err := h.pool.RunOnce(context.Background(), "worker-0")
		if err != nil {
			h.t.Fatalf("RunOnce: %v", err)
		}
		if !processed {
			return ran
		}
		ran++
		if ran > 100 {
			h.t.Fatal("queue did not drain")
		}
	}
}

func (h *harness) stats() schema.JobStats {
	h.t.Helper()
	stats, err := h.queue.Stats(context.Background())
	if err != nil {
		h.t.Fatalf("Stats: %v", err)
	}
	return stats
}

func (h *harness) deadLetterCount() int {
	h.t.Helper()
	entries, err := h.deadLetters.List(context.Background(), deadletter.Filter{})
	if err != nil {
		h.t.Fatalf("List dead letters: %v", err)
	}
	return len(entries)
}

func (h *harness) action(id string) schema.Action {
	h.t.Helper()
	action, err := h.db.Actions.Get(context.Background(), id)
	if err != nil {
		h.t.Fatalf("Get action %s: %v", id, err)
	}
	return action
}

func request(controllerKey, email string) schema.DispatchRequest {
	return schema.DispatchRequest{
		ControllerKey: controllerKey,
		Subject:       schema.Subject{Name: "Asha Rao", Email: email},
	}
}
