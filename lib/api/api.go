// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/deadletter"
	"github.com/bureau-foundation/erasure/lib/ledger"
	"github.com/bureau-foundation/erasure/lib/receipt"
	"github.com/bureau-foundation/erasure/lib/schema"
)

// maxBodyBytes bounds request bodies. Bundles are the largest.
const maxBodyBytes = 4 << 20

// Dispatcher accepts dispatch requests. *dispatch.Dispatcher
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, request schema.DispatchRequest) (schema.DispatchResponse, error)
	DispatchBatch(ctx context.Context, requests []schema.DispatchRequest) ([]schema.DispatchResponse, error)
	Escalate(ctx context.Context, actionID string) (schema.DispatchResponse, error)
}

// DeadLetters reads and purges DLQ entries. *deadletter.Queue
// implements it.
type DeadLetters interface {
	Get(ctx context.Context, id string) (schema.DeadLetterEntry, error)
	List(ctx context.Context, filter deadletter.Filter) ([]schema.DeadLetterEntry, error)
	Purge(ctx context.Context, id, reason string) error
}

// Retrier re-dispatches DLQ entries. *deadletter.Retrier implements it.
type Retrier interface {
	Retry(ctx context.Context, id string) (schema.DispatchResponse, error)
}

// Breakers exposes circuit state. *breaker.Breaker implements it.
type Breakers interface {
	Snapshot(ctx context.Context) ([]schema.CircuitState, error)
	Reset(ctx context.Context, key string) error
}

// Jobs reports queue depth. *jobqueue.Queue implements it.
type Jobs interface {
	Stats(ctx context.Context) (schema.JobStats, error)
}

// Ledger commits and verifies proofs. *ledger.Ledger implements it.
type Ledger interface {
	Commit(ctx context.Context, subjectRef string) (schema.ProofLedgerRecord, error)
	Get(ctx context.Context, id string) (schema.ProofLedgerRecord, error)
	VerifyID(ctx context.Context, id string) (schema.ProofLedgerRecord, error)
	ExportBundle(ctx context.Context, id string) ([]byte, error)
	VerifyBundle(ctx context.Context, data []byte) (ledger.Manifest, error)
}

// Receipts re-checks job evidence. *receipt.Verifier implements it.
type Receipts interface {
	VerifyReceipt(ctx context.Context, jobID string) (receipt.Result, error)
}

// Discovery records where a subject's data was found. The sweeper
// checks those URLs first. *store.DiscoveryStore implements it.
type Discovery interface {
	Insert(ctx context.Context, item schema.DiscoveredItem) error
}

// Config holds the API's collaborators.
type Config struct {
	Dispatcher  Dispatcher
	DeadLetters DeadLetters
	Retrier     Retrier
	Breakers    Breakers
	Jobs        Jobs
	Ledger      Ledger
	Receipts    Receipts

	// Discovery enables POST /v1/discovery. Optional.
	Discovery Discovery

	// Clock stamps discovered items. Defaults to the real clock.
	Clock clock.Clock

	// CORSOrigins are allowed to call the /public routes. Empty
	// allows any origin; the public routes expose no private data.
	CORSOrigins []string

	Logger *slog.Logger
}

// API holds the handlers.
type API struct {
	config Config
	logger *slog.Logger
}

// New validates cfg and returns an API.
func New(cfg Config) (*API, error) {
	if cfg.Dispatcher == nil || cfg.DeadLetters == nil || cfg.Retrier == nil {
		return nil, errors.New("api: Dispatcher, DeadLetters and Retrier are required")
	}
	if cfg.Breakers == nil || cfg.Jobs == nil {
		return nil, errors.New("api: Breakers and Jobs are required")
	}
	if cfg.Ledger == nil || cfg.Receipts == nil {
		return nil, errors.New("api: Ledger and Receipts are required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("api: Logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &API{config: cfg, logger: cfg.Logger}, nil
}

// Handler returns the router.
func (a *API) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(a.logRequests)
	router.Get("/healthz", handleHealth)

	router.Route("/v1", func(r chi.Router) {
		r.Post("/dispatch", a.handleDispatch)
		r.Post("/dispatch/batch", a.handleDispatchBatch)
		r.Post("/actions/{id}/escalate", a.handleEscalate)

		r.Get("/dlq", a.handleListDeadLetters)
		r.Get("/dlq/{id}", a.handleGetDeadLetter)
		r.Post("/dlq/{id}/retry", a.handleRetryDeadLetter)
		r.Delete("/dlq/{id}", a.handlePurgeDeadLetter)

		r.Get("/breakers", a.handleListBreakers)
		r.Delete("/breakers/{key}", a.handleResetBreaker)

		r.Get("/queue/stats", a.handleQueueStats)

		r.Post("/ledger/{subject}/commit", a.handleLedgerCommit)
		r.Get("/ledger/{id}", a.handleLedgerGet)
		r.Get("/ledger/{id}/bundle", a.handleLedgerBundle)

		r.Get("/receipts/{job}/verify", a.handleReceiptVerify)

		if a.config.Discovery != nil {
			r.Post("/discovery", a.handleDiscovery)
		}
	})

	router.Route("/public", func(r chi.Router) {
		origins := a.config.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/verify/{id}", a.handlePublicVerify)
		r.Post("/verify/bundle", a.handlePublicVerifyBundle)
	})
	return router
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := a.config.Clock.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(recorder, r)
		a.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", a.config.Clock.Now().Sub(start),
		)
	})
}
