// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/erasure/lib/sealed"
	"github.com/bureau-foundation/erasure/lib/sqlitepool"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a conditional write lost to a
// concurrent writer and the caller asked for all-or-nothing.
var ErrConflict = errors.New("store: concurrent modification")

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the SQLite database file. Its directory must exist.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	// Sealer redacts subject identifiers in the actions table.
	// Required.
	Sealer *sealed.Sealer

	Logger *slog.Logger
}

// Store owns the connection pool and the repositories built on it.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	Jobs          *JobStore
	Idempotency   *IdempotencyStore
	Breakers      *BreakerStore
	DeadLetters   *DeadLetterStore
	Actions       *ActionStore
	Verifications *VerificationStore
	Ledger        *LedgerStore
	Receipts      *ReceiptStore
	Discovery     *DiscoveryStore
}

// Open opens (creating if needed) the database at cfg.Path and
// migrates it to the current schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: Logger is required")
	}
	if cfg.Sealer == nil {
		return nil, fmt.Errorf("store: Sealer is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitepool.Migrate(conn, migrations)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	s := &Store{pool: pool, logger: cfg.Logger}
	s.Jobs = &JobStore{pool: pool}
	s.Idempotency = &IdempotencyStore{pool: pool}
	s.Breakers = &BreakerStore{pool: pool}
	s.DeadLetters = &DeadLetterStore{pool: pool}
	s.Actions = &ActionStore{pool: pool, sealer: cfg.Sealer}
	s.Verifications = &VerificationStore{pool: pool}
	s.Ledger = &LedgerStore{pool: pool}
	s.Receipts = &ReceiptStore{pool: pool}
	s.Discovery = &DiscoveryStore{pool: pool}
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// NewID returns a time-ordered unique id with a readable prefix.
func NewID(prefix string) string {
	return prefix + "_" + uuid.Must(uuid.NewV7()).String()
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(0, value).UTC()
}

func boolInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	length := stmt.ColumnLen(column)
	if length == 0 {
		return nil
	}
	buffer := make([]byte, length)
	stmt.ColumnBytes(column, buffer)
	return buffer
}
