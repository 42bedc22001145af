// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/sqlitepool"
)

// LedgerStore persists signed proof records.
type LedgerStore struct {
	pool *sqlitepool.Pool
}

const ledgerColumns = `id, subject_ref, merkle_root, algorithm, key_id, signature,
	evidence_count, evidence_hashes, created_at`

func scanLedger(stmt *sqlite.Stmt) (schema.ProofLedgerRecord, error) {
	record := schema.ProofLedgerRecord{
		ID:            stmt.ColumnText(0),
		SubjectRef:    stmt.ColumnText(1),
		MerkleRoot:    stmt.ColumnText(2),
		Algorithm:     stmt.ColumnText(3),
		KeyID:         stmt.ColumnText(4),
		Signature:     columnBlob(stmt, 5),
		EvidenceCount: stmt.ColumnInt(6),
		CreatedAt:     fromNanos(stmt.ColumnInt64(8)),
	}
	if err := codec.Unmarshal(columnBlob(stmt, 7), &record.EvidenceHashes); err != nil {
		return record, fmt.Errorf("store: ledger %s evidence hashes: %w", record.ID, err)
	}
	return record, nil
}

// Commit inserts record and marks every verification in
// verificationIDs as committed by it, in one transaction. If any of
// those rows is missing or already committed the transaction rolls
// back and Commit returns ErrConflict.
func (s *LedgerStore) Commit(ctx context.Context, record schema.ProofLedgerRecord, verificationIDs []string) error {
	hashes, err := codec.Marshal(record.EvidenceHashes)
	if err != nil {
		return fmt.Errorf("store: encoding evidence hashes: %w", err)
	}
	err = s.pool.Do(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)

		err = sqlitex.Execute(conn, `
			INSERT INTO ledger (id, subject_ref, merkle_root, algorithm, key_id, signature,
				evidence_count, evidence_hashes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				record.ID, record.SubjectRef, record.MerkleRoot, record.Algorithm,
				record.KeyID, record.Signature, record.EvidenceCount, hashes,
				nanos(record.CreatedAt),
			}})
		if err != nil {
			return err
		}
		for _, id := range verificationIDs {
			err = sqlitex.Execute(conn, `
				UPDATE verifications SET ledger_id = ?
				WHERE id = ? AND subject_ref = ? AND ledger_id = ''`,
				&sqlitex.ExecOptions{Args: []any{record.ID, id, record.SubjectRef}})
			if err != nil {
				return err
			}
			if conn.Changes() != 1 {
				return fmt.Errorf("verification %s: %w", id, ErrConflict)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: committing ledger entry: %w", err)
	}
	return nil
}

// Get returns the record with id or ErrNotFound.
func (s *LedgerStore) Get(ctx context.Context, id string) (schema.ProofLedgerRecord, error) {
	records, err := s.query(ctx, `SELECT `+ledgerColumns+` FROM ledger WHERE id = ?`, id)
	if err != nil {
		return schema.ProofLedgerRecord{}, err
	}
	if len(records) == 0 {
		return schema.ProofLedgerRecord{}, fmt.Errorf("ledger entry %s: %w", id, ErrNotFound)
	}
	return records[0], nil
}

// ListBySubject returns the records for a subject oldest first.
func (s *LedgerStore) ListBySubject(ctx context.Context, subjectRef string) ([]schema.ProofLedgerRecord, error) {
	return s.query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger
		WHERE subject_ref = ? ORDER BY created_at, id`, subjectRef)
}

func (s *LedgerStore) query(ctx context.Context, query string, args ...any) ([]schema.ProofLedgerRecord, error) {
	var records []schema.ProofLedgerRecord
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanLedger(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: querying ledger: %w", err)
	}
	return records, nil
}
