// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/erasure/lib/blobstore"
	"github.com/bureau-foundation/erasure/lib/sealed"
	"github.com/bureau-foundation/erasure/lib/store"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenStore opens a fresh store under t.TempDir. It is closed when
// the test ends.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	identity, err := sealed.GenerateIdentity()
	if err != nil {
		t.Fatalf("generating sealing identity: %v", err)
	}
	sealer, err := sealed.NewSealer(identity)
	if err != nil {
		t.Fatalf("creating sealer: %v", err)
	}
	db, err := store.Open(store.Config{
		Path:     filepath.Join(t.TempDir(), "erasure.db"),
		PoolSize: 8,
		Sealer:   sealer,
		Logger:   Logger(),
	})
	if err != nil {
		sealer.Close()
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		sealer.Close()
	})
	return db
}

// OpenBlobs opens an encrypted blob store under t.TempDir with a fresh
// master key.
func OpenBlobs(t *testing.T) *blobstore.Store {
	t.Helper()
	directory := t.TempDir()
	keyPath := filepath.Join(directory, "blob.key")
	if err := blobstore.GenerateKeyFile(keyPath); err != nil {
		t.Fatalf("generating blob key: %v", err)
	}
	masterKey, err := blobstore.LoadKeyFile(keyPath)
	if err != nil {
		t.Fatalf("loading blob key: %v", err)
	}
	blobs, err := blobstore.Open(blobstore.Config{
		Root:      filepath.Join(directory, "blobs"),
		MasterKey: masterKey,
		Logger:    Logger(),
	})
	if err != nil {
		masterKey.Close()
		t.Fatalf("opening blob store: %v", err)
	}
	t.Cleanup(func() { blobs.Close() })
	return blobs
}
