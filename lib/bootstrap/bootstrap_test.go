// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/config"
	"github.com/bureau-foundation/erasure/lib/ledger"
	"github.com/bureau-foundation/erasure/lib/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.PathsConfig{
		Root:     root,
		Database: filepath.Join(root, "db", "erasure.db"),
		Blobs:    filepath.Join(root, "blobs"),
		Keys:     filepath.Join(root, "keys"),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func open(t *testing.T, cfg *config.Config) *Components {
	t.Helper()
	components, err := Open(context.Background(), cfg, Options{
		Clock:  clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger: testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { components.Close() })
	return components
}

func TestOpenWithoutSigningKeyIsVerifyOnly(t *testing.T) {
	cfg := testConfig(t)
	components := open(t, cfg)

	if components.Signer != nil {
		t.Fatalf("Signer = %v, want nil without key files", components.Signer)
	}
	if _, err := components.Ledger.Commit(context.Background(), "sub_1"); !errors.Is(err, ledger.ErrNoSigner) {
		t.Errorf("Commit = %v, want ErrNoSigner", err)
	}

	for _, name := range []string{SubjectIdentityFile, BlobKeyFile} {
		info, err := os.Stat(filepath.Join(cfg.Paths.Keys, name))
		if err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("%s mode = %v, want 0600", name, info.Mode().Perm())
		}
	}
	if !components.Blobs.Encrypted() {
		t.Error("blob store is not encrypted")
	}
}

func TestGenerateKeysThenOpenSigns(t *testing.T) {
	cfg := testConfig(t)

	first, err := GenerateKeys(cfg)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	if !first.SigningCreated || !first.BlobKeyCreated || first.SubjectRecipient == "" {
		t.Fatalf("first GenerateKeys = %+v, want everything created", first)
	}
	second, err := GenerateKeys(cfg)
	if err != nil {
		t.Fatalf("second GenerateKeys: %v", err)
	}
	if second.SigningCreated || second.BlobKeyCreated {
		t.Errorf("second GenerateKeys = %+v, want nothing created", second)
	}
	if second.SigningPublicKey != first.SigningPublicKey || second.SubjectRecipient != first.SubjectRecipient {
		t.Error("second GenerateKeys reported different keys")
	}

	components := open(t, cfg)
	if components.Signer == nil || components.Signer.KeyID() != cfg.Signing.KeyID {
		t.Fatalf("Signer = %v, want local key %q", components.Signer, cfg.Signing.KeyID)
	}
	if _, err := components.Ledger.Commit(context.Background(), "sub_1"); !errors.Is(err, ledger.ErrNoEvidence) {
		t.Errorf("Commit with no evidence = %v, want ErrNoEvidence", err)
	}
}

func TestAPIServesOverComponents(t *testing.T) {
	components := open(t, testConfig(t))
	api, err := components.API(clock.Real())
	if err != nil {
		t.Fatalf("API: %v", err)
	}
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	for _, path := range []string{"/healthz", "/v1/queue/stats", "/v1/breakers", "/v1/dlq"} {
		response, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		response.Body.Close()
		if response.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, response.StatusCode)
		}
	}
}

func TestOpenRejectsBadOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.Controllers.Overrides = filepath.Join(cfg.Paths.Root, "missing.jsonc")
	if _, err := Open(context.Background(), cfg, Options{Logger: testutil.Logger()}); err == nil {
		t.Fatal("Open with a missing overrides file succeeded")
	}
}
