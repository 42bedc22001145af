// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/digest"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/signing"
	"github.com/bureau-foundation/erasure/lib/store"
	"github.com/bureau-foundation/erasure/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type ledgerHarness struct {
	t      *testing.T
	db     *store.Store
	keyDir string
	ledger *Ledger
}

func newLedgerHarness(t *testing.T, algorithm signing.Algorithm) *ledgerHarness {
	t.Helper()
	keyDir := t.TempDir()
	if _, err := signing.GenerateKeyFiles(keyDir, "ledger-1", algorithm); err != nil {
		t.Fatalf("GenerateKeyFiles: %v", err)
	}
	signer, err := signing.OpenLocal(keyDir, "ledger-1", algorithm)
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	t.Cleanup(func() { signer.Close() })

	db := testutil.OpenStore(t)
	ledger, err := New(Config{
		Verifications: db.Verifications,
		Records:       db.Ledger,
		Keys:          signing.NewKeyring(keyDir, nil),
		Signer:        signer,
		Clock:         clock.Fake(epoch),
		Logger:        testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &ledgerHarness{t: t, db: db, keyDir: keyDir, ledger: ledger}
}

// observe records a verification for subjectRef with the given
// artifacts and returns their digests.
func (h *ledgerHarness) observe(subjectRef string, html, screenshot string) (string, string) {
	h.t.Helper()
	evidence := schema.Evidence{URL: "https://controller.example/listing", HTTPStatus: 410}
	if html != "" {
		evidence.HTMLHash = digest.Content([]byte(html))
	}
	if screenshot != "" {
		evidence.ScreenshotHash = digest.Content([]byte(screenshot))
	}
	err := h.db.Verifications.Insert(context.Background(), schema.Verification{
		ID:            store.NewID("ver"),
		ActionID:      "act_" + subjectRef,
		SubjectRef:    subjectRef,
		ControllerRef: "spokeo",
		Confidence:    0.95,
		Evidence:      evidence,
		CreatedAt:     epoch,
	})
	if err != nil {
		h.t.Fatalf("Insert verification: %v", err)
	}
	return evidence.HTMLHash, evidence.ScreenshotHash
}

func (h *ledgerHarness) commit(subjectRef string) schema.ProofLedgerRecord {
	h.t.Helper()
	record, err := h.ledger.Commit(context.Background(), subjectRef)
	if err != nil {
		h.t.Fatalf("Commit(%s): %v", subjectRef, err)
	}
	return record
}

func TestCommitAndVerify(t *testing.T) {
	for _, algorithm := range []signing.Algorithm{signing.Ed25519, signing.RSAPSSSHA256} {
		t.Run(string(algorithm), func(t *testing.T) {
			ctx := context.Background()
			h := newLedgerHarness(t, algorithm)
			htmlHash, screenshotHash := h.observe("subj_1", "<html>gone</html>", "png-bytes")
			h.observe("subj_1", "<html>gone</html>", "")
			h.observe("subj_2", "<html>other subject</html>", "")

			record := h.commit("subj_1")
			if record.Algorithm != string(algorithm) || record.KeyID != "ledger-1" {
				t.Errorf("record algorithm=%s key_id=%s", record.Algorithm, record.KeyID)
			}
			if record.EvidenceCount != 2 {
				t.Errorf("EvidenceCount = %d, want 2 (duplicate HTML digest folded)", record.EvidenceCount)
			}
			want, _ := digest.LedgerRoot([]string{screenshotHash, htmlHash})
			if record.MerkleRoot != digest.FormatHash(want) {
				t.Errorf("MerkleRoot = %s, want %s", record.MerkleRoot, digest.FormatHash(want))
			}

			stored, err := h.ledger.Get(ctx, record.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if err := h.ledger.Verify(ctx, stored); err != nil {
				t.Errorf("Verify: %v", err)
			}
			if err := h.ledger.VerifyFull(ctx, stored); err != nil {
				t.Errorf("VerifyFull: %v", err)
			}

			// The other subject's evidence is untouched.
			rows, err := h.db.Verifications.Uncommitted(ctx, "subj_2")
			if err != nil || len(rows) != 1 {
				t.Errorf("subj_2 uncommitted = %d rows, err %v", len(rows), err)
			}
		})
	}
}

func TestCommitOnlyNewEvidence(t *testing.T) {
	ctx := context.Background()
	h := newLedgerHarness(t, signing.Ed25519)
	h.observe("subj_1", "<html>first</html>", "")
	first := h.commit("subj_1")

	if _, err := h.ledger.Commit(ctx, "subj_1"); !errors.Is(err, ErrNoEvidence) {
		t.Fatalf("second Commit error = %v, want ErrNoEvidence", err)
	}

	secondHash, _ := h.observe("subj_1", "<html>second</html>", "")
	second := h.commit("subj_1")
	if second.EvidenceCount != 1 || !slices.Equal(second.EvidenceHashes, []string{secondHash}) {
		t.Errorf("second record hashes = %v", second.EvidenceHashes)
	}
	if second.MerkleRoot == first.MerkleRoot {
		t.Error("second record repeats the first root")
	}

	records, err := h.ledger.List(ctx, "subj_1")
	if err != nil || len(records) != 2 {
		t.Fatalf("List = %d records, err %v", len(records), err)
	}
	for _, record := range records {
		if err := h.ledger.VerifyFull(ctx, record); err != nil {
			t.Errorf("VerifyFull(%s): %v", record.ID, err)
		}
	}
}

func TestCommitWithoutDigests(t *testing.T) {
	h := newLedgerHarness(t, signing.Ed25519)
	h.observe("subj_1", "", "")
	if _, err := h.ledger.Commit(context.Background(), "subj_1"); !errors.Is(err, ErrNoEvidence) {
		t.Errorf("Commit error = %v, want ErrNoEvidence", err)
	}
	if _, err := h.ledger.Commit(context.Background(), "subj_unknown"); !errors.Is(err, ErrNoEvidence) {
		t.Errorf("Commit of unknown subject error = %v, want ErrNoEvidence", err)
	}
}

func TestRootIsOrderInvariant(t *testing.T) {
	h := newLedgerHarness(t, signing.Ed25519)
	pages := []string{"<p>a</p>", "<p>b</p>", "<p>c</p>", "<p>d</p>", "<p>e</p>"}
	for _, page := range pages {
		h.observe("forward", page, "")
	}
	for i := len(pages) - 1; i >= 0; i-- {
		h.observe("reverse", pages[i], "")
		h.observe("reverse", pages[i], "")
	}
	forward := h.commit("forward")
	reverse := h.commit("reverse")
	if forward.MerkleRoot != reverse.MerkleRoot {
		t.Errorf("roots differ: %s vs %s", forward.MerkleRoot, reverse.MerkleRoot)
	}

	h.observe("changed", "<p>a</p>", "")
	h.observe("changed", "<p>b</p>", "")
	h.observe("changed", "<p>c</p>", "")
	h.observe("changed", "<p>d</p>", "")
	h.observe("changed", "<p>E</p>", "")
	if changed := h.commit("changed"); changed.MerkleRoot == forward.MerkleRoot {
		t.Error("changing one artifact did not change the root")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	ctx := context.Background()
	h := newLedgerHarness(t, signing.Ed25519)
	h.observe("subj_1", "<html>gone</html>", "png")
	record := h.commit("subj_1")

	flipped := record
	flipped.Signature = slices.Clone(record.Signature)
	flipped.Signature[0] ^= 0x01
	if err := h.ledger.Verify(ctx, flipped); !errors.Is(err, signing.ErrSignatureInvalid) {
		t.Errorf("flipped signature: %v, want ErrSignatureInvalid", err)
	}

	otherRoot := record
	root, _ := digest.ParseHash(record.MerkleRoot)
	root[31] ^= 0x80
	otherRoot.MerkleRoot = digest.FormatHash(root)
	if err := h.ledger.Verify(ctx, otherRoot); !errors.Is(err, signing.ErrSignatureInvalid) {
		t.Errorf("altered root: %v, want ErrSignatureInvalid", err)
	}

	extraDigest := record
	extraDigest.EvidenceHashes = append(slices.Clone(record.EvidenceHashes), digest.Content([]byte("injected")))
	extraDigest.EvidenceCount++
	if err := h.ledger.VerifyFull(ctx, extraDigest); !errors.Is(err, ErrRootMismatch) {
		t.Errorf("injected digest: %v, want ErrRootMismatch", err)
	}

	unsupported := record
	unsupported.Algorithm = "ecdsa-p256"
	if err := h.ledger.Verify(ctx, unsupported); !errors.Is(err, signing.ErrUnsupportedAlgorithm) {
		t.Errorf("unsupported algorithm: %v", err)
	}

	unknownKey := record
	unknownKey.KeyID = "ledger-2"
	if err := h.ledger.Verify(ctx, unknownKey); !errors.Is(err, signing.ErrMissingKeyMaterial) {
		t.Errorf("unknown key: %v, want ErrMissingKeyMaterial", err)
	}
}

func TestVerifyOnlyLedgerCannotCommit(t *testing.T) {
	db := testutil.OpenStore(t)
	ledger, err := New(Config{
		Verifications: db.Verifications,
		Records:       db.Ledger,
		Keys:          signing.NewKeyring(t.TempDir(), nil),
		Clock:         clock.Fake(epoch),
		Logger:        testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := ledger.Commit(context.Background(), "subj_1"); !errors.Is(err, ErrNoSigner) {
		t.Errorf("Commit error = %v, want ErrNoSigner", err)
	}
	if _, err := ledger.ExportBundle(context.Background(), "led_1"); !errors.Is(err, ErrNoSigner) {
		t.Errorf("ExportBundle error = %v, want ErrNoSigner", err)
	}
}

func TestBundleRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newLedgerHarness(t, signing.RSAPSSSHA256)
	h.observe("subj_1", "<html>gone</html>", "png")
	h.observe("subj_1", "<html>still gone</html>", "")
	record := h.commit("subj_1")

	data, err := h.ledger.ExportBundle(ctx, record.ID)
	if err != nil {
		t.Fatalf("ExportBundle: %v", err)
	}

	// A verifier holding only the public key file.
	keys := signing.NewKeyring(h.keyDir, nil)
	manifest, err := VerifyBundle(ctx, keys, data)
	if err != nil {
		t.Fatalf("VerifyBundle: %v", err)
	}
	if manifest.RecordID != record.ID || manifest.MerkleRoot != record.MerkleRoot || manifest.EvidenceCount != 3 {
		t.Errorf("manifest = %+v", manifest)
	}
	if !manifest.CreatedAt.Equal(epoch) {
		t.Errorf("manifest CreatedAt = %v", manifest.CreatedAt)
	}

	tamper := func(edit func(*Bundle, *Manifest)) []byte {
		var bundle Bundle
		if err := codec.Unmarshal(data, &bundle); err != nil {
			t.Fatalf("Unmarshal bundle: %v", err)
		}
		var manifest Manifest
		if err := codec.Unmarshal(bundle.Manifest, &manifest); err != nil {
			t.Fatalf("Unmarshal manifest: %v", err)
		}
		edit(&bundle, &manifest)
		encodedManifest, err := codec.Marshal(manifest)
		if err != nil {
			t.Fatalf("Marshal manifest: %v", err)
		}
		bundle.Manifest = encodedManifest
		encoded, err := codec.Marshal(bundle)
		if err != nil {
			t.Fatalf("Marshal bundle: %v", err)
		}
		return encoded
	}

	// Re-encoding an untouched manifest reproduces the signed bytes.
	if _, err := VerifyBundle(ctx, keys, tamper(func(*Bundle, *Manifest) {})); err != nil {
		t.Fatalf("re-encoded bundle: %v", err)
	}

	swappedPack := tamper(func(b *Bundle, _ *Manifest) {
		pack, _ := codec.Marshal([]string{digest.Content([]byte("forged"))})
		b.Pack = pack
	})
	if _, err := h.ledger.VerifyBundle(ctx, swappedPack); !errors.Is(err, ErrPackDigest) {
		t.Errorf("swapped pack: %v, want ErrPackDigest", err)
	}

	// Pack and digest replaced consistently: the root no longer
	// matches.
	repacked := tamper(func(b *Bundle, m *Manifest) {
		pack, _ := codec.Marshal([]string{digest.Content([]byte("forged"))})
		b.Pack = pack
		m.PackDigest = digest.Content(pack)
		m.EvidenceCount = 1
	})
	if _, err := h.ledger.VerifyBundle(ctx, repacked); !errors.Is(err, ErrRootMismatch) {
		t.Errorf("repacked bundle: %v, want ErrRootMismatch", err)
	}

	badSignature := tamper(func(b *Bundle, _ *Manifest) {
		b.Signature[len(b.Signature)-1] ^= 0x01
	})
	if _, err := h.ledger.VerifyBundle(ctx, badSignature); !errors.Is(err, signing.ErrSignatureInvalid) {
		t.Errorf("bad signature: %v, want ErrSignatureInvalid", err)
	}

	// The root and pack still agree, so only the manifest signature
	// catches a record relabelled to another subject or time.
	for name, edit := range map[string]func(*Manifest){
		"subject_ref": func(m *Manifest) { m.SubjectRef = "subj_2" },
		"record_id":   func(m *Manifest) { m.RecordID = "led_other" },
		"created_at":  func(m *Manifest) { m.CreatedAt = m.CreatedAt.Add(-24 * time.Hour) },
	} {
		relabelled := tamper(func(_ *Bundle, m *Manifest) { edit(m) })
		manifest, err := VerifyBundle(ctx, keys, relabelled)
		if !errors.Is(err, ErrManifestSignature) || !errors.Is(err, signing.ErrSignatureInvalid) {
			t.Errorf("relabelled %s: %v, want ErrManifestSignature", name, err)
		}
		if manifest.RecordID == "" {
			t.Errorf("relabelled %s: manifest not returned", name)
		}
	}

	unknownExporter := tamper(func(b *Bundle, _ *Manifest) { b.ManifestKeyID = "ledger-9" })
	if _, err := VerifyBundle(ctx, keys, unknownExporter); !errors.Is(err, signing.ErrMissingKeyMaterial) || errors.Is(err, ErrManifestSignature) {
		t.Errorf("unknown manifest key: %v, want ErrMissingKeyMaterial", err)
	}

	if _, err := h.ledger.VerifyBundle(ctx, []byte("not cbor")); err == nil {
		t.Error("garbage bundle verified")
	}
}

func TestVerifyID(t *testing.T) {
	ctx := context.Background()
	h := newLedgerHarness(t, signing.Ed25519)
	h.observe("subj_1", "<html>gone</html>", "")
	record := h.commit("subj_1")

	got, err := h.ledger.VerifyID(ctx, record.ID)
	if err != nil || got.ID != record.ID {
		t.Errorf("VerifyID = %s, %v", got.ID, err)
	}
	if _, err := h.ledger.VerifyID(ctx, "led_missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("VerifyID(missing) = %v, want store.ErrNotFound", err)
	}
}
