// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

func evidenceSet(count int) []string {
	set := make([]string, count)
	for i := range set {
		set[i] = Content([]byte{byte(i), 'e', 'v'})
	}
	return set
}

func TestContentIsSHA256Hex(t *testing.T) {
	// SHA-256 of the empty string.
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Content(nil); got != want {
		t.Errorf("Content(nil) = %s, want %s", got, want)
	}
}

func TestLedgerRootPermutationInvariant(t *testing.T) {
	base := evidenceSet(7)
	want, err := LedgerRoot(base)
	if err != nil {
		t.Fatalf("LedgerRoot: %v", err)
	}

	random := rand.New(rand.NewPCG(1, 2))
	for trial := range 20 {
		shuffled := append([]string(nil), base...)
		random.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		got, err := LedgerRoot(shuffled)
		if err != nil {
			t.Fatalf("trial %d: LedgerRoot: %v", trial, err)
		}
		if got != want {
			t.Fatalf("trial %d: root changed under permutation", trial)
		}
	}
}

func TestLedgerRootIgnoresDuplicatesAndCase(t *testing.T) {
	base := evidenceSet(3)
	want, err := LedgerRoot(base)
	if err != nil {
		t.Fatalf("LedgerRoot: %v", err)
	}
	noisy := append([]string{strings.ToUpper(base[1])}, base...)
	noisy = append(noisy, base[0])
	got, err := LedgerRoot(noisy)
	if err != nil {
		t.Fatalf("LedgerRoot: %v", err)
	}
	if got != want {
		t.Error("duplicates or upper-case hex changed the root")
	}
}

func TestLedgerRootSensitiveToEveryElement(t *testing.T) {
	base := evidenceSet(5)
	want, err := LedgerRoot(base)
	if err != nil {
		t.Fatalf("LedgerRoot: %v", err)
	}
	for i := range base {
		changed := append([]string(nil), base...)
		changed[i] = Content([]byte("replacement"))
		got, err := LedgerRoot(changed)
		if err != nil {
			t.Fatalf("LedgerRoot: %v", err)
		}
		if got == want {
			t.Errorf("replacing element %d did not change the root", i)
		}
	}
}

func TestLedgerRootSingleElementIsNotTheLeaf(t *testing.T) {
	leaf := Content([]byte("only"))
	root, err := LedgerRoot([]string{leaf})
	if err != nil {
		t.Fatalf("LedgerRoot: %v", err)
	}
	if FormatHash(root) == leaf {
		t.Error("single-element root equals the evidence digest")
	}
}

func TestLedgerRootErrors(t *testing.T) {
	if _, err := LedgerRoot(nil); !errors.Is(err, ErrEmptySet) {
		t.Errorf("LedgerRoot(nil) = %v, want ErrEmptySet", err)
	}
	if _, err := LedgerRoot([]string{"abc"}); err == nil {
		t.Error("LedgerRoot accepted a short digest")
	}
}

func TestMerkleRootOddNodePromoted(t *testing.T) {
	a, b, c := Blob([]byte("a")), Blob([]byte("b")), Blob([]byte("c"))
	three := MerkleRoot(LedgerNodeDomain, []Hash{a, b, c})
	four := MerkleRoot(LedgerNodeDomain, []Hash{a, b, c, c})
	if three == four {
		t.Error("odd node was duplicated instead of promoted")
	}
	ab := MerkleRoot(LedgerNodeDomain, []Hash{a, b})
	if want := MerkleRoot(LedgerNodeDomain, []Hash{ab, c}); three != want {
		t.Error("three-leaf root is not hash(hash(a,b), c)")
	}
}

func TestFingerprintLengthPrefixed(t *testing.T) {
	if Fingerprint(IdempotencyDomain, "ab", "c") == Fingerprint(IdempotencyDomain, "a", "bc") {
		t.Error("field boundaries are ambiguous")
	}
	if Fingerprint(IdempotencyDomain, "x") == Fingerprint(BlobDomain, "x") {
		t.Error("domains are not separated")
	}
}

func TestParseHashRoundTrip(t *testing.T) {
	hash := Blob([]byte("artifact"))
	parsed, err := ParseHash(FormatHash(hash))
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != hash {
		t.Error("round trip changed the hash")
	}
}
