// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// DomainKey is a 32-byte BLAKE3 key. The bytes are the ASCII domain
// name, zero-padded. Changing a key invalidates every hash in its
// domain.
type DomainKey [32]byte

var (
	// LedgerNodeDomain hashes interior Merkle nodes.
	LedgerNodeDomain = domainKey("erasure.ledger.node")

	// LedgerRootDomain finalizes a Merkle root, so a lone evidence
	// digest is never itself a valid ledger root.
	LedgerRootDomain = domainKey("erasure.ledger.root")

	// BlobDomain addresses artifact bytes in the blob store.
	BlobDomain = domainKey("erasure.blob")

	// IdempotencyDomain derives dispatch idempotency keys.
	IdempotencyDomain = domainKey("erasure.idempotency")
)

// ErrEmptySet is returned by LedgerRoot when there is nothing to fold.
var ErrEmptySet = errors.New("digest: empty evidence set")

func domainKey(name string) DomainKey {
	if len(name) > 32 {
		panic("digest: domain name longer than 32 bytes: " + name)
	}
	var key DomainKey
	copy(key[:], name)
	return key
}

// Content returns the lowercase hex SHA-256 of data.
func Content(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Keyed returns the BLAKE3 keyed hash of data under key.
func Keyed(key DomainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// Blob is the blob-store address of data.
func Blob(data []byte) Hash {
	return Keyed(BlobDomain, data)
}

// Fingerprint hashes fields under key. Each field is length-prefixed,
// so ("ab", "c") and ("a", "bc") produce different fingerprints.
func Fingerprint(key DomainKey, fields ...string) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var length [8]byte
	for _, field := range fields {
		binary.BigEndian.PutUint64(length[:], uint64(len(field)))
		hasher.Write(length[:])
		hasher.Write([]byte(field))
	}
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// MerkleRoot folds hashes into a binary tree. Adjacent pairs are
// concatenated and hashed under key. An odd node at the end of a level
// moves up unchanged; duplicating it would let two different sets
// share a root. Panics on an empty slice. The caller's slice is not
// modified.
func MerkleRoot(key DomainKey, hashes []Hash) Hash {
	if len(hashes) == 0 {
		panic("digest.MerkleRoot: empty hash list")
	}

	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var pair [64]byte

	level := slices.Clone(hashes)
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			copy(pair[:32], level[i][:])
			copy(pair[32:], level[i+1][:])
			hasher.Reset()
			hasher.Write(pair[:])
			var node Hash
			copy(node[:], hasher.Sum(nil))
			next = append(next, node)
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

// CanonicalSet normalizes hex content digests for a ledger commit:
// lowercased, validated as 32-byte SHA-256 values, de-duplicated and
// sorted ascending.
func CanonicalSet(hexDigests []string) ([]string, error) {
	seen := make(map[string]struct{}, len(hexDigests))
	set := make([]string, 0, len(hexDigests))
	for _, value := range hexDigests {
		hash, err := ParseHash(value)
		if err != nil {
			return nil, err
		}
		canonical := FormatHash(hash)
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		set = append(set, canonical)
	}
	slices.Sort(set)
	return set, nil
}

// LedgerRoot computes the ledger root over a set of hex content
// digests. Duplicates and ordering do not affect the result.
func LedgerRoot(hexDigests []string) (Hash, error) {
	set, err := CanonicalSet(hexDigests)
	if err != nil {
		return Hash{}, err
	}
	if len(set) == 0 {
		return Hash{}, ErrEmptySet
	}
	leaves := make([]Hash, len(set))
	for i, value := range set {
		leaves[i], _ = ParseHash(value)
	}
	root := MerkleRoot(LedgerNodeDomain, leaves)
	return Keyed(LedgerRootDomain, root[:]), nil
}

// FormatHash returns the lowercase hex form of hash.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string. Upper case is accepted.
func ParseHash(value string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return hash, fmt.Errorf("digest: parsing %q: %w", value, err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("digest: %q is %d bytes, want %d", value, len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}
