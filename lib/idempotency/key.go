// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package idempotency

import (
	"strings"

	"github.com/bureau-foundation/erasure/lib/digest"
	"github.com/bureau-foundation/erasure/lib/schema"
)

// StableIdentifier returns the subject field the key is built from,
// preferring ID, then email, phone, handle and name. The value is
// trimmed and lowercased; a phone keeps only its digits. kind names
// the chosen field so an email and a name with equal text never share
// a key. Both are empty when no field is set.
func StableIdentifier(subject schema.Subject) (kind, value string) {
	candidates := []struct {
		kind  string
		value string
	}{
		{"id", strings.TrimSpace(subject.ID)},
		{"email", strings.ToLower(strings.TrimSpace(subject.Email))},
		{"phone", PhoneDigits(subject.Phone)},
		{"handle", strings.ToLower(strings.TrimPrefix(strings.TrimSpace(subject.Handle), "@"))},
		{"name", strings.Join(strings.Fields(strings.ToLower(subject.Name)), " ")},
	}
	for _, candidate := range candidates {
		if candidate.value != "" {
			return candidate.kind, candidate.value
		}
	}
	return "", ""
}

// PhoneDigits strips everything but ASCII digits.
func PhoneDigits(phone string) string {
	var builder strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// Key derives the idempotency key for a dispatch. An empty label means
// schema.DefaultActionLabel.
func Key(controllerKey string, subject schema.Subject, actionLabel string) string {
	if actionLabel == "" {
		actionLabel = schema.DefaultActionLabel
	}
	kind, value := StableIdentifier(subject)
	hash := digest.Fingerprint(digest.IdempotencyDomain,
		"dispatch",
		strings.ToLower(strings.TrimSpace(controllerKey)),
		kind,
		value,
		actionLabel,
	)
	return "idem_" + digest.FormatHash(hash)
}

// SubjectRef is the opaque reference other records use for a subject:
// the internal ID when present, otherwise a fingerprint of the stable
// identifier. It never contains the identifier itself.
func SubjectRef(subject schema.Subject) string {
	if id := strings.TrimSpace(subject.ID); id != "" {
		return id
	}
	kind, value := StableIdentifier(subject)
	hash := digest.Fingerprint(digest.IdempotencyDomain, "subject", kind, value)
	return "subj_" + digest.FormatHash(hash)[:32]
}
