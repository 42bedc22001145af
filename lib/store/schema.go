// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

// migrations[i] moves the schema from version i to i+1. Append only.
var migrations = []string{
	`
CREATE TABLE jobs (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	status         TEXT NOT NULL,
	action_id      TEXT NOT NULL DEFAULT '',
	controller_key TEXT NOT NULL,
	subject_ref    TEXT NOT NULL,
	target_url     TEXT NOT NULL DEFAULT '',
	metadata       BLOB,
	payload        BLOB,
	attempts       INTEGER NOT NULL DEFAULT 0,
	max_attempts   INTEGER NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	result         TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	available_at   INTEGER NOT NULL DEFAULT 0,
	claimed_at     INTEGER NOT NULL DEFAULT 0,
	finished_at    INTEGER NOT NULL DEFAULT 0,
	worker_id      TEXT NOT NULL DEFAULT '',
	CHECK (attempts <= max_attempts)
);
CREATE INDEX jobs_claimable ON jobs (status, available_at, created_at);
CREATE INDEX jobs_running ON jobs (status, claimed_at);

CREATE TABLE idempotency (
	key          TEXT PRIMARY KEY,
	action_label TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL
);
CREATE INDEX idempotency_expiry ON idempotency (expires_at);

CREATE TABLE breakers (
	controller_key    TEXT PRIMARY KEY,
	state             TEXT NOT NULL,
	recent_failures   INTEGER NOT NULL DEFAULT 0,
	window_started_at INTEGER NOT NULL DEFAULT 0,
	opened_at         INTEGER NOT NULL DEFAULT 0,
	cool_down         INTEGER NOT NULL DEFAULT 0,
	trips             INTEGER NOT NULL DEFAULT 0,
	probe_in_flight   INTEGER NOT NULL DEFAULT 0,
	last_error_code   TEXT NOT NULL DEFAULT '',
	last_error_note   TEXT NOT NULL DEFAULT '',
	updated_at        INTEGER NOT NULL DEFAULT 0,
	version           INTEGER NOT NULL
);

CREATE TABLE dead_letters (
	id             TEXT PRIMARY KEY,
	channel        TEXT NOT NULL,
	controller_key TEXT NOT NULL,
	subject_ref    TEXT NOT NULL,
	payload        BLOB NOT NULL,
	error_code     TEXT NOT NULL,
	error_note     TEXT NOT NULL DEFAULT '',
	retries        INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	last_retry_at  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX dead_letters_created ON dead_letters (created_at);

CREATE TABLE actions (
	id                   TEXT PRIMARY KEY,
	controller_key       TEXT NOT NULL,
	subject_ref          TEXT NOT NULL,
	subject_sealed       TEXT NOT NULL,
	channel              TEXT NOT NULL,
	status               TEXT NOT NULL,
	verification_info    TEXT NOT NULL DEFAULT '',
	target_url           TEXT NOT NULL DEFAULT '',
	job_id               TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL,
	next_verification_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX actions_due ON actions (status, next_verification_at);
CREATE INDEX actions_subject ON actions (subject_ref);
CREATE INDEX actions_job ON actions (job_id);

CREATE TABLE verifications (
	seq                  INTEGER PRIMARY KEY AUTOINCREMENT,
	id                   TEXT NOT NULL UNIQUE,
	action_id            TEXT NOT NULL,
	subject_ref          TEXT NOT NULL,
	controller_ref       TEXT NOT NULL,
	data_found           INTEGER NOT NULL,
	confidence           REAL NOT NULL,
	url                  TEXT NOT NULL DEFAULT '',
	http_status          INTEGER NOT NULL DEFAULT 0,
	html_hash            TEXT NOT NULL DEFAULT '',
	screenshot_hash      TEXT NOT NULL DEFAULT '',
	html_path            TEXT NOT NULL DEFAULT '',
	screenshot_path      TEXT NOT NULL DEFAULT '',
	inconclusive         INTEGER NOT NULL DEFAULT 0,
	error                TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	next_verification_at INTEGER NOT NULL DEFAULT 0,
	ledger_id            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX verifications_action ON verifications (action_id, seq);
CREATE INDEX verifications_uncommitted ON verifications (subject_ref, ledger_id, seq);

CREATE TABLE ledger (
	id              TEXT PRIMARY KEY,
	subject_ref     TEXT NOT NULL,
	merkle_root     TEXT NOT NULL,
	algorithm       TEXT NOT NULL,
	key_id          TEXT NOT NULL,
	signature       BLOB NOT NULL,
	evidence_count  INTEGER NOT NULL,
	evidence_hashes BLOB NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX ledger_subject ON ledger (subject_ref, created_at);

CREATE TABLE receipts (
	job_id          TEXT PRIMARY KEY,
	action_id       TEXT NOT NULL,
	html_path       TEXT NOT NULL,
	screenshot_path TEXT NOT NULL DEFAULT '',
	html_hash       TEXT NOT NULL,
	screenshot_hash TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL
);

CREATE TABLE discovered_items (
	id             TEXT PRIMARY KEY,
	subject_ref    TEXT NOT NULL,
	controller_key TEXT NOT NULL,
	url            TEXT NOT NULL,
	confidence     REAL NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX discovered_lookup ON discovered_items (subject_ref, controller_key, confidence);
`,
	`
ALTER TABLE dead_letters ADD COLUMN action_id TEXT NOT NULL DEFAULT '';
`,
}
