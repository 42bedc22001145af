// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration for the erasure service
// and its operator CLI.
//
// The file is named by the ERASURE_CONFIG environment variable ([Load])
// or a --config flag ([LoadFile]). Nothing else is searched. A file may
// carry development, staging and production sections; the one matching
// [Config].Environment is decoded over the base values, so it only
// needs the keys it changes.
//
// Path fields expand ${HOME}, ${ERASURE_ROOT} and ${VAR:-default}
// after loading. [Config.Validate] reports every problem at once.
//
// Sections:
//
//   - paths -- state root, database, blob and key directories
//   - queue -- worker count, poll interval, lease and attempt limits
//   - breaker -- default threshold, window and cool-down bounds
//   - idempotency -- reservation TTLs and at-least-once labels
//   - sweep -- verification schedule and politeness limits
//   - dead_letter -- scheduled retry cadence
//   - signing -- ledger signer backend and key
//   - email -- SES sender
//   - capture -- evidence capture service
//   - http -- API listener and CORS origins
//   - controllers -- capability table overrides file
//
// This package depends on no other packages in this module.
package config
