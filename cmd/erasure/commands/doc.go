// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the erasure operator CLI command tree. Each
// command opens the pipeline from the same config file the service
// reads, so operator actions go through the same dispatcher, breaker
// and ledger code paths as the running service.
package commands
