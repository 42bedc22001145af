// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the erasure
// binaries: reporting a fatal error before or after the structured
// logger exists, and the CLI's exit codes.
package process
