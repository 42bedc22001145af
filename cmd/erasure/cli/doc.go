// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework behind the erasure operator
// CLI: a [Command] tree with pflag flag sets, help output and
// did-you-mean suggestions, the CLI logger, and table and JSON output.
//
// Tables adapt to their writer. On a terminal they carry color in the
// profile termenv detects; piped output is plain ASCII so scripts can
// parse it.
package cli
