// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// erasure is the operator CLI for the erasure pipeline.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/erasure/cmd/erasure/commands"
	"github.com/bureau-foundation/erasure/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return commands.Root(os.Stdout, os.Stderr).Execute(ctx, os.Args[1:], os.Stderr)
}
