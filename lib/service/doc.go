// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the process scaffolding shared by the
// erasure binaries: an HTTP server with graceful shutdown whose Serve
// blocks like every other long-running component, so main can run it
// under the same errgroup as the worker pool and the schedulers.
package service
