// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// erasure-service runs the dispatch and verification pipeline: the
// HTTP API, the job workers with their lease reaper, the verification
// sweep, scheduled dead-letter retries and idempotency cleanup.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/erasure/lib/bootstrap"
	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/config"
	"github.com/bureau-foundation/erasure/lib/deadletter"
	"github.com/bureau-foundation/erasure/lib/idempotency"
	"github.com/bureau-foundation/erasure/lib/process"
	"github.com/bureau-foundation/erasure/lib/service"
	"github.com/bureau-foundation/erasure/lib/version"
)

// purgeInterval spaces idempotency cleanup passes.
const purgeInterval = time.Hour

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		showVersion bool
		configPath  string
	)
	flags := pflag.NewFlagSet("erasure-service", pflag.ContinueOnError)
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.StringVar(&configPath, "config", "", "path to erasure.yaml (default: $"+config.EnvVar+")")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return process.Usagef("%v", err)
	}

	if showVersion {
		fmt.Printf("erasure-service %s\n", version.Full())
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := service.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.Info("starting erasure-service",
		version.LogAttrs(),
		"environment", cfg.Environment,
		"database", cfg.Paths.Database,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	components, err := bootstrap.Open(ctx, cfg, bootstrap.Options{Clock: clk, Logger: logger})
	if err != nil {
		return err
	}
	defer components.Close()

	api, err := components.API(clk)
	if err != nil {
		return err
	}
	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.HTTP.Listen,
		Handler:         api.Handler(),
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Logger:          logger.With("component", "http"),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Serve(groupCtx) })
	group.Go(func() error { return components.Pool.Run(groupCtx) })
	group.Go(func() error {
		return components.Sweeper.Run(groupCtx, cfg.Sweep.Interval, cfg.Sweep.BatchLimit)
	})
	if cfg.DeadLetter.RetryInterval > 0 {
		group.Go(func() error {
			return components.Retrier.Run(groupCtx, cfg.DeadLetter.RetryInterval,
				deadletter.Filter{Limit: cfg.DeadLetter.BatchLimit})
		})
	} else {
		logger.Info("scheduled dead-letter retries disabled")
	}
	group.Go(func() error {
		return purgeIdempotency(groupCtx, components.Guard, clk, logger)
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	logger.Info("erasure-service stopped", "error", err)
	return err
}

// purgeIdempotency drops expired reservations every purgeInterval.
func purgeIdempotency(ctx context.Context, guard *idempotency.Guard, clk clock.Clock, logger *slog.Logger) error {
	ticker := clk.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purged, err := guard.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purging idempotency reservations", "error", err)
				continue
			}
			if purged > 0 {
				logger.Info("purged idempotency reservations", "count", purged)
			}
		}
	}
}
