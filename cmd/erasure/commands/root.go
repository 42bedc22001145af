// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/erasure/cmd/erasure/cli"
	"github.com/bureau-foundation/erasure/lib/bootstrap"
	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/config"
	"github.com/bureau-foundation/erasure/lib/process"
	"github.com/bureau-foundation/erasure/lib/version"
)

// app carries the flags every command shares and the output streams.
type app struct {
	stdout io.Writer
	stderr io.Writer
	clock  clock.Clock

	configPath string
	jsonOutput bool
	verbose    bool
}

// Root builds the command tree writing to stdout and stderr.
func Root(stdout, stderr io.Writer) *cli.Command {
	a := &app{stdout: stdout, stderr: stderr, clock: clock.Real()}
	return &cli.Command{
		Name: "erasure",
		Description: `erasure: operate the erasure dispatch and verification pipeline.

Commands read the same config file as erasure-service, named by
--config or the ` + config.EnvVar + ` environment variable.`,
		Subcommands: []*cli.Command{
			a.dlqCommand(),
			a.breakerCommand(),
			a.queueCommand(),
			a.sweepCommand(),
			a.ledgerCommand(),
			a.receiptCommand(),
			a.keysCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string) error {
					fmt.Fprintf(a.stdout, "erasure %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// flags returns a flag set with the shared flags plus whatever extra
// registers.
func (a *app) flags(name string, extra func(*pflag.FlagSet)) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
		flags.StringVar(&a.configPath, "config", "", "path to erasure.yaml (default: $"+config.EnvVar+")")
		flags.BoolVar(&a.jsonOutput, "json", false, "output as JSON")
		flags.BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")
		if extra != nil {
			extra(flags)
		}
		return flags
	}
}

func (a *app) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (a *app) logger() *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return cli.NewCommandLogger(a.stderr, level)
}

// open assembles the pipeline. Callers close it.
func (a *app) open(ctx context.Context) (*bootstrap.Components, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, cfg, bootstrap.Options{Clock: a.clock, Logger: a.logger()})
}

// withComponents opens the pipeline around fn.
func (a *app) withComponents(ctx context.Context, fn func(*bootstrap.Components) error) error {
	components, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(components)
}

// emit writes value as JSON when --json is set and reports whether it
// did.
func (a *app) emit(value any) (bool, error) {
	if !a.jsonOutput {
		return false, nil
	}
	return true, cli.WriteJSON(a.stdout, value)
}

func (a *app) styles() *cli.Styles {
	return cli.NewStyles(a.stdout)
}

func requireArgs(args []string, minimum int, usage string) error {
	if len(args) < minimum {
		return process.Usagef("usage: %s", usage)
	}
	return nil
}

// checkFailed marks err as a verification that ran and failed.
func checkFailed(err error) error {
	return fmt.Errorf("%w: %w", process.ErrCheckFailed, err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
