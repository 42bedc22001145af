// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/bureau-foundation/erasure/cmd/erasure/cli"
	"github.com/bureau-foundation/erasure/lib/bootstrap"
	"github.com/bureau-foundation/erasure/lib/schema"
)

func (a *app) breakerCommand() *cli.Command {
	return &cli.Command{
		Name:    "breaker",
		Summary: "Show and reset per-controller circuit breakers",
		Subcommands: []*cli.Command{
			{
				Name:    "status",
				Summary: "Show breaker state, optionally for the named controllers",
				Usage:   "erasure breaker status [controller...] [flags]",
				Flags:   a.flags("status", nil),
				Run: func(ctx context.Context, args []string) error {
					return a.withComponents(ctx, func(components *bootstrap.Components) error {
						return a.breakerStatus(ctx, components, args)
					})
				},
			},
			{
				Name:    "reset",
				Summary: "Close a breaker and clear its failure history",
				Usage:   "erasure breaker reset <controller>... [flags]",
				Flags:   a.flags("reset", nil),
				Run: func(ctx context.Context, args []string) error {
					if err := requireArgs(args, 1, "erasure breaker reset <controller>..."); err != nil {
						return err
					}
					return a.withComponents(ctx, func(components *bootstrap.Components) error {
						for _, key := range args {
							if err := components.Breaker.Reset(ctx, key); err != nil {
								return err
							}
							fmt.Fprintf(a.stdout, "reset %s\n", key)
						}
						return nil
					})
				},
			},
		},
	}
}

func (a *app) breakerStatus(ctx context.Context, components *bootstrap.Components, keys []string) error {
	states, err := components.Breaker.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		states = slices.DeleteFunc(states, func(state schema.CircuitState) bool {
			return !slices.Contains(keys, state.ControllerKey)
		})
	}
	if done, err := a.emit(states); done {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(a.stdout, "no breaker has recorded a failure")
		return nil
	}

	styles := a.styles()
	table := cli.NewTable("CONTROLLER", "STATE", "FAILURES", "TRIPS", "COOL-DOWN", "OPENED", "LAST ERROR")
	for _, state := range states {
		coolDown := "-"
		if state.CoolDown > 0 {
			coolDown = state.CoolDown.String()
		}
		lastError := state.LastErrorCode
		if state.LastErrorNote != "" {
			lastError += " " + styles.Faint.Render(state.LastErrorNote)
		}
		table.Row(state.ControllerKey, styles.Status(string(state.State)),
			strconv.Itoa(state.RecentFailures), strconv.Itoa(state.Trips),
			coolDown, formatTime(state.OpenedAt), lastError)
	}
	return table.Render(a.stdout, styles)
}
