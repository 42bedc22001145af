// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/erasure/cmd/erasure/cli"
	"github.com/bureau-foundation/erasure/lib/bootstrap"
)

func (a *app) queueCommand() *cli.Command {
	return &cli.Command{
		Name:    "queue",
		Summary: "Inspect the job queue and reclaim stale jobs",
		Subcommands: []*cli.Command{
			{
				Name:    "stats",
				Summary: "Count jobs by status",
				Flags:   a.flags("stats", nil),
				Run: func(ctx context.Context, args []string) error {
					return a.withComponents(ctx, func(components *bootstrap.Components) error {
						stats, err := components.Queue.Stats(ctx)
						if err != nil {
							return err
						}
						if done, err := a.emit(stats); done {
							return err
						}
						styles := a.styles()
						table := cli.NewTable("STATUS", "JOBS")
						table.Row("queued", strconv.Itoa(stats.Queued))
						table.Row("running", strconv.Itoa(stats.Running))
						table.Row(styles.Status("succeeded"), strconv.Itoa(stats.Succeeded))
						table.Row(styles.Status("failed"), strconv.Itoa(stats.Failed))
						return table.Render(a.stdout, styles)
					})
				},
			},
			{
				Name:    "reap",
				Summary: "Take back jobs whose lease expired",
				Description: `Take back running jobs whose lease expired.

The service reaps on its own schedule. Run this after a crash to
reclaim jobs without waiting. An expired lease counts as an attempt:
jobs with attempts left are requeued, the rest fail and are
dead-lettered.`,
				Flags: a.flags("reap", nil),
				Run: func(ctx context.Context, args []string) error {
					return a.withComponents(ctx, func(components *bootstrap.Components) error {
						reaped, err := components.Pool.ReapOnce(ctx)
						if err != nil {
							return err
						}
						if done, err := a.emit(reaped); done {
							return err
						}
						if len(reaped) == 0 {
							fmt.Fprintln(a.stdout, "no stale jobs")
							return nil
						}
						styles := a.styles()
						table := cli.NewTable("JOB", "NOW")
						for _, job := range reaped {
							table.Row(job.ID, styles.Status(string(job.Status)))
						}
						return table.Render(a.stdout, styles)
					})
				},
			},
		},
	}
}

func (a *app) sweepCommand() *cli.Command {
	var limit int
	return &cli.Command{
		Name:    "sweep",
		Summary: "Run verification sweeps",
		Subcommands: []*cli.Command{
			{
				Name:    "run",
				Summary: "Check every action whose verification is due, once",
				Flags: a.flags("run", func(flags *pflag.FlagSet) {
					flags.IntVar(&limit, "limit", 0, "maximum actions (default: sweep.batch_limit)")
				}),
				Run: func(ctx context.Context, args []string) error {
					return a.withComponents(ctx, func(components *bootstrap.Components) error {
						if limit <= 0 {
							limit = components.Config.Sweep.BatchLimit
						}
						result, err := components.Sweeper.Sweep(ctx, limit)
						if err != nil {
							return err
						}
						if done, err := a.emit(result); done {
							return err
						}
						fmt.Fprintf(a.stdout, "checked %d: %d verified, %d needs review, %d inconclusive, %d failed\n",
							result.Checked, result.Verified, result.NeedsReview, result.Inconclusive, result.Failed)
						return nil
					})
				},
			},
		},
	}
}
