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
	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/deadletter"
	"github.com/bureau-foundation/erasure/lib/schema"
)

func (a *app) dlqCommand() *cli.Command {
	return &cli.Command{
		Name:    "dlq",
		Summary: "Inspect, retry and purge dead-lettered requests",
		Description: `Inspect, retry and purge dead-lettered requests.

A request lands in the dead-letter queue when it could not be enqueued
or when its job ran out of attempts. Retrying re-dispatches the stored
request through the normal dispatcher, so the idempotency guard and the
controller's circuit breaker still apply.`,
		Subcommands: []*cli.Command{
			a.dlqListCommand(),
			a.dlqShowCommand(),
			a.dlqRetryCommand(),
			a.dlqPurgeCommand(),
		},
	}
}

func (a *app) dlqListCommand() *cli.Command {
	var filter deadletter.Filter
	var channel string
	return &cli.Command{
		Name:    "list",
		Summary: "List dead-letter entries, oldest first",
		Flags: a.flags("list", func(flags *pflag.FlagSet) {
			flags.StringVar(&filter.ControllerKey, "controller", "", "only entries for this controller")
			flags.StringVar(&channel, "channel", "", "only entries for this channel (webform, email, noop)")
			flags.IntVar(&filter.Limit, "limit", 50, "maximum entries")
		}),
		Run: func(ctx context.Context, args []string) error {
			filter.Channel = schema.Channel(channel)
			return a.withComponents(ctx, func(components *bootstrap.Components) error {
				entries, err := components.DeadLetters.List(ctx, filter)
				if err != nil {
					return err
				}
				if done, err := a.emit(entries); done {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(a.stdout, "dead-letter queue is empty")
					return nil
				}
				styles := a.styles()
				table := cli.NewTable("ID", "CONTROLLER", "CHANNEL", "ERROR", "RETRIES", "CREATED", "NOTE")
				for _, entry := range entries {
					table.Row(entry.ID, entry.ControllerKey, string(entry.Channel),
						styles.Bad.Render(entry.ErrorCode), strconv.Itoa(entry.Retries),
						formatTime(entry.CreatedAt), styles.Faint.Render(entry.ErrorNote))
				}
				return table.Render(a.stdout, styles)
			})
		},
	}
}

func (a *app) dlqShowCommand() *cli.Command {
	return &cli.Command{
		Name:    "show",
		Summary: "Show one entry with its stored payload",
		Usage:   "erasure dlq show <id> [flags]",
		Flags:   a.flags("show", nil),
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "erasure dlq show <id>"); err != nil {
				return err
			}
			return a.withComponents(ctx, func(components *bootstrap.Components) error {
				entry, err := components.DeadLetters.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if done, err := a.emit(entry); done {
					return err
				}
				payload, err := codec.Diagnose(entry.Payload)
				if err != nil {
					payload = fmt.Sprintf("undecodable (%v)", err)
				}
				fmt.Fprintf(a.stdout, "id:          %s\n", entry.ID)
				fmt.Fprintf(a.stdout, "controller:  %s\n", entry.ControllerKey)
				fmt.Fprintf(a.stdout, "channel:     %s\n", entry.Channel)
				fmt.Fprintf(a.stdout, "subject:     %s\n", entry.SubjectRef)
				fmt.Fprintf(a.stdout, "error:       %s %s\n", entry.ErrorCode, entry.ErrorNote)
				fmt.Fprintf(a.stdout, "retries:     %d (last %s)\n", entry.Retries, formatTime(entry.LastRetryAt))
				fmt.Fprintf(a.stdout, "created:     %s\n", formatTime(entry.CreatedAt))
				fmt.Fprintf(a.stdout, "payload:     %s\n", payload)
				return nil
			})
		},
	}
}

func (a *app) dlqRetryCommand() *cli.Command {
	var (
		all    bool
		filter deadletter.Filter
	)
	return &cli.Command{
		Name:    "retry",
		Summary: "Re-dispatch entries; a successful retry purges the entry",
		Usage:   "erasure dlq retry <id>... | --all [flags]",
		Flags: a.flags("retry", func(flags *pflag.FlagSet) {
			flags.BoolVar(&all, "all", false, "retry every entry matching --controller, oldest first")
			flags.StringVar(&filter.ControllerKey, "controller", "", "with --all, only this controller")
			flags.IntVar(&filter.Limit, "limit", 100, "with --all, maximum entries")
		}),
		Examples: []cli.Example{
			{Description: "Retry one entry", Command: "erasure dlq retry dlq_0194f1c2-..."},
			{Description: "Retry everything dead-lettered for OLX", Command: "erasure dlq retry --all --controller olx"},
		},
		Run: func(ctx context.Context, args []string) error {
			if !all {
				if err := requireArgs(args, 1, "erasure dlq retry <id>... | --all"); err != nil {
					return err
				}
			}
			return a.withComponents(ctx, func(components *bootstrap.Components) error {
				if all {
					summary, err := components.Retrier.RetryAll(ctx, filter)
					if err != nil {
						return err
					}
					if done, err := a.emit(summary); done {
						return err
					}
					fmt.Fprintf(a.stdout, "retried %d: %d succeeded, %d failed\n",
						summary.Attempted, summary.Succeeded, summary.Failed)
					return nil
				}

				type outcome struct {
					ID       string                  `json:"id"`
					Response schema.DispatchResponse `json:"response"`
					Error    string                  `json:"error,omitempty"`
				}
				var outcomes []outcome
				for _, id := range args {
					response, err := components.Retrier.Retry(ctx, id)
					result := outcome{ID: id, Response: response}
					if err != nil {
						result.Error = err.Error()
					}
					outcomes = append(outcomes, result)
				}
				if done, err := a.emit(outcomes); done {
					return err
				}
				styles := a.styles()
				table := cli.NewTable("ID", "RESULT", "JOB", "DETAIL")
				for _, result := range outcomes {
					status := styles.Status("ok")
					if !result.Response.OK {
						status = styles.Status("failed")
					}
					detail := result.Response.Error
					if result.Error != "" {
						detail = result.Error
					}
					table.Row(result.ID, status, result.Response.ProviderRef, detail)
				}
				return table.Render(a.stdout, styles)
			})
		},
	}
}

func (a *app) dlqPurgeCommand() *cli.Command {
	var reason string
	return &cli.Command{
		Name:    "purge",
		Summary: "Delete entries without retrying them",
		Usage:   "erasure dlq purge <id>... [flags]",
		Flags: a.flags("purge", func(flags *pflag.FlagSet) {
			flags.StringVar(&reason, "reason", "purged by operator", "recorded in the service log")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "erasure dlq purge <id>..."); err != nil {
				return err
			}
			return a.withComponents(ctx, func(components *bootstrap.Components) error {
				for _, id := range args {
					if err := components.DeadLetters.Purge(ctx, id, reason); err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "purged %s\n", id)
				}
				return nil
			})
		},
	}
}
