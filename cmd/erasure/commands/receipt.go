// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/erasure/cmd/erasure/cli"
	"github.com/bureau-foundation/erasure/lib/bootstrap"
	"github.com/bureau-foundation/erasure/lib/receipt"
)

func (a *app) receiptCommand() *cli.Command {
	return &cli.Command{
		Name:    "receipt",
		Summary: "Re-check stored evidence against its receipt",
		Subcommands: []*cli.Command{
			{
				Name:    "verify",
				Summary: "Recompute a job's evidence digests and compare them",
				Usage:   "erasure receipt verify <job_id>... [flags]",
				Flags:   a.flags("verify", nil),
				Run: func(ctx context.Context, args []string) error {
					if err := requireArgs(args, 1, "erasure receipt verify <job_id>..."); err != nil {
						return err
					}
					return a.withComponents(ctx, func(components *bootstrap.Components) error {
						return a.verifyReceipts(ctx, components, args)
					})
				},
			},
		},
	}
}

func (a *app) verifyReceipts(ctx context.Context, components *bootstrap.Components, jobIDs []string) error {
	var (
		results []receipt.Result
		failed  error
	)
	for _, jobID := range jobIDs {
		result, err := components.Receipts.VerifyReceipt(ctx, jobID)
		switch {
		case err == nil:
		case errors.Is(err, receipt.ErrHashMismatch), errors.Is(err, receipt.ErrReceiptMissing):
			failed = errors.Join(failed, err)
			if result.JobID == "" {
				result.JobID = jobID
				result.Problems = []string{err.Error()}
			}
		default:
			return err
		}
		results = append(results, result)
	}

	if done, err := a.emit(results); done && err != nil {
		return err
	} else if !done {
		styles := a.styles()
		table := cli.NewTable("JOB", "RESULT", "HTML", "SCREENSHOT", "PROBLEMS")
		for _, result := range results {
			table.Row(result.JobID, styles.Status(verdictWord(result.OK, "ok", "mismatch")),
				styles.Status(verdictWord(result.HTMLOK, "ok", "mismatch")),
				styles.Status(verdictWord(result.ScreenshotOK, "ok", "mismatch")),
				strings.Join(result.Problems, "; "))
		}
		if err := table.Render(a.stdout, styles); err != nil {
			return err
		}
	}
	if failed != nil {
		return checkFailed(fmt.Errorf("receipt verification: %w", failed))
	}
	return nil
}

func verdictWord(ok bool, good, bad string) string {
	if ok {
		return good
	}
	return bad
}
