// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/erasure/cmd/erasure/cli"
	"github.com/bureau-foundation/erasure/lib/bootstrap"
	"github.com/bureau-foundation/erasure/lib/ledger"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/signing"
)

func (a *app) ledgerCommand() *cli.Command {
	return &cli.Command{
		Name:    "ledger",
		Summary: "Commit, verify and export signed proof records",
		Description: `Commit, verify and export signed proof records.

A ledger record is a Merkle root over a subject's evidence digests,
signed with the configured ledger key. A bundle carries the record's
manifest, signature and digest list, so a third party can check it
with only the public key.`,
		Subcommands: []*cli.Command{
			a.ledgerCommitCommand(),
			a.ledgerListCommand(),
			a.ledgerVerifyCommand(),
			a.ledgerExportCommand(),
			a.ledgerVerifyBundleCommand(),
		},
	}
}

func (a *app) ledgerCommitCommand() *cli.Command {
	return &cli.Command{
		Name:    "commit",
		Summary: "Seal a subject's uncommitted evidence into a signed record",
		Usage:   "erasure ledger commit <subject_ref> [flags]",
		Flags:   a.flags("commit", nil),
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "erasure ledger commit <subject_ref>"); err != nil {
				return err
			}
			return a.withComponents(ctx, func(components *bootstrap.Components) error {
				record, err := components.Ledger.Commit(ctx, args[0])
				if err != nil {
					return err
				}
				if done, err := a.emit(record); done {
					return err
				}
				a.printRecord(record)
				return nil
			})
		},
	}
}

func (a *app) ledgerListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List a subject's ledger records",
		Usage:   "erasure ledger list <subject_ref> [flags]",
		Flags:   a.flags("list", nil),
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "erasure ledger list <subject_ref>"); err != nil {
				return err
			}
			return a.withComponents(ctx, func(components *bootstrap.Components) error {
				records, err := components.Ledger.List(ctx, args[0])
				if err != nil {
					return err
				}
				if done, err := a.emit(records); done {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintf(a.stdout, "no ledger records for %s\n", args[0])
					return nil
				}
				styles := a.styles()
				table := cli.NewTable("ID", "EVIDENCE", "ALGORITHM", "KEY", "ROOT", "CREATED")
				for _, record := range records {
					table.Row(record.ID, strconv.Itoa(record.EvidenceCount), record.Algorithm,
						record.KeyID, styles.Faint.Render(record.MerkleRoot), formatTime(record.CreatedAt))
				}
				return table.Render(a.stdout, styles)
			})
		},
	}
}

func (a *app) ledgerVerifyCommand() *cli.Command {
	return &cli.Command{
		Name:    "verify",
		Summary: "Recompute a record's root and check its signature",
		Usage:   "erasure ledger verify <ledger_id>... [flags]",
		Flags:   a.flags("verify", nil),
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "erasure ledger verify <ledger_id>..."); err != nil {
				return err
			}
			return a.withComponents(ctx, func(components *bootstrap.Components) error {
				type verdict struct {
					ID    string `json:"id"`
					Valid bool   `json:"valid"`
					Error string `json:"error,omitempty"`
				}
				var (
					verdicts []verdict
					failed   error
				)
				for _, id := range args {
					_, err := components.Ledger.VerifyID(ctx, id)
					if err != nil && !proofRejected(err) {
						return err
					}
					result := verdict{ID: id, Valid: err == nil}
					if err != nil {
						result.Error = err.Error()
						failed = errors.Join(failed, fmt.Errorf("%s: %w", id, err))
					}
					verdicts = append(verdicts, result)
				}

				if done, err := a.emit(verdicts); done && err != nil {
					return err
				} else if !done {
					styles := a.styles()
					table := cli.NewTable("ID", "RESULT", "DETAIL")
					for _, result := range verdicts {
						status := styles.Status("valid")
						if !result.Valid {
							status = styles.Status("invalid")
						}
						table.Row(result.ID, status, result.Error)
					}
					if err := table.Render(a.stdout, styles); err != nil {
						return err
					}
				}
				if failed != nil {
					return checkFailed(failed)
				}
				return nil
			})
		},
	}
}

func (a *app) ledgerExportCommand() *cli.Command {
	var output string
	return &cli.Command{
		Name:    "export",
		Summary: "Write a record's verification bundle",
		Usage:   "erasure ledger export <ledger_id> [--output FILE] [flags]",
		Flags: a.flags("export", func(flags *pflag.FlagSet) {
			flags.StringVarP(&output, "output", "o", "", "bundle file (default: stdout)")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "erasure ledger export <ledger_id>"); err != nil {
				return err
			}
			return a.withComponents(ctx, func(components *bootstrap.Components) error {
				bundle, err := components.Ledger.ExportBundle(ctx, args[0])
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err := a.stdout.Write(bundle)
					return err
				}
				if err := os.WriteFile(output, bundle, 0o644); err != nil {
					return fmt.Errorf("writing bundle: %w", err)
				}
				fmt.Fprintf(a.stderr, "wrote %s (%d bytes)\n", output, len(bundle))
				return nil
			})
		},
	}
}

func (a *app) ledgerVerifyBundleCommand() *cli.Command {
	return &cli.Command{
		Name:    "verify-bundle",
		Summary: "Check a bundle's digests, root and signature",
		Usage:   "erasure ledger verify-bundle <FILE|-> [flags]",
		Flags:   a.flags("verify-bundle", nil),
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "erasure ledger verify-bundle <FILE|->"); err != nil {
				return err
			}
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			return a.withComponents(ctx, func(components *bootstrap.Components) error {
				manifest, err := ledger.VerifyBundle(ctx, components.Keys, data)
				if err != nil && !proofRejected(err) {
					return err
				}
				result := struct {
					Valid    bool            `json:"valid"`
					Error    string          `json:"error,omitempty"`
					Manifest ledger.Manifest `json:"manifest"`
				}{Valid: err == nil, Manifest: manifest}
				if err != nil {
					result.Error = err.Error()
				}
				if done, emitErr := a.emit(result); done && emitErr != nil {
					return emitErr
				} else if !done {
					styles := a.styles()
					status := styles.Status("valid")
					if err != nil {
						status = styles.Status("invalid") + " " + err.Error()
					}
					fmt.Fprintf(a.stdout, "bundle:    %s\n", status)
					fmt.Fprintf(a.stdout, "record:    %s\n", manifest.RecordID)
					fmt.Fprintf(a.stdout, "subject:   %s\n", manifest.SubjectRef)
					fmt.Fprintf(a.stdout, "root:      %s\n", manifest.MerkleRoot)
					fmt.Fprintf(a.stdout, "signed by: %s (%s)\n", manifest.KeyID, manifest.Algorithm)
					fmt.Fprintf(a.stdout, "evidence:  %d digests\n", manifest.EvidenceCount)
				}
				if err != nil {
					return checkFailed(err)
				}
				return nil
			})
		},
	}
}

func (a *app) printRecord(record schema.ProofLedgerRecord) {
	fmt.Fprintf(a.stdout, "id:         %s\n", record.ID)
	fmt.Fprintf(a.stdout, "subject:    %s\n", record.SubjectRef)
	fmt.Fprintf(a.stdout, "root:       %s\n", record.MerkleRoot)
	fmt.Fprintf(a.stdout, "signed by:  %s (%s)\n", record.KeyID, record.Algorithm)
	fmt.Fprintf(a.stdout, "evidence:   %d digests\n", record.EvidenceCount)
	fmt.Fprintf(a.stdout, "created:    %s\n", formatTime(record.CreatedAt))
}

// proofRejected reports whether err means the proof is bad rather
// than that it could not be checked.
func proofRejected(err error) bool {
	return errors.Is(err, signing.ErrSignatureInvalid) ||
		errors.Is(err, ledger.ErrRootMismatch) ||
		errors.Is(err, ledger.ErrPackDigest)
}

// readInput reads a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
