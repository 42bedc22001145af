// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/erasure/cmd/erasure/cli"
	"github.com/bureau-foundation/erasure/lib/bootstrap"
)

func (a *app) keysCommand() *cli.Command {
	return &cli.Command{
		Name:    "keys",
		Summary: "Manage local key material",
		Subcommands: []*cli.Command{
			{
				Name:    "generate",
				Summary: "Create the ledger signing key, subject identity and blob key",
				Description: `Create the local key material under paths.keys.

With the local signing backend this writes <key_id>.key and
<key_id>.pub. It also writes the age identity that seals subject
identifiers and the blob encryption key. Existing keys are never
overwritten, so the command is safe to re-run; it prints the public
signing key either way.`,
				Flags: a.flags("generate", nil),
				Run: func(ctx context.Context, args []string) error {
					cfg, err := a.loadConfig()
					if err != nil {
						return err
					}
					generated, err := bootstrap.GenerateKeys(cfg)
					if err != nil {
						return err
					}
					if done, err := a.emit(generated); done {
						return err
					}
					created := func(ok bool) string { return verdictWord(ok, "created", "exists") }
					if generated.SigningKeyID != "" {
						fmt.Fprintf(a.stdout, "signing key %q: %s\n", generated.SigningKeyID, created(generated.SigningCreated))
					} else {
						fmt.Fprintf(a.stdout, "signing key: held by KMS (%s)\n", cfg.Signing.KMSKey)
					}
					fmt.Fprintf(a.stdout, "blob key: %s\n", created(generated.BlobKeyCreated))
					fmt.Fprintf(a.stdout, "subject recipient: %s\n", generated.SubjectRecipient)
					if generated.SigningPublicKey != "" {
						fmt.Fprintf(a.stdout, "\n%s", generated.SigningPublicKey)
					}
					return nil
				},
			},
		},
	}
}
