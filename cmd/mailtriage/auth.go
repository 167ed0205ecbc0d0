package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracyhatemice/mailtriage/internal/mailbox"
)

func newAuthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize Gmail access and store the OAuth token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Mailbox.Type != "gmail" {
				return errors.New("auth is only needed for gmail mailboxes")
			}
			g := cfg.Mailbox.Gmail
			oauthCfg, err := mailbox.GmailOAuthConfig(g.CredentialsFile)
			if err != nil {
				return err
			}
			if err := mailbox.AuthorizeGmail(cmd.Context(), oauthCfg, g.TokenFile, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", g.TokenFile)
			return nil
		},
	}
}
