package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tracyhatemice/mailtriage/internal/credential"
)

func newSecretCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
		Long: "Secrets are looked up under the keys classifier_api_key, imap_password, " +
			"pop3_password and smtp_password when the config file leaves them empty.",
	}

	set := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadOptional(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Enter value for %s: ", args[0])
			value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read secret: %w", err)
			}
			value = strings.TrimRight(value, "\r\n")
			if value == "" {
				return errors.New("empty secret")
			}
			creds := credential.New(filepath.Join(cfg.GetDataDir(), "credentials"))
			if err := creds.Set(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set)
	return cmd
}
