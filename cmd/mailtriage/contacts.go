package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tracyhatemice/mailtriage/internal/classifier"
	"github.com/tracyhatemice/mailtriage/internal/store"
)

func (o *rootOptions) openStore(cmd *cobra.Command) (*store.SQLite, error) {
	cfg, err := o.loadOptional(cmd)
	if err != nil {
		return nil, err
	}
	return store.OpenSQLite(filepath.Join(cfg.GetDataDir(), "mailtriage.db"))
}

func newContactsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage the client addresses whose mail is triaged",
	}

	var name string
	add := &cobra.Command{
		Use:   "add <email>",
		Short: "Register a client address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			c, err := db.AddClient(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", c.ContactEmail, c.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "client display name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered client addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			clients, err := db.ListClients(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tNAME\tADDED")
			for _, c := range clients {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ContactEmail, c.Name, c.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}

	remove := &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove a client address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.RemoveClient(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

func newPersonalityCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personality",
		Short: "Show or change the assistant personality used in replies",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current personality settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			p, err := db.PersonalitySettings(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "assistant_name\t%s\n", p.AssistantName)
			fmt.Fprintf(w, "communication_tone\t%s\n", p.CommunicationTone)
			fmt.Fprintf(w, "default_greeting\t%s\n", p.DefaultGreeting)
			fmt.Fprintf(w, "followup_message\t%s\n", p.FollowupMessage)
			fmt.Fprintf(w, "formality_level\t%s\n", p.FormalityLevel)
			fmt.Fprintf(w, "language_style\t%s\n", p.LanguageStyle)
			return w.Flush()
		},
	}

	var p classifier.Personality
	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the personality settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.SetPersonality(cmd.Context(), p)
		},
	}
	set.Flags().StringVar(&p.AssistantName, "name", "", "assistant name")
	set.Flags().StringVar(&p.CommunicationTone, "tone", "", "communication tone")
	set.Flags().StringVar(&p.DefaultGreeting, "greeting", "", "default greeting")
	set.Flags().StringVar(&p.FollowupMessage, "followup", "", "follow-up message")
	set.Flags().StringVar(&p.FormalityLevel, "formality", "", "formality level")
	set.Flags().StringVar(&p.LanguageStyle, "style", "", "language style")

	cmd.AddCommand(show, set)
	return cmd
}
