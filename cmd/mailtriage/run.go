package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracyhatemice/mailtriage/internal/allowlist"
	"github.com/tracyhatemice/mailtriage/internal/attachment"
	"github.com/tracyhatemice/mailtriage/internal/classifier"
	"github.com/tracyhatemice/mailtriage/internal/config"
	"github.com/tracyhatemice/mailtriage/internal/credential"
	"github.com/tracyhatemice/mailtriage/internal/dispatch"
	"github.com/tracyhatemice/mailtriage/internal/fetcher"
	"github.com/tracyhatemice/mailtriage/internal/ledger"
	"github.com/tracyhatemice/mailtriage/internal/mailbox"
	"github.com/tracyhatemice/mailtriage/internal/sender"
	"github.com/tracyhatemice/mailtriage/internal/status"
	"github.com/tracyhatemice/mailtriage/internal/store"
	"github.com/tracyhatemice/mailtriage/internal/triage"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the triage loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
}

func run(cfg *config.Config) error {
	logger, closeLog, err := setupLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logger.Info("mailtriage starting", "mailbox", cfg.Mailbox.Type, "contacts", cfg.Contacts.GetDriver(), "data_dir", dataDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	creds := credential.New(filepath.Join(dataDir, "credentials"))

	mb, err := newMailbox(ctx, cfg, creds, logger)
	if err != nil {
		return err
	}
	defer mb.Close()

	db, err := store.OpenSQLite(filepath.Join(dataDir, "mailtriage.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	contacts, settings, closeContacts, err := openContacts(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeContacts()

	completer, err := newCompleter(cfg, creds)
	if err != nil {
		return err
	}

	handled, err := ledger.Open(filepath.Join(dataDir, "handled.txt"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	logger.Info("loaded ledger", "handled_count", handled.Count(), "by_action", handled.Actions())

	runner := triage.New(
		fetcher.New(mb, cfg.Backoff(), logger),
		contacts,
		attachment.New(mb, filepath.Join(dataDir, "attachments"), logger),
		classifier.New(completer, settings, logger),
		dispatch.NewRouter(mb, handled, db, cfg.Escalation.NotifyTo, logger),
		triage.Options{Interval: cfg.PollInterval(), HeartbeatCycles: cfg.Heartbeat()},
		logger,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()

	if cfg.Status.Listen != "" {
		srv := status.NewServer(cfg.Status.Listen, runner, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				logger.Error("status endpoint failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down, waiting for the current cycle to finish...")

	// Force exit on second signal.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	wg.Wait()
	logger.Info("mailtriage stopped")
	return nil
}

func newMailbox(ctx context.Context, cfg *config.Config, creds *credential.Store, logger *slog.Logger) (mailbox.Mailbox, error) {
	switch cfg.Mailbox.Type {
	case "gmail":
		g := cfg.Mailbox.Gmail
		return mailbox.NewGmail(ctx, g.CredentialsFile, g.TokenFile, g.GetUser(), logger)
	case "imap", "pop3":
		smtp, err := newSender(cfg, creds, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Mailbox.Type == "imap" {
			a := cfg.Mailbox.IMAP
			password, err := creds.Resolve(a.Password, "", "imap_password")
			if err != nil {
				return nil, fmt.Errorf("imap password: %w", err)
			}
			return mailbox.NewIMAP(a.Host, a.Port, a.Username, password, a.UseTLS, a.GetFolder(), smtp, logger), nil
		}
		a := cfg.Mailbox.POP3
		password, err := creds.Resolve(a.Password, "", "pop3_password")
		if err != nil {
			return nil, fmt.Errorf("pop3 password: %w", err)
		}
		return mailbox.NewPOP3(a.Host, a.Port, a.Username, password, a.UseTLS, a.GetDeleteOnRead(), smtp, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mailbox type: %s", cfg.Mailbox.Type)
	}
}

func newSender(cfg *config.Config, creds *credential.Store, logger *slog.Logger) (*sender.Sender, error) {
	s := cfg.Sender
	password := s.Password
	if s.Username != "" {
		var err error
		if password, err = creds.Resolve(s.Password, "", "smtp_password"); err != nil {
			return nil, fmt.Errorf("smtp password: %w", err)
		}
	}
	return sender.New(s.Host, s.Port, s.Username, password, s.UseTLS, logger), nil
}

// openContacts picks the allow-list and personality source. The local
// database always serves as the dispatch journal.
func openContacts(ctx context.Context, cfg *config.Config, db *store.SQLite) (allowlist.Source, classifier.SettingsSource, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Contacts.GetDriver() {
	case "sqlite":
		return db, db, noop, nil
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.Contacts.DSN, cfg.Contacts.UserID)
		if err != nil {
			return nil, nil, nil, err
		}
		return pg, pg, pg.Close, nil
	case "static":
		return allowlist.Static(cfg.Contacts.Emails), db, noop, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported contacts driver: %s", cfg.Contacts.Driver)
	}
}

func newCompleter(cfg *config.Config, creds *credential.Store) (classifier.Completer, error) {
	c := cfg.Classifier
	apiKey, err := creds.Resolve(c.APIKey, c.GetAPIKeyEnv(), "classifier_api_key")
	if err != nil {
		return nil, fmt.Errorf("classifier api key: %w", err)
	}
	model := c.GetModel()
	if model == "" {
		return nil, errors.New("classifier.model is required (or set MODEL_NAME)")
	}

	var instructions string
	if c.InstructionsFile != "" {
		data, err := os.ReadFile(c.InstructionsFile)
		if err != nil {
			return nil, fmt.Errorf("read instructions file: %w", err)
		}
		instructions = string(data)
	}
	return classifier.NewOpenAIClient(c.BaseURL, apiKey, model, instructions, c.Timeout()), nil
}
