package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracyhatemice/mailtriage/internal/config"
)

type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mailtriage",
		Short:         "Triage a support mailbox with a language model",
		Long:          "Polls a mailbox for mail from known clients, classifies each message and escalates or replies.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to configuration file")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "data", "directory for persistent data (ledger, database, attachments)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level from the config file")

	root.AddCommand(
		newRunCmd(opts),
		newAuthCmd(opts),
		newContactsCmd(opts),
		newPersonalityCmd(opts),
		newSecretCmd(opts),
	)
	return root
}

// load reads the config file and applies flag overrides.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	o.apply(cmd, cfg)
	return cfg, nil
}

// loadOptional is load for commands that also work without a config file.
func (o *rootOptions) loadOptional(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &config.Config{LogLevel: "info"}
	} else if err != nil {
		return nil, err
	}
	o.apply(cmd, cfg)
	return cfg, nil
}

func (o *rootOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("data-dir") || cfg.DataDir == "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
}

// setupLogger builds the process logger. When logFile is set, lines go to
// both stderr and the file; the returned closer releases the file.
func setupLogger(level, logFile string) (*slog.Logger, func() error, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var (
		w       io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = f.Close
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), closeFn, nil
}
