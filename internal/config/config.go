package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel            string     `yaml:"log_level"`
	LogFile             string     `yaml:"log_file"`
	DataDir             string     `yaml:"data_dir"`
	PollIntervalSeconds int        `yaml:"poll_interval_seconds"`
	BackoffSeconds      int        `yaml:"backoff_seconds"`
	HeartbeatCycles     int        `yaml:"heartbeat_cycles"`
	Mailbox             Mailbox    `yaml:"mailbox"`
	Sender              SMTP       `yaml:"sender"`
	Classifier          Classifier `yaml:"classifier"`
	Contacts            Contacts   `yaml:"contacts"`
	Escalation          Escalation `yaml:"escalation"`
	Status              Status     `yaml:"status"`
}

// Mailbox selects and configures the monitored mailbox.
type Mailbox struct {
	Type  string `yaml:"type"` // "gmail", "imap" or "pop3"
	Gmail Gmail  `yaml:"gmail"`
	IMAP  Server `yaml:"imap"`
	POP3  Server `yaml:"pop3"`
}

// Gmail holds the Gmail API OAuth files.
type Gmail struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	User            string `yaml:"user"`
}

// Server describes an IMAP or POP3 account.
type Server struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	UseTLS       bool   `yaml:"use_tls"`
	Folder       string `yaml:"folder"`
	DeleteOnRead *bool  `yaml:"delete_on_read"`
}

// SMTP holds the outgoing mail server configuration.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

// Classifier configures the language model endpoint.
type Classifier struct {
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	APIKey           string `yaml:"api_key"`
	APIKeyEnv        string `yaml:"api_key_env"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	InstructionsFile string `yaml:"instructions_file"`
}

// Contacts selects where the client allow-list comes from.
type Contacts struct {
	Driver string   `yaml:"driver"` // "sqlite", "postgres" or "static"
	DSN    string   `yaml:"dsn"`
	UserID string   `yaml:"user_id"`
	Emails []string `yaml:"emails"`
}

// Escalation configures where escalation notices go.
type Escalation struct {
	NotifyTo string `yaml:"notify_to"`
}

// Status configures the optional HTTP status endpoint.
type Status struct {
	Listen string `yaml:"listen"`
}

// PollInterval returns the delay between fetch cycles.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Backoff returns how long to wait after a transient provider error.
func (c *Config) Backoff() time.Duration {
	if c.BackoffSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.BackoffSeconds) * time.Second
}

// Heartbeat returns the number of idle cycles between "still running" logs.
func (c *Config) Heartbeat() int {
	if c.HeartbeatCycles <= 0 {
		return 20
	}
	return c.HeartbeatCycles
}

// GetDataDir returns the state directory, defaulting to "data".
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return "data"
	}
	return c.DataDir
}

// GetUser returns the Gmail user id, defaulting to "me".
func (g *Gmail) GetUser() string {
	if g.User == "" {
		return "me"
	}
	return g.User
}

// GetFolder returns the IMAP folder name, defaulting to "INBOX".
func (s *Server) GetFolder() string {
	if s.Folder == "" {
		return "INBOX"
	}
	return s.Folder
}

// GetDeleteOnRead reports whether POP3 messages are deleted once handled.
// It defaults to true since POP3 has no read flag.
func (s *Server) GetDeleteOnRead() bool {
	if s.DeleteOnRead == nil {
		return true
	}
	return *s.DeleteOnRead
}

// Timeout returns the classifier request timeout.
func (c *Classifier) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetAPIKeyEnv returns the environment variable consulted for the API key.
func (c *Classifier) GetAPIKeyEnv() string {
	if c.APIKeyEnv == "" {
		return "OPENROUTER_API_KEY"
	}
	return c.APIKeyEnv
}

// GetModel returns the configured model, falling back to $MODEL_NAME.
func (c *Classifier) GetModel() string {
	if c.Model != "" {
		return c.Model
	}
	return os.Getenv("MODEL_NAME")
}

// GetDriver returns the contacts driver, defaulting to "sqlite".
func (c *Contacts) GetDriver() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{
		LogLevel: "info",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error")
	}

	switch c.Mailbox.Type {
	case "gmail":
		if c.Mailbox.Gmail.CredentialsFile == "" {
			return fmt.Errorf("mailbox.gmail.credentials_file is required")
		}
		if c.Mailbox.Gmail.TokenFile == "" {
			return fmt.Errorf("mailbox.gmail.token_file is required")
		}
	case "imap", "pop3":
		srv := c.Mailbox.IMAP
		if c.Mailbox.Type == "pop3" {
			srv = c.Mailbox.POP3
		}
		if srv.Host == "" {
			return fmt.Errorf("mailbox.%s.host is required", c.Mailbox.Type)
		}
		if srv.Port == 0 {
			return fmt.Errorf("mailbox.%s.port is required", c.Mailbox.Type)
		}
		if srv.Username == "" {
			return fmt.Errorf("mailbox.%s.username is required", c.Mailbox.Type)
		}
		if c.Sender.Host == "" {
			return fmt.Errorf("sender.host is required for %s mailboxes", c.Mailbox.Type)
		}
		if c.Sender.Port == 0 {
			return fmt.Errorf("sender.port is required for %s mailboxes", c.Mailbox.Type)
		}
	default:
		return fmt.Errorf("mailbox.type must be gmail, imap or pop3")
	}

	switch c.Contacts.GetDriver() {
	case "sqlite":
	case "postgres":
		if c.Contacts.DSN == "" {
			return fmt.Errorf("contacts.dsn is required for the postgres driver")
		}
	case "static":
		if len(c.Contacts.Emails) == 0 {
			return fmt.Errorf("contacts.emails must list at least one address for the static driver")
		}
	default:
		return fmt.Errorf("contacts.driver must be sqlite, postgres or static")
	}

	if c.Escalation.NotifyTo != "" && !strings.Contains(c.Escalation.NotifyTo, "@") {
		return fmt.Errorf("escalation.notify_to must be an email address")
	}
	return nil
}
