package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tracyhatemice/mailtriage/internal/allowlist"
	"github.com/tracyhatemice/mailtriage/internal/classifier"
	"github.com/tracyhatemice/mailtriage/internal/dispatch"
)

// SQLite is the local store.
type SQLite struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the database at dbPath and runs any pending
// migrations. ":memory:" gives a private in-memory database.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// ClientEmails lists every registered contact address.
func (s *SQLite) ClientEmails(ctx context.Context) ([]string, error) {
	var emails []string
	if err := s.db.SelectContext(ctx, &emails, "SELECT contact_email FROM clients"); err != nil {
		return nil, fmt.Errorf("querying client emails: %w", err)
	}
	return emails, nil
}

// AddClient registers email. Adding an existing address updates its name.
func (s *SQLite) AddClient(ctx context.Context, email, name string) (Client, error) {
	c := Client{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(name),
		ContactEmail: allowlist.Normalize(email),
		CreatedAt:    time.Now().UTC(),
	}
	if c.ContactEmail == "" {
		return Client{}, errors.New("client email is empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, contact_email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(contact_email) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name, c.ContactEmail, c.CreatedAt,
	)
	if err != nil {
		return Client{}, fmt.Errorf("adding client %s: %w", c.ContactEmail, err)
	}

	if err := s.db.GetContext(ctx, &c,
		"SELECT id, name, contact_email, created_at FROM clients WHERE contact_email = ?", c.ContactEmail); err != nil {
		return Client{}, fmt.Errorf("reading client %s: %w", c.ContactEmail, err)
	}
	return c, nil
}

// RemoveClient deletes the contact with the given address.
func (s *SQLite) RemoveClient(ctx context.Context, email string) error {
	email = allowlist.Normalize(email)
	result, err := s.db.ExecContext(ctx, "DELETE FROM clients WHERE contact_email = ?", email)
	if err != nil {
		return fmt.Errorf("removing client %s: %w", email, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%s: %w", email, ErrClientNotFound)
	}
	return nil
}

// ListClients returns all contacts ordered by address.
func (s *SQLite) ListClients(ctx context.Context) ([]Client, error) {
	var clients []Client
	err := s.db.SelectContext(ctx, &clients,
		"SELECT id, name, contact_email, created_at FROM clients ORDER BY contact_email")
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	return clients, nil
}

// PersonalitySettings returns the configured personality. No row yields the
// zero value.
func (s *SQLite) PersonalitySettings(ctx context.Context) (classifier.Personality, error) {
	var p classifier.Personality
	err := s.db.GetContext(ctx, &p, `
		SELECT assistant_name, communication_tone, default_greeting,
		       followup_message, formality_level, language_style
		FROM ai_personality_settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return classifier.Personality{}, nil
	}
	if err != nil {
		return classifier.Personality{}, fmt.Errorf("reading personality settings: %w", err)
	}
	return p, nil
}

// SetPersonality replaces the personality settings.
func (s *SQLite) SetPersonality(ctx context.Context, p classifier.Personality) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO ai_personality_settings (
			id, assistant_name, communication_tone, default_greeting,
			followup_message, formality_level, language_style, updated_at
		) VALUES (
			1, :assistant_name, :communication_tone, :default_greeting,
			:followup_message, :formality_level, :language_style, CURRENT_TIMESTAMP
		)
		ON CONFLICT(id) DO UPDATE SET
			assistant_name = excluded.assistant_name,
			communication_tone = excluded.communication_tone,
			default_greeting = excluded.default_greeting,
			followup_message = excluded.followup_message,
			formality_level = excluded.formality_level,
			language_style = excluded.language_style,
			updated_at = excluded.updated_at`, p)
	if err != nil {
		return fmt.Errorf("saving personality settings: %w", err)
	}
	return nil
}

// RecordDispatch appends r to the dispatch journal.
func (s *SQLite) RecordDispatch(ctx context.Context, r dispatch.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatches (id, message_id, action, recipient, subject, sent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), r.MessageID, string(r.Action), r.Recipient, r.Subject, r.SentID, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording dispatch for %s: %w", r.MessageID, err)
	}
	return nil
}

// Dispatches returns the journal entries for messageID, oldest first.
func (s *SQLite) Dispatches(ctx context.Context, messageID string) ([]dispatch.Record, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT message_id, action, recipient, subject, sent_id, created_at
		FROM dispatches WHERE message_id = ? ORDER BY created_at`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying dispatches for %s: %w", messageID, err)
	}
	defer rows.Close()

	var records []dispatch.Record
	for rows.Next() {
		var (
			r      dispatch.Record
			action string
		)
		if err := rows.Scan(&r.MessageID, &action, &r.Recipient, &r.Subject, &r.SentID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning dispatch row: %w", err)
		}
		r.Action = dispatch.Action(action)
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordEscalation stores an escalation notice.
func (s *SQLite) RecordEscalation(ctx context.Context, n dispatch.Notice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (id, message_id, thread_id, sender, subject, priority, reason, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.MessageID, n.ThreadID, n.Sender, n.Subject, string(n.Priority), n.Reason, n.Body, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording escalation for %s: %w", n.MessageID, err)
	}
	return nil
}

// Escalations returns every recorded notice, newest first.
func (s *SQLite) Escalations(ctx context.Context) ([]dispatch.Notice, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, message_id, thread_id, sender, subject, priority, reason, body, created_at
		FROM escalations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying escalations: %w", err)
	}
	defer rows.Close()

	var notices []dispatch.Notice
	for rows.Next() {
		var (
			n        dispatch.Notice
			priority string
		)
		if err := rows.Scan(&n.ID, &n.MessageID, &n.ThreadID, &n.Sender, &n.Subject,
			&priority, &n.Reason, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning escalation row: %w", err)
		}
		n.Priority = classifier.Priority(priority)
		notices = append(notices, n)
	}
	return notices, rows.Err()
}
