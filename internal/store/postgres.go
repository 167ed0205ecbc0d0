package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracyhatemice/mailtriage/internal/classifier"
)

// Postgres reads contacts and personality settings from a shared Postgres
// database (the hosted dashboard's schema). It is read-only.
type Postgres struct {
	pool   *pgxpool.Pool
	userID string
}

// OpenPostgres connects to dsn and verifies the connection. When userID is
// set, personality settings are restricted to that user's row.
func OpenPostgres(ctx context.Context, dsn, userID string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn not configured")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{pool: pool, userID: userID}, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// ClientEmails lists every registered contact address.
func (p *Postgres) ClientEmails(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, "SELECT contact_email FROM clients WHERE contact_email IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("querying client emails: %w", err)
	}
	emails, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("reading client emails: %w", err)
	}
	return emails, nil
}

const personalityQuery = `
SELECT COALESCE(assistant_name, ''), COALESCE(communication_tone, ''),
       COALESCE(default_greeting, ''), COALESCE(followup_message, ''),
       COALESCE(formality_level, ''), COALESCE(language_style, '')
FROM ai_personality_settings`

// PersonalitySettings returns the first matching settings row, or the zero
// value when there is none.
func (p *Postgres) PersonalitySettings(ctx context.Context) (classifier.Personality, error) {
	var row pgx.Row
	if p.userID != "" {
		row = p.pool.QueryRow(ctx, personalityQuery+" WHERE user_id = $1 LIMIT 1", p.userID)
	} else {
		row = p.pool.QueryRow(ctx, personalityQuery+" LIMIT 1")
	}

	var s classifier.Personality
	err := row.Scan(&s.AssistantName, &s.CommunicationTone, &s.DefaultGreeting,
		&s.FollowupMessage, &s.FormalityLevel, &s.LanguageStyle)
	if errors.Is(err, pgx.ErrNoRows) {
		return classifier.Personality{}, nil
	}
	if err != nil {
		return classifier.Personality{}, fmt.Errorf("reading personality settings: %w", err)
	}
	return s, nil
}
