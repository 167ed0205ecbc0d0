package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of SQLite schema migrations.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	contact_email TEXT NOT NULL UNIQUE,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ai_personality_settings (
	id                 INTEGER PRIMARY KEY CHECK (id = 1),
	assistant_name     TEXT NOT NULL DEFAULT '',
	communication_tone TEXT NOT NULL DEFAULT '',
	default_greeting   TEXT NOT NULL DEFAULT '',
	followup_message   TEXT NOT NULL DEFAULT '',
	formality_level    TEXT NOT NULL DEFAULT '',
	language_style     TEXT NOT NULL DEFAULT '',
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS dispatches (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	action     TEXT NOT NULL,
	recipient  TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	sent_id    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dispatches_message ON dispatches(message_id);

CREATE TABLE IF NOT EXISTS escalations (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	thread_id  TEXT NOT NULL DEFAULT '',
	sender     TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	priority   TEXT NOT NULL,
	reason     TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
