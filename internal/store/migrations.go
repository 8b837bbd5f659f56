package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id                 TEXT PRIMARY KEY,
	email              TEXT NOT NULL,
	provider           TEXT NOT NULL,
	access_token       TEXT NOT NULL DEFAULT '',
	refresh_token      TEXT NOT NULL DEFAULT '',
	token_type         TEXT NOT NULL DEFAULT '',
	token_expiry       DATETIME,
	imap_host          TEXT NOT NULL DEFAULT '',
	imap_port          INTEGER NOT NULL DEFAULT 0,
	smtp_host          TEXT NOT NULL DEFAULT '',
	smtp_port          INTEGER NOT NULL DEFAULT 0,
	imap_username      TEXT NOT NULL DEFAULT '',
	imap_password_enc  TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS workflow_statuses (
	user_id          TEXT NOT NULL,
	email_id         TEXT NOT NULL,
	column_name      TEXT NOT NULL,
	snoozed_until    DATETIME,
	previous_column  TEXT NOT NULL DEFAULT '',
	updated_at       DATETIME NOT NULL,
	PRIMARY KEY (user_id, email_id)
);

CREATE INDEX IF NOT EXISTS idx_workflow_snoozed
	ON workflow_statuses(column_name, snoozed_until);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
ALTER TABLE users ADD COLUMN imap_security TEXT NOT NULL DEFAULT '';

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
