package store

// schema is applied on every Open; every statement is idempotent so it is
// safe to run against an already-initialized database.
const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id       INTEGER NOT NULL,
	account          TEXT NOT NULL,
	mailbox          TEXT NOT NULL,
	subject          TEXT NOT NULL DEFAULT '',
	sender           TEXT NOT NULL DEFAULT '',
	recipients       TEXT NOT NULL DEFAULT '',
	date_received    TEXT NOT NULL,
	snippet          TEXT NOT NULL DEFAULT '',
	body             TEXT NOT NULL DEFAULT '',
	emlx_path        TEXT NOT NULL,
	attachment_count INTEGER NOT NULL DEFAULT 0,
	flags            INTEGER NOT NULL DEFAULT 0,
	source_mtime     INTEGER NOT NULL DEFAULT 0,
	indexed_at       TEXT NOT NULL,
	UNIQUE(message_id, account, mailbox)
);

CREATE INDEX IF NOT EXISTS idx_emails_account_mailbox ON emails(account, mailbox);
CREATE INDEX IF NOT EXISTS idx_emails_date_received ON emails(account, mailbox, date_received);
CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(message_id);

CREATE VIRTUAL TABLE IF NOT EXISTS emails_fts USING fts5(
	subject, sender, recipients, body,
	content='emails',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS emails_ai AFTER INSERT ON emails BEGIN
	INSERT INTO emails_fts(rowid, subject, sender, recipients, body)
	VALUES (new.id, new.subject, new.sender, new.recipients, new.body);
END;

CREATE TRIGGER IF NOT EXISTS emails_ad AFTER DELETE ON emails BEGIN
	INSERT INTO emails_fts(emails_fts, rowid, subject, sender, recipients, body)
	VALUES ('delete', old.id, old.subject, old.sender, old.recipients, old.body);
END;

CREATE TRIGGER IF NOT EXISTS emails_au AFTER UPDATE ON emails BEGIN
	INSERT INTO emails_fts(emails_fts, rowid, subject, sender, recipients, body)
	VALUES ('delete', old.id, old.subject, old.sender, old.recipients, old.body);
	INSERT INTO emails_fts(rowid, subject, sender, recipients, body)
	VALUES (new.id, new.subject, new.sender, new.recipients, new.body);
END;

CREATE TABLE IF NOT EXISTS attachments (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	email_rowid INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	filename    TEXT NOT NULL,
	mime_type   TEXT NOT NULL DEFAULT '',
	file_size   INTEGER NOT NULL DEFAULT 0,
	content_id  TEXT
);

CREATE INDEX IF NOT EXISTS idx_attachments_email_rowid ON attachments(email_rowid);

CREATE TABLE IF NOT EXISTS sync_state (
	account             TEXT NOT NULL,
	mailbox             TEXT NOT NULL,
	last_sync           TEXT NOT NULL,
	email_count_at_sync INTEGER NOT NULL DEFAULT 0,
	was_capped          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (account, mailbox)
);
`

const currentSchemaVersion = "1"

// migrateFrom applies forward migrations idempotently based on the
// recorded schema_version row. There is only one version today; this is
// the seam the teacher's own migrationSchema constant demonstrated and
// future revisions hang off the same switch.
func migrateFrom(version string) string {
	switch version {
	case currentSchemaVersion:
		return ""
	default:
		return ""
	}
}
