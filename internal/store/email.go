package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Email is one row of the email table's public projection. Body is
// deliberately absent: the index only ever hands callers a Snippet, never
// the full text it keeps internally for matching.
type Email struct {
	RowID           int64
	MessageID       int64
	Account         string
	Mailbox         string
	Subject         string
	Sender          string
	Recipients      string
	DateReceived    string
	Snippet         string
	EmlxPath        string
	AttachmentCount int
	Flags           int64
}

// Attachment is a child row of an Email.
type Attachment struct {
	ID         int64
	EmailRowID int64
	Filename   string
	MimeType   string
	FileSize   int64
	ContentID  sql.NullString
}

// NewEmail is what the parser hands the synchronizer: everything needed to
// upsert a row, including the full body text, which is stored in the
// emails table to feed the FTS index and is never returned to callers.
type NewEmail struct {
	MessageID    int64
	Account      string
	Mailbox      string
	Subject      string
	Sender       string
	Recipients   string
	DateReceived time.Time
	Body         string
	EmlxPath     string
	Flags        int64
	SourceMtime  int64
	Attachments  []NewAttachment
}

// NewAttachment is an attachment as discovered by the parser, not yet
// assigned a row id.
type NewAttachment struct {
	Filename  string
	MimeType  string
	FileSize  int64
	ContentID string
}

const snippetLength = 200

func snippetOf(body string) string {
	r := []rune(body)
	if len(r) <= snippetLength {
		return string(r)
	}
	return string(r[:snippetLength])
}

// UpsertEmail inserts or replaces the row keyed by (message_id, account,
// mailbox), rewriting its attachment children, within the given
// transaction. It returns the row's internal id.
func UpsertEmail(ctx context.Context, tx *sql.Tx, e NewEmail) (int64, error) {
	date := e.DateReceived.UTC().Format(time.RFC3339)
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO emails (
			message_id, account, mailbox, subject, sender, recipients,
			date_received, snippet, body, emlx_path, attachment_count, flags,
			source_mtime, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, account, mailbox) DO UPDATE SET
			subject = excluded.subject,
			sender = excluded.sender,
			recipients = excluded.recipients,
			date_received = excluded.date_received,
			snippet = excluded.snippet,
			body = excluded.body,
			emlx_path = excluded.emlx_path,
			attachment_count = excluded.attachment_count,
			flags = excluded.flags,
			source_mtime = excluded.source_mtime,
			indexed_at = excluded.indexed_at
	`, e.MessageID, e.Account, e.Mailbox, e.Subject, e.Sender, e.Recipients,
		date, snippetOf(e.Body), e.Body, e.EmlxPath, len(e.Attachments), e.Flags,
		e.SourceMtime, now)
	if err != nil {
		return 0, fmt.Errorf("mailindex: upsert email: %w", err)
	}

	// ON CONFLICT ... DO UPDATE never reports a fresh LastInsertId on the
	// update path, so the row id is always resolved explicitly.
	var rowID int64
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM emails WHERE message_id = ? AND account = ? AND mailbox = ?
	`, e.MessageID, e.Account, e.Mailbox).Scan(&rowID); err != nil {
		return 0, fmt.Errorf("mailindex: resolve upserted row id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE email_rowid = ?`, rowID); err != nil {
		return 0, fmt.Errorf("mailindex: clear attachments: %w", err)
	}
	for _, a := range e.Attachments {
		var contentID sql.NullString
		if a.ContentID != "" {
			contentID = sql.NullString{String: a.ContentID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (email_rowid, filename, mime_type, file_size, content_id)
			VALUES (?, ?, ?, ?, ?)
		`, rowID, a.Filename, a.MimeType, a.FileSize, contentID); err != nil {
			return 0, fmt.Errorf("mailindex: insert attachment: %w", err)
		}
	}

	return rowID, nil
}

// DeleteEmail removes an Email row (and, via the foreign key, its
// attachments) by internal row id.
func DeleteEmail(ctx context.Context, tx *sql.Tx, rowID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM emails WHERE id = ?`, rowID)
	return err
}

// IndexedMessage is the identity the synchronizer compares against what's
// on disk: the row id (for deletion) and the source file's mtime as of the
// last index (for deciding whether a reparse is needed).
type IndexedMessage struct {
	RowID       int64
	SourceMtime int64
}

// IndexedMessages returns message_id -> IndexedMessage for every email
// currently indexed under (account, mailbox), used by the synchronizer to
// diff against what's on disk without reparsing files whose mtime hasn't
// moved.
func IndexedMessages(ctx context.Context, q Queryer, account, mailbox string) (map[int64]IndexedMessage, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT message_id, id, source_mtime FROM emails WHERE account = ? AND mailbox = ?
	`, account, mailbox)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]IndexedMessage)
	for rows.Next() {
		var messageID int64
		var im IndexedMessage
		if err := rows.Scan(&messageID, &im.RowID, &im.SourceMtime); err != nil {
			return nil, err
		}
		out[messageID] = im
	}
	return out, rows.Err()
}

// Queryer is satisfied by both *sql.DB and *sql.Tx, letting read helpers
// run either standalone or inside a transaction.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanEmail(row interface{ Scan(dest ...any) error }) (Email, error) {
	var e Email
	err := row.Scan(&e.RowID, &e.MessageID, &e.Account, &e.Mailbox, &e.Subject,
		&e.Sender, &e.Recipients, &e.DateReceived, &e.Snippet, &e.EmlxPath,
		&e.AttachmentCount, &e.Flags)
	return e, err
}

const emailColumns = `id, message_id, account, mailbox, subject, sender, recipients, date_received, snippet, emlx_path, attachment_count, flags`

// ListRecent returns the most recent Email rows by date_received desc,
// optionally narrowed to account/mailbox, used by the get_emails
// operation. An empty index yields an empty (nil) slice, never an error.
func ListRecent(ctx context.Context, q Queryer, account, mailbox string, limit int) ([]Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE 1=1`
	var args []any
	if account != "" {
		query += ` AND account = ?`
		args = append(args, account)
	}
	if mailbox != "" {
		query += ` AND mailbox = ?`
		args = append(args, mailbox)
	}
	query += ` ORDER BY date_received DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetAttachments returns the attachment children of an email row.
func GetAttachments(ctx context.Context, q Queryer, rowID int64) ([]Attachment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, email_rowid, filename, mime_type, file_size, content_id
		FROM attachments WHERE email_rowid = ? ORDER BY id
	`, rowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.EmailRowID, &a.Filename, &a.MimeType, &a.FileSize, &a.ContentID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindEmailLocation finds the (account, mailbox, emlx_path) for a
// message_id, optionally narrowed by account/mailbox when the same
// message_id is replicated across mailboxes.
func FindEmailLocation(ctx context.Context, q Queryer, messageID int64, account, mailbox string) ([]Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE message_id = ?`
	args := []any{messageID}
	if account != "" {
		query += ` AND account = ?`
		args = append(args, account)
	}
	if mailbox != "" {
		query += ` AND mailbox = ?`
		args = append(args, mailbox)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListAccounts returns the distinct accounts present in the index along
// with how many emails each has.
func ListAccounts(ctx context.Context, q Queryer) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT account, COUNT(*) FROM emails GROUP BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var account string
		var count int
		if err := rows.Scan(&account, &count); err != nil {
			return nil, err
		}
		out[account] = count
	}
	return out, rows.Err()
}
