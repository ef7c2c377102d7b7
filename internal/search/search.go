// Package search is the Search Executor: it runs compiled queries against
// the store's FTS5 index with optional account/mailbox filters, and
// decides which columns a result's match could plausibly be attributed to.
package search

import (
	"context"
	"database/sql"
	"strings"

	"github.com/felo/mailindex/internal/query"
	"github.com/felo/mailindex/internal/store"
)

// Options narrows a search. A zero field means "no filter". Grounded on
// the pointer-optional-filter struct shape used for FTS5 cache lookups
// elsewhere in the corpus.
type Options struct {
	Account          string
	Mailbox          string
	ExcludeMailboxes []string
	Limit            int
	// Scope narrows which FTS5 columns a query must match against:
	// "subject", "body", or "" / "all" for every indexed column.
	Scope string
}

// DefaultLimit is used when Options.Limit is zero or negative.
const DefaultLimit = 20

// MaxLimit bounds how many rows a single search ever returns.
const MaxLimit = 500

// Result is one search hit: the matched Email plus its FTS score and which
// columns plausibly contributed to the match.
type Result struct {
	store.Email
	Score          float64
	MatchedColumns []string
}

const emailCols = `e.id, e.message_id, e.account, e.mailbox, e.subject, e.sender, ` +
	`e.recipients, e.date_received, e.snippet, e.emlx_path, e.attachment_count, e.flags`

// Emails runs a free-form query against subject/sender/recipients/body. An
// empty query returns the most recent emails (optionally filtered) instead
// of an FTS MATCH, mirroring "no query" as list semantics. FTS5 syntax
// errors never propagate: Compile's output is retried through EscapeAll,
// and if that still fails the search returns no results rather than an
// error, since a malformed query is a caller mistake, not an index fault.
func Emails(ctx context.Context, db *store.DB, rawQuery string, opts Options) ([]Result, error) {
	limit := clampLimit(opts.Limit)

	if strings.TrimSpace(rawQuery) == "" {
		return listRecent(ctx, db, opts, limit)
	}

	results, err := runMatch(ctx, db, scopeFilter(opts.Scope, query.Compile(rawQuery)), opts, limit)
	if err == nil {
		annotate(results, rawQuery)
		return results, nil
	}
	if !isFTSSyntaxError(err) {
		return nil, err
	}

	results, err = runMatch(ctx, db, scopeFilter(opts.Scope, query.EscapeAll(rawQuery)), opts, limit)
	if err != nil {
		if isFTSSyntaxError(err) {
			return nil, nil
		}
		return nil, err
	}
	annotate(results, rawQuery)
	return results, nil
}

// CountMatches reports how many emails a query matches without fetching
// the rows. Uses the same compile/fallback strategy as Emails.
func CountMatches(ctx context.Context, db *store.DB, rawQuery string, opts Options) (int, error) {
	if strings.TrimSpace(rawQuery) == "" {
		where, args := whereClause(opts)
		var n int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails e `+where, args...).Scan(&n)
		return n, err
	}

	n, err := countMatch(ctx, db, scopeFilter(opts.Scope, query.Compile(rawQuery)), opts)
	if err == nil {
		return n, nil
	}
	if !isFTSSyntaxError(err) {
		return 0, err
	}
	n, err = countMatch(ctx, db, scopeFilter(opts.Scope, query.EscapeAll(rawQuery)), opts)
	if err != nil {
		if isFTSSyntaxError(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// AttachmentResult pairs an attachment with the email it belongs to.
type AttachmentResult struct {
	Attachment store.Attachment
	Email      store.Email
}

// Attachments searches attachment filenames/mime types for a query,
// returning the owning email alongside each match.
func Attachments(ctx context.Context, db *store.DB, rawQuery string, opts Options) ([]AttachmentResult, error) {
	limit := clampLimit(opts.Limit)
	like := "%" + escapeLike(rawQuery) + "%"

	where, whereArgs := whereClause(opts)
	if where == "" {
		where = "WHERE 1=1"
	}

	args := append([]any{}, whereArgs...)
	args = append(args, like, like, limit)

	rows, err := db.QueryContext(ctx, `
		SELECT a.id, a.email_rowid, a.filename, a.mime_type, a.file_size, a.content_id,
		       `+emailCols+`
		FROM attachments a
		JOIN emails e ON e.id = a.email_rowid
		`+where+`
		AND (a.filename LIKE ? ESCAPE '\' OR a.mime_type LIKE ? ESCAPE '\')
		ORDER BY e.date_received DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttachmentResult
	for rows.Next() {
		var r AttachmentResult
		var contentID sql.NullString
		if err := rows.Scan(&r.Attachment.ID, &r.Attachment.EmailRowID, &r.Attachment.Filename,
			&r.Attachment.MimeType, &r.Attachment.FileSize, &contentID,
			&r.Email.RowID, &r.Email.MessageID, &r.Email.Account, &r.Email.Mailbox,
			&r.Email.Subject, &r.Email.Sender, &r.Email.Recipients, &r.Email.DateReceived,
			&r.Email.Snippet, &r.Email.EmlxPath, &r.Email.AttachmentCount, &r.Email.Flags); err != nil {
			return nil, err
		}
		r.Attachment.ContentID = contentID
		out = append(out, r)
	}
	return out, rows.Err()
}

func runMatch(ctx context.Context, db *store.DB, compiled string, opts Options, limit int) ([]Result, error) {
	if compiled == "" {
		return listRecent(ctx, db, opts, limit)
	}
	where, whereArgs := whereClause(opts)
	if where == "" {
		where = "WHERE 1=1"
	}
	args := append([]any{}, whereArgs...)
	args = append(args, compiled, limit)

	rows, err := db.QueryContext(ctx, `
		SELECT `+emailCols+`, -bm25(emails_fts) AS score
		FROM emails e
		JOIN emails_fts ON emails_fts.rowid = e.id
		`+where+`
		AND emails_fts MATCH ?
		ORDER BY score DESC, e.date_received DESC, e.id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func countMatch(ctx context.Context, db *store.DB, compiled string, opts Options) (int, error) {
	if compiled == "" {
		where, args := whereClause(opts)
		var n int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails e `+where, args...).Scan(&n)
		return n, err
	}
	where, whereArgs := whereClause(opts)
	if where == "" {
		where = "WHERE 1=1"
	}
	args := append([]any{}, whereArgs...)
	args = append(args, compiled)

	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM emails e
		JOIN emails_fts ON emails_fts.rowid = e.id
		`+where+`
		AND emails_fts MATCH ?
	`, args...).Scan(&n)
	return n, err
}

func listRecent(ctx context.Context, db *store.DB, opts Options, limit int) ([]Result, error) {
	where, args := whereClause(opts)
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, `
		SELECT `+emailCols+`, 0.0 AS score
		FROM emails e
		`+where+`
		ORDER BY e.date_received DESC, e.id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]Result, error) {
	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Email.RowID, &r.Email.MessageID, &r.Email.Account, &r.Email.Mailbox,
			&r.Email.Subject, &r.Email.Sender, &r.Email.Recipients, &r.Email.DateReceived,
			&r.Email.Snippet, &r.Email.EmlxPath, &r.Email.AttachmentCount, &r.Email.Flags,
			&r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// whereClause builds the account/mailbox/exclude-mailbox filter shared by
// every query shape. An empty return means no filter applies; callers that
// need to always append "AND ..." substitute "WHERE 1=1" themselves.
func whereClause(opts Options) (string, []any) {
	var conds []string
	var args []any

	if opts.Account != "" {
		conds = append(conds, "e.account = ?")
		args = append(args, opts.Account)
	}
	if opts.Mailbox != "" {
		conds = append(conds, "e.mailbox = ?")
		args = append(args, opts.Mailbox)
	}
	for _, m := range opts.ExcludeMailboxes {
		conds = append(conds, "e.mailbox != ?")
		args = append(args, m)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// scopeFilter narrows a compiled FTS5 expression to a single column using
// FTS5's `column : expr` filter syntax. "subject"/"body" restrict the
// match; any other value (including "" and "all") leaves every indexed
// column in play. An empty compiled expression (no query) passes through
// untouched since there's nothing to scope.
func scopeFilter(scope, compiled string) string {
	if compiled == "" {
		return compiled
	}
	switch scope {
	case "subject":
		return "subject : (" + compiled + ")"
	case "body":
		return "body : (" + compiled + ")"
	default:
		return compiled
	}
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

func isFTSSyntaxError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "fts5") || strings.Contains(msg, "malformed MATCH") || strings.Contains(msg, "syntax error")
}
