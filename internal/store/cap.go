package store

import (
	"context"
	"database/sql"
)

// CapMailbox enforces index_max_emails for one mailbox: if it holds more
// than max rows, the oldest by date_received are deleted until exactly max
// remain. It reports whether any row was evicted.
func CapMailbox(ctx context.Context, tx *sql.Tx, account, mailbox string, max int) (capped bool, err error) {
	if max <= 0 {
		return false, nil
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM emails WHERE account = ? AND mailbox = ?
	`, account, mailbox).Scan(&count); err != nil {
		return false, err
	}
	if count <= max {
		return false, nil
	}

	excess := count - max
	_, err = tx.ExecContext(ctx, `
		DELETE FROM emails WHERE id IN (
			SELECT id FROM emails WHERE account = ? AND mailbox = ?
			ORDER BY date_received ASC LIMIT ?
		)
	`, account, mailbox, excess)
	if err != nil {
		return false, err
	}
	return true, nil
}
