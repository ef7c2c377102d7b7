package syncer_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/felo/mailindex/internal/store"
	"github.com/felo/mailindex/internal/syncer"
)

func writeMessage(t *testing.T, dir string, messageID int, subject string, date time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := fmt.Sprintf(
		"From: sender@example.com\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/plain\r\n\r\nbody text\r\n",
		subject, date.Format(time.RFC1123Z),
	)
	framed := strconv.Itoa(len(content)) + "\n" + content
	path := filepath.Join(dir, strconv.Itoa(messageID)+".emlx")
	require.NoError(t, os.WriteFile(path, []byte(framed), 0o644))
}

func TestSyncUpdatesAddsAndCaps(t *testing.T) {
	root := t.TempDir()
	account := "11111111-1111-1111-1111-111111111111"
	mailboxDir := filepath.Join(root, account, "INBOX")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeMessage(t, mailboxDir, 1, "first", base)
	writeMessage(t, mailboxDir, 2, "second", base.AddDate(0, 0, 1))
	writeMessage(t, mailboxDir, 3, "third", base.AddDate(0, 0, 2))
	writeMessage(t, mailboxDir, 4, "fourth", base.AddDate(0, 0, 3))

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	syncer := syncer.New(db, 3, 2, zerolog.Nop())
	result, err := syncer.SyncUpdates(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 4, result.Added)
	require.Equal(t, 1, result.CappedMailboxes)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM emails`).Scan(&count))
	require.Equal(t, 3, count, "capped mailbox keeps only the newest 3")

	var oldestSubject string
	require.NoError(t, db.QueryRow(`SELECT subject FROM emails ORDER BY date_received ASC LIMIT 1`).Scan(&oldestSubject))
	require.Equal(t, "second", oldestSubject, "oldest entry (first) was evicted")
}

func TestSyncUpdatesIsIdempotent(t *testing.T) {
	root := t.TempDir()
	account := "acct"
	mailboxDir := filepath.Join(root, account, "INBOX")
	writeMessage(t, mailboxDir, 1, "hello", time.Now())

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	syncer := syncer.New(db, 0, 2, zerolog.Nop())
	r1, err := syncer.SyncUpdates(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 1, r1.Added)

	r2, err := syncer.SyncUpdates(context.Background(), root)
	require.NoError(t, err)
	require.Zero(t, r2.TotalChanges(), "a second sync with no on-disk changes mutates zero rows")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM emails`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestSyncUpdatesRefreshesWhenFileChanges(t *testing.T) {
	root := t.TempDir()
	account := "acct"
	mailboxDir := filepath.Join(root, account, "INBOX")
	writeMessage(t, mailboxDir, 1, "hello", time.Now())

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	syncer := syncer.New(db, 0, 2, zerolog.Nop())
	_, err = syncer.SyncUpdates(context.Background(), root)
	require.NoError(t, err)

	writeMessage(t, mailboxDir, 1, "hello again", time.Now())
	touched := time.Now().Add(time.Hour)
	path := filepath.Join(mailboxDir, "1.emlx")
	require.NoError(t, os.Chtimes(path, touched, touched))

	result, err := syncer.SyncUpdates(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 1, result.Refreshed)
	require.Zero(t, result.Added)

	var subject string
	require.NoError(t, db.QueryRow(`SELECT subject FROM emails WHERE message_id = 1`).Scan(&subject))
	require.Equal(t, "hello again", subject)
}

func TestSyncUpdatesRemovesDeletedFiles(t *testing.T) {
	root := t.TempDir()
	account := "acct"
	mailboxDir := filepath.Join(root, account, "INBOX")
	writeMessage(t, mailboxDir, 1, "hello", time.Now())

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	syncer := syncer.New(db, 0, 2, zerolog.Nop())
	_, err = syncer.SyncUpdates(context.Background(), root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(mailboxDir, "1.emlx")))

	result, err := syncer.SyncUpdates(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 1, result.Removed)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM emails`).Scan(&count))
	require.Equal(t, 0, count)
}
