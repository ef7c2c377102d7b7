package manager_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felo/mailindex/internal/config"
	"github.com/felo/mailindex/internal/manager"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		MailRoot:          filepath.Join(dir, "mail"),
		DBPath:            filepath.Join(dir, "index.db"),
		IndexMaxEmails:    5000,
		StalenessHours:    24,
		WatcherDebounceMs: 50,
	}
}

func TestSingletonReturnsSameInstance(t *testing.T) {
	manager.ResetForTest()
	defer manager.ResetForTest()

	cfg := testConfig(t)
	m1, err := manager.GetInstance(cfg)
	require.NoError(t, err)
	m2, err := manager.GetInstance(nil)
	require.NoError(t, err)
	require.Same(t, m1, m2)
}

func TestResetForTestCreatesNewInstance(t *testing.T) {
	manager.ResetForTest()
	defer manager.ResetForTest()

	cfg := testConfig(t)
	m1, err := manager.GetInstance(cfg)
	require.NoError(t, err)

	manager.ResetForTest()

	m2, err := manager.GetInstance(cfg)
	require.NoError(t, err)
	require.NotSame(t, m1, m2)
}

func TestHasIndex(t *testing.T) {
	cfg := testConfig(t)
	require.False(t, manager.HasIndex(cfg))

	m, err := manager.New(cfg)
	require.NoError(t, err)
	defer m.Close()

	require.True(t, manager.HasIndex(cfg))
}

func TestGetStatsEmptyIndex(t *testing.T) {
	m, err := manager.New(testConfig(t))
	require.NoError(t, err)
	defer m.Close()

	stats, err := m.GetStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.EmailCount)
	require.Nil(t, stats.LastSync)
}

func TestIsStaleNeverSynced(t *testing.T) {
	m, err := manager.New(testConfig(t))
	require.NoError(t, err)
	defer m.Close()

	stale, err := m.IsStale(context.Background())
	require.NoError(t, err)
	require.True(t, stale)
}

func TestSyncUpdatesMissingMailRootReturnsZero(t *testing.T) {
	m, err := manager.New(testConfig(t))
	require.NoError(t, err)
	defer m.Close()

	n, err := m.SyncUpdates(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCloseIsIdempotent(t *testing.T) {
	m, err := manager.New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestSyncUpdatesIndexesMessagesAndStalenessTracksElapsedTime(t *testing.T) {
	cfg := testConfig(t)
	account := "acct"
	mailboxDir := filepath.Join(cfg.MailRoot, account, "INBOX")
	require.NoError(t, os.MkdirAll(mailboxDir, 0o755))

	content := "From: a@example.com\r\nSubject: hi\r\nDate: Mon, 1 Jan 2024 00:00:00 +0000\r\nContent-Type: text/plain\r\n\r\nbody\r\n"
	framed := strconv.Itoa(len(content)) + "\n" + content
	require.NoError(t, os.WriteFile(filepath.Join(mailboxDir, "1.emlx"), []byte(framed), 0o644))

	m, err := manager.New(cfg)
	require.NoError(t, err)
	defer m.Close()

	n, err := m.SyncUpdates(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stats, err := m.GetStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.EmailCount)
	require.NotNil(t, stats.LastSync)
	require.InDelta(t, 0, stats.StalenessHours, 0.1)

	stale, err := m.IsStale(context.Background())
	require.NoError(t, err)
	require.False(t, stale)
}

func TestGetEmailsReturnsMostRecentByAccountAndMailbox(t *testing.T) {
	cfg := testConfig(t)
	writeFixture := func(account, mailbox, id, subject string) {
		dir := filepath.Join(cfg.MailRoot, account, mailbox)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		content := "From: a@example.com\r\nSubject: " + subject + "\r\nDate: Mon, 1 Jan 2024 00:00:00 +0000\r\nContent-Type: text/plain\r\n\r\nbody\r\n"
		framed := strconv.Itoa(len(content)) + "\n" + content
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".emlx"), []byte(framed), 0o644))
	}
	writeFixture("acct-a", "INBOX", "1", "first")
	writeFixture("acct-a", "Archive", "2", "second")
	writeFixture("acct-b", "INBOX", "3", "third")

	m, err := manager.New(cfg)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.SyncUpdates(context.Background())
	require.NoError(t, err)

	all, err := m.GetEmails(context.Background(), 0, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	acctAOnly, err := m.GetEmails(context.Background(), 0, "acct-a", "")
	require.NoError(t, err)
	require.Len(t, acctAOnly, 2)

	inboxOnly, err := m.GetEmails(context.Background(), 0, "acct-a", "INBOX")
	require.NoError(t, err)
	require.Len(t, inboxOnly, 1)
	require.EqualValues(t, 1, inboxOnly[0].MessageID)
}

func TestGetEmailsEmptyIndexReturnsEmptyList(t *testing.T) {
	m, err := manager.New(testConfig(t))
	require.NoError(t, err)
	defer m.Close()

	emails, err := m.GetEmails(context.Background(), 10, "", "")
	require.NoError(t, err)
	require.Empty(t, emails)
}
