package scanner_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/felo/mailindex/internal/scanner"
)

func TestScanFindsMessagesAcrossMailboxes(t *testing.T) {
	root := t.TempDir()
	account := "11111111-1111-1111-1111-111111111111"
	inbox := filepath.Join(root, account, "INBOX")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "1.eml"), []byte("From: a@example.com\r\n\r\nbody\r\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "2.partial.eml"), []byte("From: a@example.com\r\n\r\nbody\r\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "Envelope Index"), []byte("not a message"), 0o644))

	var entries []scanner.Entry
	err := scanner.Scan(root, zerolog.Nop(), func(e scanner.Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1, "partial downloads and non-message files are skipped")
	require.Equal(t, "INBOX", entries[0].Mailbox)
	require.False(t, entries[0].ModTime.IsZero())
}

func TestScanSkipsUnreadableSubtreeAndContinues(t *testing.T) {
	root := t.TempDir()
	account := "11111111-1111-1111-1111-111111111111"
	accountDir := filepath.Join(root, account)
	require.NoError(t, os.MkdirAll(filepath.Join(accountDir, "INBOX"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(accountDir, "INBOX", "1.eml"), []byte("From: a@example.com\r\n\r\nbody\r\n"), 0o644))

	// A dangling symlink masquerading as a mailbox entry: resolving it
	// fails, but the rest of the account must still be scanned.
	require.NoError(t, os.Symlink(filepath.Join(root, "does-not-exist"), filepath.Join(accountDir, "Broken")))

	var entries []scanner.Entry
	err := scanner.Scan(root, zerolog.Nop(), func(e scanner.Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "INBOX", entries[0].Mailbox)
}

func TestScanMissingRootIsAnError(t *testing.T) {
	err := scanner.Scan(filepath.Join(t.TempDir(), "missing"), zerolog.Nop(), func(scanner.Entry) error {
		return nil
	})
	require.Error(t, err)
}
