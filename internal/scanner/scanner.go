// Package scanner walks an Apple Mail store's on-disk layout
// (<root>/<account>/<mailbox>/<message file>) and enumerates message
// files for the synchronizer to diff against the index.
package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one discovered message file.
type Entry struct {
	Account string
	Mailbox string
	Path    string
	ModTime time.Time
}

// messageExtensions are the file types treated as message files; anything
// else under a mailbox directory (.mbox metadata, Envelope Index, etc.) is
// skipped.
var messageExtensions = map[string]bool{
	".emlx": true,
	".eml":  true,
}

// Scan walks root and invokes fn once per discovered message file.
// Partial downloads (`<id>.partial.emlx`) are skipped: they have no
// complete body to index. A symlinked mailbox directory is followed once;
// a visited-realpath set prevents directory cycles from looping forever.
// Symlinked account directories and symlinked directories nested inside a
// mailbox are not descended into. An I/O error reading one account or
// mailbox subtree is logged and that subtree is skipped; it never aborts
// the rest of the scan. A root that can't be read is returned as an
// error; beyond that, only fn's own error propagates out of Scan, since
// that represents the caller choosing to stop.
func Scan(root string, logger zerolog.Logger, fn func(Entry) error) error {
	accountDirs, err := os.ReadDir(root)
	if err != nil {
		return err
	}

	for _, accountDir := range accountDirs {
		if !accountDir.IsDir() {
			continue
		}
		account := accountDir.Name()
		if _, err := uuid.Parse(account); err != nil {
			logger.Debug().Str("account", account).Msg("account directory is not UUID-shaped")
		}

		accountPath := filepath.Join(root, account)
		visited := make(map[string]bool)
		if err := walkMailboxes(accountPath, account, visited, logger, fn); err != nil {
			return err
		}
	}
	return nil
}

func walkMailboxes(dir, account string, visited map[string]bool, logger zerolog.Logger, fn func(Entry) error) error {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		logger.Warn().Err(err).Str("path", dir).Str("account", account).Msg("cannot resolve account directory, skipping")
		return nil
	}
	if visited[real] {
		return nil
	}
	visited[real] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn().Err(err).Str("path", dir).Str("account", account).Msg("cannot read account directory, skipping")
		return nil
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path) // follows symlinks once
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("cannot stat mailbox entry, skipping")
			continue
		}
		if info.IsDir() {
			mailbox := strings.TrimSuffix(entry.Name(), ".mbox")
			if err := walkMessages(path, account, mailbox, visited, logger, fn); err != nil {
				return err
			}
			continue
		}
	}
	return nil
}

func walkMessages(dir, account, mailbox string, visited map[string]bool, logger zerolog.Logger, fn func(Entry) error) error {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		logger.Warn().Err(err).Str("path", dir).Str("mailbox", mailbox).Msg("cannot resolve mailbox directory, skipping")
		return nil
	}
	if visited[real] {
		return nil
	}
	visited[real] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn().Err(err).Str("path", dir).Str("mailbox", mailbox).Msg("cannot read mailbox directory, skipping")
		return nil
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := walkMessages(path, account, mailbox, visited, logger, fn); err != nil {
				return err
			}
			continue
		}
		if isPartial(entry.Name()) {
			continue
		}
		if !messageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("cannot stat message file, skipping")
			continue
		}
		if err := fn(Entry{Account: account, Mailbox: mailbox, Path: path, ModTime: info.ModTime()}); err != nil {
			return err
		}
	}
	return nil
}

func isPartial(name string) bool {
	return strings.Contains(name, ".partial.")
}
