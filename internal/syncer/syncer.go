// Package syncer is the Synchronizer: it reconciles what's on disk with
// what's indexed, one mailbox at a time, inside single-row transactions so
// readers never observe a partially-applied sync.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/felo/mailindex/internal/mailparse"
	"github.com/felo/mailindex/internal/scanner"
	"github.com/felo/mailindex/internal/store"
)

// Syncer drives add/refresh/remove reconciliation for every mailbox found
// under a mail root, using a database handle borrowed from its caller; it
// never closes that handle.
type Syncer struct {
	db            *store.DB
	maxPerMailbox int
	logger        zerolog.Logger
	workers       int
}

// New builds a Syncer. workers bounds how many message files are parsed
// concurrently, grounded on the teacher's channel-plus-WaitGroup indexing
// worker pool.
func New(db *store.DB, maxPerMailbox, workers int, logger zerolog.Logger) *Syncer {
	if workers <= 0 {
		workers = 4
	}
	return &Syncer{db: db, maxPerMailbox: maxPerMailbox, workers: workers, logger: logger}
}

// Result summarizes one SyncUpdates call.
type Result struct {
	Added           int
	Refreshed       int
	Removed         int
	MailboxesSeen   int
	CappedMailboxes int
}

// TotalChanges is the count the Manager's sync_updates operation returns
// to its caller: added, refreshed and removed rows. Rows evicted by the
// per-mailbox cap are not included.
func (r Result) TotalChanges() int {
	return r.Added + r.Refreshed + r.Removed
}

type mailboxKey struct{ account, mailbox string }

// SyncUpdates walks mailRoot, and for every mailbox found, parses any
// message file not yet indexed, re-parses any whose file mtime differs
// from the mtime recorded when it was indexed (source_mtime), and removes
// any indexed row whose file disappeared. A
// mailbox that can't be scanned (permissions, transient I/O) is logged and
// skipped rather than aborting the whole pass.
func (s *Syncer) SyncUpdates(ctx context.Context, mailRoot string) (Result, error) {
	var result Result
	byMailbox := make(map[mailboxKey][]scanner.Entry)

	err := scanner.Scan(mailRoot, s.logger, func(e scanner.Entry) error {
		key := mailboxKey{e.Account, e.Mailbox}
		byMailbox[key] = append(byMailbox[key], e)
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("mail_root", mailRoot).Msg("cannot scan mail root")
		return result, nil
	}

	// A mailbox whose last message file was deleted yields no scanner
	// entries; reconcile every already-indexed mailbox too so its rows go.
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT account, mailbox FROM emails`)
	if err != nil {
		return result, err
	}
	for rows.Next() {
		var key mailboxKey
		if rows.Scan(&key.account, &key.mailbox) == nil && byMailbox[key] == nil {
			byMailbox[key] = nil
		}
	}
	_ = rows.Close()

	for key, entries := range byMailbox {
		mr, err := s.syncMailbox(ctx, key.account, key.mailbox, entries)
		if err != nil {
			s.logger.Warn().Err(err).Str("account", key.account).Str("mailbox", key.mailbox).Msg("sync failed for mailbox")
			continue
		}
		result.Added += mr.Added
		result.Refreshed += mr.Refreshed
		result.Removed += mr.Removed
		result.MailboxesSeen++
		if mr.Capped {
			result.CappedMailboxes++
		}
	}
	return result, nil
}

type mailboxResult struct {
	Added, Refreshed, Removed int
	Capped                    bool
}

func (s *Syncer) syncMailbox(ctx context.Context, account, mailbox string, entries []scanner.Entry) (mailboxResult, error) {
	var mr mailboxResult

	indexed, err := store.IndexedMessages(ctx, s.db, account, mailbox)
	if err != nil {
		return mr, err
	}

	// A file whose filename-derived message id is already indexed with the
	// same mtime hasn't changed on disk; skip reparsing and reupserting it
	// so a no-op pass mutates zero rows.
	seen := make(map[int64]bool, len(entries))
	toParse := make([]scanner.Entry, 0, len(entries))
	for _, e := range entries {
		id, ok := mailparse.MessageIDFromPath(e.Path)
		if ok {
			if im, existed := indexed[id]; existed && im.SourceMtime == e.ModTime.UnixNano() {
				seen[id] = true
				continue
			}
		}
		toParse = append(toParse, e)
	}

	parsed := s.parseConcurrently(toParse)

	for _, p := range parsed {
		if p.msg == nil {
			// Couldn't even open or read the file. If it was previously
			// indexed, leave that row alone rather than treating a
			// transient read failure as a deletion.
			if id, ok := mailparse.MessageIDFromPath(p.entry.Path); ok {
				if _, existed := indexed[id]; existed {
					seen[id] = true
				}
			}
			s.logger.Warn().Err(p.err).Str("path", p.entry.Path).Msg("skipping unreadable message file")
			continue
		}
		if p.err != nil {
			s.logger.Warn().Err(p.err).Str("path", p.entry.Path).Msg("indexing message with malformed body")
		}
		seen[p.msg.MessageID] = true

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return mr, err
		}
		_, existed := indexed[p.msg.MessageID]
		ne := toNewEmail(account, mailbox, p.entry.Path, p.msg)
		ne.SourceMtime = p.entry.ModTime.UnixNano()
		if _, err := store.UpsertEmail(ctx, tx, ne); err != nil {
			_ = tx.Rollback()
			return mr, err
		}
		if err := tx.Commit(); err != nil {
			return mr, err
		}
		if existed {
			mr.Refreshed++
		} else {
			mr.Added++
		}
	}

	for messageID, im := range indexed {
		if seen[messageID] {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return mr, err
		}
		if err := store.DeleteEmail(ctx, tx, im.RowID); err != nil {
			_ = tx.Rollback()
			return mr, err
		}
		if err := tx.Commit(); err != nil {
			return mr, err
		}
		mr.Removed++
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mr, err
	}
	capped, err := store.CapMailbox(ctx, tx, account, mailbox, s.maxPerMailbox)
	if err != nil {
		_ = tx.Rollback()
		return mr, err
	}
	mr.Capped = capped

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails WHERE account = ? AND mailbox = ?`, account, mailbox).Scan(&count); err != nil {
		_ = tx.Rollback()
		return mr, err
	}
	if err := store.UpsertSyncState(ctx, tx, store.SyncState{
		Account: account, Mailbox: mailbox, LastSync: time.Now().UTC(),
		EmailCountAtSync: count, WasCapped: capped,
	}); err != nil {
		_ = tx.Rollback()
		return mr, err
	}
	if err := tx.Commit(); err != nil {
		return mr, err
	}

	return mr, nil
}

type parseOutcome struct {
	entry scanner.Entry
	msg   *mailparse.Message
	err   error
}

// parseConcurrently parses every entry with a bounded worker pool,
// grounded on the indexer's channel-fan-out-plus-WaitGroup shape.
func (s *Syncer) parseConcurrently(entries []scanner.Entry) []parseOutcome {
	results := make([]parseOutcome, len(entries))
	var wg sync.WaitGroup

	type indexedEntry struct {
		idx   int
		entry scanner.Entry
	}
	work := make(chan indexedEntry, len(entries))
	for i, e := range entries {
		work <- indexedEntry{i, e}
	}
	close(work)

	workers := s.workers
	if workers > len(entries) {
		workers = len(entries)
	}
	if workers == 0 {
		return results
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				msg, err := mailparse.ParseFile(item.entry.Path)
				results[item.idx] = parseOutcome{entry: item.entry, msg: msg, err: err}
			}
		}()
	}
	wg.Wait()

	return results
}

func toNewEmail(account, mailbox, path string, msg *mailparse.Message) store.NewEmail {
	attachments := make([]store.NewAttachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, store.NewAttachment{
			Filename: a.Filename, MimeType: a.MimeType, FileSize: a.FileSize, ContentID: a.ContentID,
		})
	}
	return store.NewEmail{
		MessageID: msg.MessageID, Account: account, Mailbox: mailbox,
		Subject: msg.Subject, Sender: msg.Sender, Recipients: msg.Recipients,
		DateReceived: msg.Date, Body: msg.Body, EmlxPath: path, Flags: msg.Flags,
		Attachments: attachments,
	}
}
