// Package manager is the Index Manager: the singleton coordinator that
// owns the database handle, the synchronizer, and the watcher, and
// exposes the Index subsystem's entire operation surface to callers.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/felo/mailindex/internal/config"
	"github.com/felo/mailindex/internal/logging"
	"github.com/felo/mailindex/internal/search"
	"github.com/felo/mailindex/internal/store"
	"github.com/felo/mailindex/internal/syncer"
	"github.com/felo/mailindex/internal/watcher"
)

// Manager coordinates every Index subsystem component behind a single
// handle. Writers (SyncUpdates, the watcher's debounced re-sync) are
// serialized with writeMu; reads go straight to the store, which WAL mode
// keeps unblocked by an in-flight write.
type Manager struct {
	cfg     *config.Config
	db      *store.DB
	syncer  *syncer.Syncer
	watcher *watcher.Watcher
	logger  zerolog.Logger

	writeMu sync.Mutex
}

var (
	instanceMu sync.Mutex
	instance   *Manager
)

// GetInstance returns the process-wide Manager, constructing it from cfg
// on first call. Subsequent calls return the same instance regardless of
// the cfg argument, matching the singleton contract; pass nil to accept
// whatever instance already exists (constructing one from config.Default
// if none does).
func GetInstance(cfg *config.Config) (*Manager, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return instance, nil
	}
	if cfg == nil {
		cfg = config.Default()
	}
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	instance = m
	return instance, nil
}

// New constructs a standalone Manager outside the singleton, for tests
// that need an isolated instance rather than the process-wide one.
func New(cfg *config.Config) (*Manager, error) {
	return newManager(cfg)
}

// ResetForTest closes and discards the singleton so tests can start from a
// clean instance. Not used outside tests.
func ResetForTest() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		_ = instance.Close()
		instance = nil
	}
}

func newManager(cfg *config.Config) (*Manager, error) {
	logger := logging.New(nil)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("mailindex: open index: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		db:     db,
		syncer: syncer.New(db, cfg.IndexMaxEmails, 4, logging.Component(logger, "sync")),
		logger: logger,
	}
	m.watcher = watcher.New(cfg.MailRoot, cfg.WatcherDebounce(), func(ctx context.Context) error {
		_, err := m.SyncUpdates(ctx)
		return err
	}, logging.Component(logger, "watcher"))

	return m, nil
}

// HasIndex reports whether an index database file exists on disk.
func HasIndex(cfg *config.Config) bool {
	return store.Exists(cfg.DBPath)
}

// HasIndex reports whether this Manager's index database file exists.
func (m *Manager) HasIndex() bool {
	return store.Exists(m.cfg.DBPath)
}

// Close stops the watcher (so it triggers no further syncs), then waits
// for any SyncUpdates already in flight to finish its whole pass before
// releasing the database handle; an in-flight pass is not stopped after
// its current mailbox. Close is idempotent.
func (m *Manager) Close() error {
	if m.watcher != nil && m.watcher.Running() {
		_ = m.watcher.Stop()
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// Search runs a free-form query against the index.
func (m *Manager) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return search.Emails(ctx, m.db, query, opts)
}

// SearchAttachments runs a free-form query against attachment metadata.
func (m *Manager) SearchAttachments(ctx context.Context, query string, opts search.Options) ([]search.AttachmentResult, error) {
	return search.Attachments(ctx, m.db, query, opts)
}

// ListAccounts returns every account present in the index with its email
// count.
func (m *Manager) ListAccounts(ctx context.Context) (map[string]int, error) {
	return store.ListAccounts(ctx, m.db)
}

// GetEmails returns the most recent N email row projections by
// date_received desc, optionally narrowed to account/mailbox. An empty
// index yields an empty list.
func (m *Manager) GetEmails(ctx context.Context, limit int, account, mailbox string) ([]store.Email, error) {
	return store.ListRecent(ctx, m.db, account, mailbox, clampGetEmailsLimit(limit))
}

func clampGetEmailsLimit(n int) int {
	if n <= 0 {
		return search.DefaultLimit
	}
	if n > search.MaxLimit {
		return search.MaxLimit
	}
	return n
}

// GetEmailAttachments returns the attachment children of an email row.
func (m *Manager) GetEmailAttachments(ctx context.Context, rowID int64) ([]store.Attachment, error) {
	return store.GetAttachments(ctx, m.db, rowID)
}

// FindEmailLocation finds where a message_id lives (account/mailbox),
// optionally narrowed to disambiguate a composite key replicated across
// mailboxes.
func (m *Manager) FindEmailLocation(ctx context.Context, messageID int64, account, mailbox string) ([]store.Email, error) {
	return store.FindEmailLocation(ctx, m.db, messageID, account, mailbox)
}

// FindEmailPath returns the on-disk .emlx path for a message_id, the first
// match when more than one mailbox carries it.
func (m *Manager) FindEmailPath(ctx context.Context, messageID int64, account, mailbox string) (string, error) {
	rows, err := store.FindEmailLocation(ctx, m.db, messageID, account, mailbox)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].EmlxPath, nil
}

// Stats is the get_stats projection.
type Stats struct {
	EmailCount      int
	MailboxCount    int
	LastSync        *time.Time
	StalenessHours  float64
	CappedMailboxes int
	DBSizeHuman     string
}

// GetStats reports index-wide counters and staleness.
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&stats.EmailCount); err != nil {
		return stats, err
	}

	if size, err := m.db.SizeHuman(); err == nil {
		stats.DBSizeHuman = size
	}
	mailboxCount, err := store.MailboxCount(ctx, m.db)
	if err != nil {
		return stats, err
	}
	stats.MailboxCount = mailboxCount

	capped, err := store.CappedMailboxCount(ctx, m.db)
	if err != nil {
		return stats, err
	}
	stats.CappedMailboxes = capped

	oldest, ok, err := store.OldestLastSync(ctx, m.db)
	if err != nil {
		return stats, err
	}
	if ok {
		stats.LastSync = &oldest
		stats.StalenessHours = time.Since(oldest).Hours()
	}
	return stats, nil
}

// IsStale reports whether the index has never been synced, or the oldest
// mailbox's last sync is older than the configured staleness threshold.
func (m *Manager) IsStale(ctx context.Context) (bool, error) {
	oldest, ok, err := store.OldestLastSync(ctx, m.db)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return time.Since(oldest) > m.cfg.StalenessThreshold(), nil
}

// SyncUpdates runs one reconciliation pass over the configured mail root
// and returns the number of rows it changed. Writers are serialized: a
// sync already in flight blocks a concurrent caller rather than racing it.
func (m *Manager) SyncUpdates(ctx context.Context) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	result, err := m.syncer.SyncUpdates(ctx, m.cfg.MailRoot)
	if err != nil {
		return 0, err
	}
	return result.TotalChanges(), nil
}

// StartWatcher begins watching the configured mail root for changes.
func (m *Manager) StartWatcher(ctx context.Context) error {
	return m.watcher.Start(ctx)
}

// StopWatcher stops the background watcher.
func (m *Manager) StopWatcher() error {
	return m.watcher.Stop()
}

// WatcherRunning reports whether the watcher is currently active.
func (m *Manager) WatcherRunning() bool {
	return m.watcher.Running()
}
