// Package watcher runs one background worker that watches a mail root for
// filesystem changes and triggers a debounced re-sync. Bursts of events
// collapse into a single pending re-sync rather than queuing one per
// event, per the "one owned worker, not callback chains" design.
package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SyncFunc performs one re-sync pass; the watcher calls it whenever the
// debounced change signal fires.
type SyncFunc func(ctx context.Context) error

// Watcher owns an fsnotify watch over a mail root and debounces bursts of
// change events into a single re-sync call.
type Watcher struct {
	root     string
	debounce time.Duration
	sync     SyncFunc
	logger   zerolog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{}
}

// New builds a Watcher. It does not start watching until Start is called.
func New(root string, debounceInterval time.Duration, sync SyncFunc, logger zerolog.Logger) *Watcher {
	return &Watcher{root: root, debounce: debounceInterval, sync: sync, logger: logger}
}

// Running reports whether the watcher currently has a background worker
// active.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Start begins watching. Calling Start on an already-running watcher is a
// no-op, matching the idempotent start/stop contract.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addRecursive(fsw, w.root); err != nil {
		_ = fsw.Close()
		return err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running.Store(true)

	go w.run(workerCtx, fsw)
	return nil
}

// Stop signals the background worker to exit and waits for it to finish.
// Calling Stop when not running is a no-op.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running.Load() {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	fsw := w.fsw
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
	return fsw.Close()
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)
	defer w.running.Store(false)

	debounced := debounce.New(w.debounce)
	// pending is the single-slot flag: a full channel means a re-sync is
	// already queued, so further events during a burst or an in-flight
	// sync collapse into that one pending slot instead of queuing.
	pending := make(chan struct{}, 1)

	signal := func() {
		select {
		case pending <- struct{}{}:
		default:
		}
	}

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-pending:
				syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
				if err := w.sync(syncCtx); err != nil {
					w.logger.Warn().Err(err).Msg("debounced re-sync failed")
				}
				cancel()
			}
		}
	}()
	// Let a re-sync already in flight return before the worker counts as
	// finished.
	defer func() { <-syncDone }()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if isRelevant(event) {
				debounced(signal)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func isRelevant(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return walkDirs(root, func(dir string) error {
		return fsw.Add(dir)
	})
}
