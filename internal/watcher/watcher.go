// Package watcher keeps the in-memory router configuration in sync with the
// database so that changes written by another instance become visible here.
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	log "github.com/sirupsen/logrus"
)

const (
	// defaultPollInterval controls how often the stored config is checked.
	defaultPollInterval = 2 * time.Second
	// defaultQueryTimeout bounds one load from storage.
	defaultQueryTimeout = 10 * time.Second
)

// Source loads the persisted configuration; nil means nothing is stored.
type Source interface {
	LoadConfig(ctx context.Context) (*fallback.Config, error)
}

// Target receives newer snapshots. ApplyIfNewer must compare and swap
// atomically so a local write racing the poll is never overwritten.
type Target interface {
	Get() fallback.Config
	ApplyIfNewer(cfg fallback.Config) (bool, error)
}

// ConfigWatcher polls Source and applies snapshots whose updated_at is newer
// than the one currently served.
type ConfigWatcher struct {
	source       Source
	target       Target
	pollInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	applied int
}

// NewConfigWatcher constructs a watcher; interval <= 0 uses the default.
func NewConfigWatcher(source Source, target Target, interval time.Duration) *ConfigWatcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &ConfigWatcher{source: source, target: target, pollInterval: interval}
}

// Start launches the poll loop. Calling Start twice is a no-op.
func (w *ConfigWatcher) Start(ctx context.Context) {
	if w == nil || w.source == nil || w.target == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, w.done)
}

// Stop cancels the poll loop and waits for it to exit.
func (w *ConfigWatcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *ConfigWatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, errSync := w.SyncOnce(ctx); errSync != nil && !errors.Is(errSync, context.Canceled) {
				log.WithError(errSync).Warn("config watcher: sync failed")
			}
		}
	}
}

// SyncOnce loads the stored config and applies it when it is newer.
// It reports whether a snapshot was applied.
func (w *ConfigWatcher) SyncOnce(ctx context.Context) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	stored, errLoad := w.source.LoadConfig(qctx)
	if errLoad != nil {
		return false, errLoad
	}
	if stored == nil {
		return false, nil
	}
	current := w.target.Get()
	if !stored.UpdatedAt.After(current.UpdatedAt) {
		return false, nil
	}
	applied, errApply := w.target.ApplyIfNewer(*stored)
	if errApply != nil {
		return false, errApply
	}
	if !applied {
		return false, nil
	}

	w.mu.Lock()
	w.applied++
	w.mu.Unlock()
	log.WithField("updated_at", stored.UpdatedAt).Info("config watcher: applied newer configuration")
	return true, nil
}

// Applied returns how many snapshots have been applied.
func (w *ConfigWatcher) Applied() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applied
}
