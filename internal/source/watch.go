// Package source provides file inputs that feed the ingest pipeline.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/fsnotify/fsnotify"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
)

// Handler receives one settled group of files in the order they appeared.
type Handler func(ctx context.Context, files []*model.RawFile)

// WatchSource watches a drop folder and hands new image files to the
// handler in groups: files arriving within one settle window form one
// group, mirroring a user dropping a multi-selection at once.
type WatchSource struct {
	cfg     config.WatchConfig
	handler Handler
	logger  logger.ILogger

	mu      sync.Mutex
	seen    map[string]struct{}
	pending []string
}

// NewWatchSource creates a new drop-folder source.
func NewWatchSource(cfg config.WatchConfig, handler Handler, log logger.ILogger) *WatchSource {
	return &WatchSource{
		cfg:     cfg,
		handler: handler,
		logger:  log.SubLogger("WatchSource"),
		seen:    make(map[string]struct{}),
	}
}

// Reset forgets all previously handed-in files, so the same paths can be
// imported again. Registered as the ingester's clear hook.
func (w *WatchSource) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]struct{})
	w.logger.Debug("seen-file state reset")
}

// Run watches the configured directory and blocks until the context is
// cancelled. Files already present at startup are imported as one group.
func (w *WatchSource) Run(ctx context.Context) error {
	if w.cfg.Dir == "" {
		return fmt.Errorf("watch dir not configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watching %q: %w", w.cfg.Dir, err)
	}
	w.logger.Infof("watching drop folder: %s", w.cfg.Dir)

	var settleTimer *time.Timer
	var settleChan <-chan time.Time

	resetSettle := func() {
		if settleTimer != nil {
			settleTimer.Stop()
		}
		settleTimer = time.NewTimer(w.cfg.SettleDelay)
		settleChan = settleTimer.C
	}

	// Pick up files that were dropped before we started
	if w.scanExisting() > 0 {
		resetSettle()
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			w.logger.Debug("watch source stopped")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if w.markPending(event.Name) {
				resetSettle()
			}

		case <-settleChan:
			settleChan = nil
			w.flush(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Errorf("fsnotify error: %v", err)
		}
	}
}

// scanExisting queues matching files already in the directory.
func (w *WatchSource) scanExisting() int {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Warningf("scanning drop folder: %v", err)
		return 0
	}

	queued := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if w.markPending(filepath.Join(w.cfg.Dir, entry.Name())) {
			queued++
		}
	}
	return queued
}

// markPending records one matching, unseen file. Returns true if queued.
func (w *WatchSource) markPending(path string) bool {
	if !w.matches(path) || w.isExcluded(path) {
		return false
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[path]; ok {
		return false
	}
	w.seen[path] = struct{}{}
	w.pending = append(w.pending, path)
	return true
}

// flush hands the pending group to the handler. The handler call blocks the
// watch loop until the batch settles, which is the natural backpressure:
// new drops keep accumulating as fsnotify events in the meantime.
func (w *WatchSource) flush(ctx context.Context) {
	w.mu.Lock()
	paths := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}

	files := make([]*model.RawFile, 0, len(paths))
	for _, path := range paths {
		files = append(files, &model.RawFile{
			Name: filepath.Base(path),
			Path: path,
		})
	}

	w.logger.Infof("importing dropped files: count=%d", len(files))
	w.handler(ctx, files)
}

// matches checks the base name against the configured patterns.
func (w *WatchSource) matches(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.cfg.Patterns {
		matched, _ := filepath.Match(pattern, base)
		if matched {
			return true
		}
	}
	return false
}

// isExcluded checks the base name against the exclude patterns.
func (w *WatchSource) isExcluded(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.cfg.Exclude {
		matched, _ := filepath.Match(pattern, base)
		if matched {
			return true
		}
	}
	return false
}
