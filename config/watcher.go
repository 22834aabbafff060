package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a ConfigWatcher.
type WatcherOption func(*ConfigWatcher)

// WithWatchDebounce sets the debounce duration for file change events.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *ConfigWatcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *ConfigWatcher) { w.logger = l }
}

// ConfigWatcher reports edits of the dev config file. It watches the
// directory containing the file so editors that save by renaming over the
// original are seen too.
type ConfigWatcher struct {
	source   *FileSource
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ConfigChangeEvent)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	lastHash  string

	mu      sync.Mutex
	pending time.Time
}

// NewConfigWatcher creates a ConfigWatcher for the given FileSource.
// onChange is called from the watcher goroutine for every content change.
func NewConfigWatcher(source *FileSource, onChange func(ConfigChangeEvent), opts ...WatcherOption) *ConfigWatcher {
	w := &ConfigWatcher{
		source:   source,
		debounce: 300 * time.Millisecond,
		logger:   slog.Default(),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start records the current content hash and begins watching.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	hash, err := w.source.Hash(ctx)
	if err != nil {
		return fmt.Errorf("config watcher: initial hash: %w", err)
	}
	w.lastHash = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	dir := filepath.Dir(w.source.Path())
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher and waits for the background goroutine to exit.
// It is safe to call Stop multiple times.
func (w *ConfigWatcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *ConfigWatcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	target := filepath.Clean(w.source.Path())
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "err", err)

		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *ConfigWatcher) processPending() {
	w.mu.Lock()
	ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
	if ready {
		w.pending = time.Time{}
	}
	w.mu.Unlock()

	if ready {
		w.processChange()
	}
}

// processChange calls onChange if the file content differs from the last
// seen content and parses cleanly.
func (w *ConfigWatcher) processChange() {
	ctx := context.Background()
	path := w.source.Path()

	newHash, err := w.source.Hash(ctx)
	if err != nil {
		w.logger.Error("config watcher: failed to hash config", "path", path, "err", err)
		return
	}
	if newHash == w.lastHash {
		w.logger.Debug("config watcher: content unchanged, skipping", "path", path)
		return
	}

	cfg, err := w.source.Load(ctx)
	if err != nil {
		w.logger.Error("config watcher: failed to load config", "path", path, "err", err)
		return
	}

	oldHash := w.lastHash
	w.lastHash = newHash
	w.logger.Info("dev config changed", "path", path, "old_hash", oldHash[:8], "new_hash", newHash[:8])

	w.onChange(ConfigChangeEvent{
		Source:  w.source.Name(),
		OldHash: oldHash,
		NewHash: newHash,
		Config:  cfg,
		Time:    time.Now(),
	})
}
