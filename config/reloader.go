package config

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reconfigurer applies the partially reloadable settings to a running engine.
type Reconfigurer interface {
	// ReregisterConfigFiles replaces the tracked config file set.
	ReregisterConfigFiles(paths []string) error
	// SetInterval changes the minimum time between scans.
	SetInterval(d time.Duration)
}

// ConfigReloader applies dev config edits. Changes limited to the tracked
// config files or the scan interval are applied in place; changes to roots,
// compiler or application settings rebuild the engine.
type ConfigReloader struct {
	mu          sync.Mutex
	current     *DevConfig
	currentHash string
	logger      *slog.Logger

	fullReloadFn func(*DevConfig) error
	reconfigurer Reconfigurer
}

// NewConfigReloader creates a ConfigReloader with the given initial config.
// fullReloadFn is called when the engine must be rebuilt. reconfigurer is
// optional; if nil, every change falls back to fullReloadFn.
func NewConfigReloader(
	initial *DevConfig,
	fullReloadFn func(*DevConfig) error,
	reconfigurer Reconfigurer,
	logger *slog.Logger,
) (*ConfigReloader, error) {
	hash, err := HashConfig(initial)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigReloader{
		current:      initial,
		currentHash:  hash,
		logger:       logger,
		fullReloadFn: fullReloadFn,
		reconfigurer: reconfigurer,
	}, nil
}

// SetReconfigurer updates the Reconfigurer. Call it after a full reload
// replaced the engine.
func (r *ConfigReloader) SetReconfigurer(reconfigurer Reconfigurer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconfigurer = reconfigurer
}

// Current returns the config last applied.
func (r *ConfigReloader) Current() *DevConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// HandleChange applies a config change event.
func (r *ConfigReloader) HandleChange(evt ConfigChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if evt.NewHash != "" && evt.NewHash == r.currentHash {
		return nil
	}
	if err := evt.Config.Validate(); err != nil {
		r.logger.Error("ignoring invalid dev config", "source", evt.Source, "err", err)
		return err
	}

	diff := DiffConfigs(r.current, evt.Config)
	if len(diff.Restart) > 0 {
		r.logger.Warn("dev config sections change only after restarting devreload",
			"sections", diff.Restart)
	}

	switch {
	case len(diff.Rebuild) > 0 || (diff.Partial() && r.reconfigurer == nil):
		r.logger.Info("dev config changed, rebuilding engine", "sections", diff.Rebuild)
		if err := r.fullReloadFn(evt.Config); err != nil {
			return err
		}
	case diff.Partial():
		r.logger.Info("dev config changed, reconfiguring in place",
			"configFiles", diff.ConfigFiles, "scanInterval", diff.ScanInterval)
		if diff.ConfigFiles {
			if err := r.reconfigurer.ReregisterConfigFiles(evt.Config.ConfigFiles); err != nil {
				return err
			}
		}
		if diff.ScanInterval {
			r.reconfigurer.SetInterval(evt.Config.ScanInterval)
		}
	default:
		r.logger.Debug("dev config change has no effective differences")
	}

	r.current = evt.Config
	r.currentHash = evt.NewHash
	return nil
}

// Watch starts a ConfigWatcher on source that feeds HandleChange. Errors
// from HandleChange are logged.
func (r *ConfigReloader) Watch(ctx context.Context, source *FileSource, opts ...WatcherOption) (*ConfigWatcher, error) {
	w := NewConfigWatcher(source, func(evt ConfigChangeEvent) {
		if err := r.HandleChange(evt); err != nil {
			r.logger.Error("dev config reload failed", "source", evt.Source, "err", err)
		}
	}, append([]WatcherOption{WithWatchLogger(r.logger)}, opts...)...)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
