package main

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/GoCodeAlone/devreload/config"
	"github.com/GoCodeAlone/devreload/host"
)

// appProcess holds the application process the dev server fronts. A rebuild
// that changes the app section replaces the process.
type appProcess struct {
	logger *slog.Logger

	mu      sync.RWMutex
	cfg     config.AppConfig
	current *host.ProcessRestarter
}

func newAppProcess(logger *slog.Logger) *appProcess {
	return &appProcess{logger: logger}
}

// ensure starts a process for cfg unless the running one already matches.
func (a *appProcess) ensure(ctx context.Context, cfg config.AppConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil && sameApp(a.cfg, cfg) {
		return nil
	}
	next, err := host.NewProcessRestarter(cfg.Command, cfg.Upstream, host.WithRestartLogger(a.logger))
	if err != nil {
		return err
	}
	if a.current != nil {
		if err := a.current.Stop(); err != nil {
			a.logger.Warn("stop previous application", "err", err)
		}
	}
	// An externally managed application may come up after the dev server.
	if len(cfg.Command) > 0 {
		if err := next.Start(ctx); err != nil {
			return err
		}
	}
	a.current, a.cfg = next, cfg
	a.logger.Info("application started", "upstream", cfg.Upstream, "command", cfg.Command)
	return nil
}

func (a *appProcess) get() *host.ProcessRestarter {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Restart restarts the current process.
func (a *appProcess) Restart(ctx context.Context, swapApplied bool) error {
	return a.get().Restart(ctx, swapApplied)
}

func (a *appProcess) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.get().ServeHTTP(w, r)
}

func (a *appProcess) stop() error {
	if p := a.get(); p != nil {
		return p.Stop()
	}
	return nil
}

func sameApp(a, b config.AppConfig) bool {
	return a.Upstream == b.Upstream && slices.Equal(a.Command, b.Command)
}
