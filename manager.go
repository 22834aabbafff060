package devreload

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/devreload/config"
	"github.com/GoCodeAlone/devreload/reload"
)

// BuilderFunc creates an Engine from a config. The manager calls it at
// startup and on every dev config change that needs a rebuild.
type BuilderFunc func(cfg *config.DevConfig) (*Engine, error)

// Manager owns the current Engine and swaps it when the dev config changes
// in a way the running engine cannot absorb. Requests always see a complete
// engine.
type Manager struct {
	build  BuilderFunc
	logger *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[Engine]
	builds  int
}

// NewManager builds the initial engine.
func NewManager(cfg *config.DevConfig, build BuilderFunc, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{build: build, logger: logger}
	if err := m.Rebuild(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Engine returns the current engine.
func (m *Manager) Engine() *Engine {
	return m.current.Load()
}

// Builds returns how many engines were built.
func (m *Manager) Builds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builds
}

// Rebuild replaces the current engine with one built from cfg. On failure the
// current engine stays in place.
func (m *Manager) Rebuild(cfg *config.DevConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.build(cfg)
	if err != nil {
		return fmt.Errorf("devreload: build engine: %w", err)
	}
	prev := m.current.Swap(next)
	m.builds++
	if prev != nil {
		prev.Close()
		m.logger.Info("engine rebuilt", "enabled", next.Enabled(), "builds", m.builds)
	}
	return nil
}

// ReregisterConfigFiles forwards to the current engine.
func (m *Manager) ReregisterConfigFiles(paths []string) error {
	return m.Engine().ReregisterConfigFiles(paths)
}

// SetInterval forwards to the current engine.
func (m *Manager) SetInterval(d time.Duration) {
	m.Engine().SetInterval(d)
}

// Handler gates next on whichever engine is current at request time.
func (m *Manager) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Engine().Handler(next).ServeHTTP(w, r)
	})
}

// AdminHandler serves the admin endpoints of the current engine.
func (m *Manager) AdminHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Engine().AdminHandler().ServeHTTP(w, r)
	})
}

// Mount registers the admin endpoints and the gated application handler on
// mux.
func (m *Manager) Mount(mux *http.ServeMux, app http.Handler) {
	mux.Handle(reload.PathPrefix+"/", m.AdminHandler())
	mux.Handle("/", m.Handler(app))
}
