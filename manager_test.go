package devreload

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GoCodeAlone/devreload/config"
	"github.com/GoCodeAlone/devreload/reload"
)

func TestManager_RebuildSwapsEngine(t *testing.T) {
	l := newLayout(t)
	cfg := l.config()
	cfg.Paths.Sources = ""

	build := func(c *config.DevConfig) (*Engine, error) {
		return New(c, &restartRecorder{}, WithLogger(discardLogger()))
	}
	m, err := NewManager(cfg, build, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	first := m.Engine()
	if !first.Enabled() {
		t.Fatalf("expected enabled engine, got %v", first.DisabledReason())
	}

	next := l.config()
	next.Paths.Sources = ""
	next.ScanInterval = 7 * time.Second
	if err := m.Rebuild(next); err != nil {
		t.Fatal(err)
	}
	if m.Engine() == first {
		t.Fatal("expected a new engine after rebuild")
	}
	if got := m.Engine().Coordinator().Interval(); got != 7*time.Second {
		t.Fatalf("expected rebuilt interval 7s, got %s", got)
	}
	if m.Builds() != 2 {
		t.Fatalf("expected 2 builds, got %d", m.Builds())
	}
}

func TestManager_FailedRebuildKeepsCurrent(t *testing.T) {
	l := newLayout(t)
	cfg := l.config()
	cfg.Paths.Sources = ""

	build := func(c *config.DevConfig) (*Engine, error) {
		return New(c, &restartRecorder{}, WithLogger(discardLogger()))
	}
	m, err := NewManager(cfg, build, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	current := m.Engine()

	bad := l.config()
	bad.ScanInterval = -time.Second
	if err := m.Rebuild(bad); err == nil {
		t.Fatal("expected rebuild error")
	}
	if m.Engine() != current {
		t.Fatal("failed rebuild must keep the current engine")
	}
}

func TestManager_ForwardsReconfiguration(t *testing.T) {
	l := newLayout(t)
	cfg := l.config()
	cfg.Paths.Sources = ""

	m, err := NewManager(cfg, func(c *config.DevConfig) (*Engine, error) {
		return New(c, &restartRecorder{}, WithLogger(discardLogger()))
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	var _ config.Reconfigurer = m
	if err := m.ReregisterConfigFiles([]string{"application.yaml"}); err != nil {
		t.Fatal(err)
	}
	m.SetInterval(3 * time.Second)

	coord := m.Engine().Coordinator()
	if got := coord.TrackedConfigFiles(); len(got) != 1 || got[0] != "application.yaml" {
		t.Fatalf("unexpected tracked files %v", got)
	}
	if coord.Interval() != 3*time.Second {
		t.Fatalf("expected 3s interval, got %s", coord.Interval())
	}
}

func TestManager_MountServesCurrentEngine(t *testing.T) {
	m, err := NewManager(config.DefaultConfig(), func(c *config.DevConfig) (*Engine, error) {
		return New(c, &restartRecorder{}, WithLogger(discardLogger()))
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(m.ReregisterConfigFiles(nil), reload.ErrReloadDisabled) {
		t.Fatal("disabled engine should reject reregistration")
	}

	mux := http.NewServeMux()
	m.Mount(mux, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected app response, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, reload.PathPrefix+"/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from disabled admin, got %d", rec.Code)
	}
}

func TestManager_AdminHandlerFollowsRebuild(t *testing.T) {
	l := newLayout(t)
	cfg := l.config()
	cfg.Paths.Sources = ""

	m, err := NewManager(cfg, func(c *config.DevConfig) (*Engine, error) {
		return New(c, &restartRecorder{}, WithLogger(discardLogger()))
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	first := m.Engine().AdminHandler()
	if first == nil || m.Engine().AdminHandler() != first {
		t.Fatal("expected the engine to keep a single admin handler")
	}

	admin := m.AdminHandler()
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, reload.PathPrefix+"/status", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	next := l.config()
	next.Paths.Sources = ""
	if err := m.Rebuild(next); err != nil {
		t.Fatal(err)
	}
	if m.Engine().AdminHandler() == first {
		t.Fatal("expected rebuilt engine to carry its own admin handler")
	}
	rec := httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, reload.PathPrefix+"/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after rebuild, got %d", rec.Code)
	}
}
