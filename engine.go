// Package devreload wires the change detector, incremental compiler, config
// file tracker and reload coordinator into a development-mode hot-reload
// engine that sits in front of an application's HTTP handler.
package devreload

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/GoCodeAlone/devreload/compiler"
	"github.com/GoCodeAlone/devreload/config"
	"github.com/GoCodeAlone/devreload/observability"
	"github.com/GoCodeAlone/devreload/observability/tracing"
	"github.com/GoCodeAlone/devreload/reload"
	"github.com/GoCodeAlone/devreload/tracker"
)

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger    *slog.Logger
	metrics   *observability.ReloadMetrics
	tracer    *tracing.ReloadTracer
	redefiner reload.Redefiner
	toolchain compiler.Toolchain
	loader    *compiler.Loader
	clock     func() time.Time
	history   int
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithMetrics records reload metrics.
func WithMetrics(m *observability.ReloadMetrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithTracer records reload spans.
func WithTracer(t *tracing.ReloadTracer) Option {
	return func(o *engineOptions) { o.tracer = t }
}

// WithRedefiner enables in-place class redefinition.
func WithRedefiner(r reload.Redefiner) Option {
	return func(o *engineOptions) { o.redefiner = r }
}

// WithToolchain replaces the command line compiler.
func WithToolchain(t compiler.Toolchain) Option {
	return func(o *engineOptions) { o.toolchain = t }
}

// WithLoader supplies the classloader hierarchy whose URLs seed the
// compilation classpath.
func WithLoader(l *compiler.Loader) Option {
	return func(o *engineOptions) { o.loader = l }
}

// WithClock replaces time.Now in the coordinator.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.clock = now }
}

// WithCycleHistory sets how many scan cycles the status API reports.
func WithCycleHistory(n int) Option {
	return func(o *engineOptions) { o.history = n }
}

// Engine is one hot-reload setup built from a DevConfig. When startup fails
// on an unrecoverable toolchain or classpath problem the Engine is disabled:
// its handler forwards every request untouched and no scan is ever made.
type Engine struct {
	cfg       *config.DevConfig
	logger    *slog.Logger
	coord     *reload.Coordinator
	live      *reload.LiveReload
	classpath *compiler.ClasspathIndex
	admin     http.Handler
	disabled  error
}

// New builds an Engine. restarter rebuilds the application after a reload.
// Configuration errors other than a missing class output directory are
// returned; toolchain and classpath failures disable the Engine instead.
func New(cfg *config.DevConfig, restarter reload.Restarter, opts ...Option) (*Engine, error) {
	o := engineOptions{logger: slog.Default(), history: 32}
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine{cfg: cfg, logger: o.logger}

	if err := cfg.Validate(); err != nil {
		if !errors.Is(err, config.ErrNoClassesDir) {
			return nil, err
		}
		return e.disable(err), nil
	}

	var comp *compiler.Compiler
	if cfg.Paths.Sources != "" {
		var err error
		comp, err = e.buildCompiler(o)
		if err != nil {
			return e.disable(err), nil
		}
	}

	reg := tracker.New(cfg.Paths.Classes, cfg.Paths.Resources, tracker.WithLogger(o.logger))
	if err := reg.Register(cfg.ConfigFiles); err != nil {
		return nil, fmt.Errorf("devreload: register config files: %w", err)
	}

	e.live = reload.NewLiveReload(o.logger)
	copts := []reload.Option{
		reload.WithLogger(o.logger),
		reload.WithTracker(reg),
		reload.WithInterval(cfg.ScanInterval),
		reload.WithMetrics(o.metrics),
		reload.WithLiveReload(e.live),
		reload.WithCycleHistory(observability.NewCycleTracker(o.history)),
		reload.WithStatusDetails(e.statusDetails),
	}
	if comp != nil {
		copts = append(copts, reload.WithCompiler(comp))
	}
	if o.redefiner != nil {
		copts = append(copts, reload.WithRedefiner(o.redefiner))
	}
	if o.tracer != nil {
		copts = append(copts, reload.WithTracer(o.tracer))
	}
	if o.clock != nil {
		copts = append(copts, reload.WithClock(o.clock))
	}

	scanner := &reload.FSScanner{
		SourceRoot:       cfg.Paths.Sources,
		ClassRoot:        cfg.Paths.Classes,
		SourceExtensions: cfg.SourceExtensions,
	}
	e.coord = reload.New(scanner, restarter, copts...)
	e.admin = e.buildAdmin()

	o.logger.Info("hot reload enabled",
		"classes", cfg.Paths.Classes,
		"sources", cfg.Paths.Sources,
		"resources", cfg.Paths.Resources,
		"configFiles", len(cfg.ConfigFiles),
		"interval", e.coord.Interval())
	return e, nil
}

func (e *Engine) buildCompiler(o engineOptions) (*compiler.Compiler, error) {
	tc := o.toolchain
	if tc == nil {
		javac, err := compiler.NewExecToolchain(e.cfg.Compiler.Command, e.cfg.Compiler.Args...)
		if err != nil {
			return nil, err
		}
		tc = javac
	}

	extra, err := compiler.ReadClasspathListFile(e.cfg.Compiler.ClasspathFile)
	if err != nil {
		return nil, err
	}
	extra = append(extra, e.cfg.Compiler.Classpath...)

	idx, err := compiler.BuildClasspathIndex(o.loader, extra, e.cfg.Paths.Classes)
	if err != nil {
		return nil, err
	}
	e.classpath = idx
	return compiler.New(tc, idx, compiler.WithLogger(o.logger)), nil
}

func (e *Engine) disable(err error) *Engine {
	e.disabled = err
	e.admin = e.buildAdmin()
	e.logger.Error("hot reload disabled", "err", err)
	return e
}

func (e *Engine) statusDetails() map[string]any {
	d := map[string]any{
		"classes": e.cfg.Paths.Classes,
	}
	if e.cfg.Paths.Sources != "" {
		d["sources"] = e.cfg.Paths.Sources
	}
	if e.classpath != nil {
		d["classpathEntries"] = e.classpath.Len()
	}
	return d
}

// Enabled reports whether hot reload is active.
func (e *Engine) Enabled() bool { return e.disabled == nil }

// DisabledReason returns the startup error that disabled reload, or nil.
func (e *Engine) DisabledReason() error { return e.disabled }

// Coordinator returns the reload coordinator, or nil when disabled.
func (e *Engine) Coordinator() *reload.Coordinator { return e.coord }

// Classpath returns the compilation classpath, or nil when no source root is
// configured or reload is disabled.
func (e *Engine) Classpath() *compiler.ClasspathIndex { return e.classpath }

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.DevConfig { return e.cfg }

// Handler wraps next with the reload gate. A disabled engine returns next.
func (e *Engine) Handler(next http.Handler) http.Handler {
	if !e.Enabled() {
		return next
	}
	return e.coord.Middleware(next)
}

func (e *Engine) buildAdmin() http.Handler {
	mux := http.NewServeMux()
	if e.Enabled() {
		reload.NewAPIHandler(e.coord).RegisterRoutes(mux)
		return mux
	}
	mux.HandleFunc(reload.PathPrefix+"/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, reload.ErrReloadDisabled.Error()+": "+e.disabled.Error(), http.StatusServiceUnavailable)
	})
	return mux
}

// AdminHandler serves the admin endpoints under reload.PathPrefix. It is built
// once per engine.
func (e *Engine) AdminHandler() http.Handler { return e.admin }

// RegisterRoutes mounts the admin endpoints on mux.
func (e *Engine) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(reload.PathPrefix+"/", e.admin)
}

// ReregisterConfigFiles replaces the tracked config file set.
func (e *Engine) ReregisterConfigFiles(paths []string) error {
	if !e.Enabled() {
		return reload.ErrReloadDisabled
	}
	return e.coord.ReregisterConfigFiles(paths)
}

// SetInterval changes the minimum time between scans.
func (e *Engine) SetInterval(d time.Duration) {
	if e.Enabled() {
		e.coord.SetInterval(d)
	}
}

// Close disconnects live-reload clients.
func (e *Engine) Close() {
	e.live.Close()
}
