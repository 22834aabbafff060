// Package reload gates inbound requests on a rate-limited scan for changed
// sources, classes and config files, and decides between forwarding, hot
// swapping classes, restarting the application, or serving a diagnostic page.
package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/GoCodeAlone/devreload/compiler"
	"github.com/GoCodeAlone/devreload/observability"
	"github.com/GoCodeAlone/devreload/observability/tracing"
	"github.com/GoCodeAlone/devreload/scan"
)

// DefaultInterval is the minimum time between two scans.
const DefaultInterval = 2 * time.Second

// SourceCompiler compiles changed source files into the class output root.
// A failed compilation is reported as a *compiler.CompilationError.
type SourceCompiler interface {
	Compile(ctx context.Context, files []string) error
}

// ConfigTracker watches declared configuration files.
type ConfigTracker interface {
	Register(paths []string) error
	Paths() []string
	CheckForChanges() (bool, error)
}

// Redefiner replaces the bytecode of loaded classes in place.
type Redefiner interface {
	Redefine(ctx context.Context, classes map[string][]byte) error
}

// Restarter rebuilds the application's request handling. swapApplied is true
// when changed classes were already redefined in place.
type Restarter interface {
	Restart(ctx context.Context, swapApplied bool) error
}

// RedefineFunc adapts a function to Redefiner.
type RedefineFunc func(ctx context.Context, classes map[string][]byte) error

func (f RedefineFunc) Redefine(ctx context.Context, classes map[string][]byte) error {
	return f(ctx, classes)
}

// RestartFunc adapts a function to Restarter.
type RestartFunc func(ctx context.Context, swapApplied bool) error

func (f RestartFunc) Restart(ctx context.Context, swapApplied bool) error {
	return f(ctx, swapApplied)
}

// State is the coordinator's externally observable state.
type State string

const (
	StateIdle    State = "idle"
	StateScanDue State = "scan_due"
	StateFaulted State = "faulted"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCompiler enables recompilation of changed sources.
func WithCompiler(c SourceCompiler) Option {
	return func(co *Coordinator) { co.compiler = c }
}

// WithTracker enables config file change detection.
func WithTracker(t ConfigTracker) Option {
	return func(co *Coordinator) { co.tracker = t }
}

// WithRedefiner enables in-place class redefinition before restarts.
func WithRedefiner(r Redefiner) Option {
	return func(co *Coordinator) { co.redefiner = r }
}

// WithInterval sets the minimum time between scans. Non-positive values
// select DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(co *Coordinator) { co.SetInterval(d) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(co *Coordinator) { co.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithMetrics records cycle metrics.
func WithMetrics(m *observability.ReloadMetrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// WithTracer records cycle spans.
func WithTracer(t *tracing.ReloadTracer) Option {
	return func(co *Coordinator) { co.tracer = t }
}

// WithLiveReload notifies connected browsers of reloads and problems.
func WithLiveReload(l *LiveReload) Option {
	return func(co *Coordinator) { co.live = l }
}

// WithCycleHistory keeps a history of completed cycles for the status API.
func WithCycleHistory(t *observability.CycleTracker) Option {
	return func(co *Coordinator) { co.cycles = t }
}

// WithStatusDetails adds extra fields to the status API response.
func WithStatusDetails(fn func() map[string]any) Option {
	return func(co *Coordinator) { co.details = fn }
}

// WithPage sets the renderer used while a problem is set.
func WithPage(p *Page) Option {
	return func(co *Coordinator) { co.page = p }
}

// Coordinator is the per-process reload gate. It is safe for concurrent use.
type Coordinator struct {
	scanner   Scanner
	restarter Restarter
	compiler  SourceCompiler
	tracker   ConfigTracker
	redefiner Redefiner

	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.ReloadMetrics
	tracer  *tracing.ReloadTracer
	live    *LiveReload
	cycles  *observability.CycleTracker
	details func() map[string]any
	page    *Page

	interval atomic.Int64
	// nextScan and lastChange hold unix nanoseconds. Both are written only
	// while mu is held; nextScan is read without it on the fast path.
	nextScan   atomic.Int64
	lastChange atomic.Int64
	problem    atomic.Pointer[DeploymentProblem]

	mu sync.Mutex
}

// New creates a Coordinator. The watermark starts at the current time, so
// only changes made after construction trigger a reload, except sources that
// have never been compiled.
func New(scanner Scanner, restarter Restarter, opts ...Option) *Coordinator {
	c := &Coordinator{
		scanner:   scanner,
		restarter: restarter,
		now:       time.Now,
		logger:    slog.Default(),
	}
	c.interval.Store(int64(DefaultInterval))
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = tracing.NewReloadTracer(nil)
	}
	if c.page == nil {
		c.page = NewPage(c.logger)
	}
	c.lastChange.Store(c.now().UnixNano())
	return c
}

// Check is called once per inbound request. It returns ResultSkipped without
// locking while the scan interval has not elapsed. Otherwise exactly one
// caller runs a scan cycle and concurrent callers wait for it, then skip.
// The cycle is not cancelled with ctx; only its values and span are kept.
func (c *Coordinator) Check(ctx context.Context) ScanResult {
	if !c.due() {
		return ScanResult{Kind: ResultSkipped}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.due() {
		return ScanResult{Kind: ResultSkipped}
	}
	return c.cycle(context.WithoutCancel(ctx), "request")
}

// ForceScan runs a scan cycle now, regardless of the interval.
func (c *Coordinator) ForceScan(ctx context.Context) ScanResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextScan.Store(0)
	return c.cycle(context.WithoutCancel(ctx), "forced")
}

func (c *Coordinator) due() bool {
	return c.now().UnixNano() >= c.nextScan.Load()
}

// Middleware gates next on Check. Scan failures answer 500; a recorded
// problem answers with the diagnostic page.
func (c *Coordinator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := c.Check(r.Context())
		if res.Failed() {
			http.Error(w, res.Err.Error(), http.StatusInternalServerError)
			return
		}
		if p := c.problem.Load(); p != nil {
			c.page.Serve(w, r, p)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// State returns the current state.
func (c *Coordinator) State() State {
	switch {
	case c.problem.Load() != nil:
		return StateFaulted
	case c.due():
		return StateScanDue
	default:
		return StateIdle
	}
}

// Problem returns the current deployment problem, or nil.
func (c *Coordinator) Problem() *DeploymentProblem {
	return c.problem.Load()
}

// Interval returns the minimum time between scans.
func (c *Coordinator) Interval() time.Duration {
	return time.Duration(c.interval.Load())
}

// SetInterval changes the minimum time between scans from the next cycle on.
func (c *Coordinator) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	c.interval.Store(int64(d))
}

// LastChange returns the reload watermark.
func (c *Coordinator) LastChange() time.Time {
	return time.Unix(0, c.lastChange.Load())
}

// NextScan returns the time before which no scan runs.
func (c *Coordinator) NextScan() time.Time {
	return time.Unix(0, c.nextScan.Load())
}

// ReregisterConfigFiles replaces the tracked config file set, waiting for any
// running cycle to finish first.
func (c *Coordinator) ReregisterConfigFiles(paths []string) error {
	if c.tracker == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Register(paths)
}

// TrackedConfigFiles returns the tracked config file set.
func (c *Coordinator) TrackedConfigFiles() []string {
	if c.tracker == nil {
		return nil
	}
	return c.tracker.Paths()
}

// Cycles returns recently completed cycles, oldest first.
func (c *Coordinator) Cycles() []observability.CycleRecord {
	return c.cycles.Recent()
}

func (c *Coordinator) advance(from time.Time) {
	c.nextScan.Store(from.Add(c.Interval()).UnixNano())
}

// cycle runs one scan with mu held.
func (c *Coordinator) cycle(ctx context.Context, trigger string) ScanResult {
	start := c.now()
	id := uuid.New()
	ctx, span := c.tracer.StartCycle(ctx, trigger)
	span.SetAttributes(attribute.String("devreload.cycle", id.String()))
	defer span.End()

	res := c.run(ctx, id)
	res.Cycle = id

	elapsed := c.now().Sub(start)
	c.metrics.RecordScan(outcome(res), elapsed)
	c.cycles.Record(cycleRecord(res, start, elapsed))

	log := c.logger.With("cycle", id.String(), "trigger", trigger)
	switch res.Kind {
	case ResultOK:
		c.tracer.SetSuccess(span)
		if res.Action != ActionNone {
			log.Info("application reloaded", "action", string(res.Action),
				"classes", len(res.Changes.Classes), "config", res.ConfigChanged, "duration", elapsed)
		} else {
			log.Debug("no changes detected", "duration", elapsed)
		}
	case ResultCompileFailed:
		c.tracer.RecordError(span, res.Err)
		log.Warn("compilation failed", "files", len(res.Changes.SourceFiles), "err", res.Err)
	default:
		c.tracer.RecordError(span, res.Err)
		log.Error("scan cycle failed", "result", res.Kind.String(), "err", res.Err)
	}
	return res
}

func (c *Coordinator) run(ctx context.Context, id uuid.UUID) ScanResult {
	watermark := c.LastChange()
	changes := &scan.ChangeSet{}

	_, sspan := c.tracer.StartPhase(ctx, tracing.PhaseScan, attribute.String("devreload.tree", "sources"))
	sources, err := c.scanner.ScanSources(watermark)
	if err != nil {
		c.tracer.RecordError(sspan, err)
		sspan.End()
		return ScanResult{Kind: ResultIOError, Changes: changes, Err: err}
	}
	changes.SourceFiles = sources
	sspan.End()

	if len(sources) > 0 && c.compiler != nil {
		if res, failed := c.compile(ctx, id, changes); failed {
			return res
		}
	}

	_, cspan := c.tracer.StartPhase(ctx, tracing.PhaseScan, attribute.String("devreload.tree", "classes"))
	classes, err := c.scanner.ScanClasses(ctx, watermark)
	if err != nil {
		c.tracer.RecordError(cspan, err)
		cspan.End()
		return ScanResult{Kind: ResultIOError, Changes: changes, Err: err}
	}
	cspan.SetAttributes(attribute.Int("devreload.classes", len(classes)))
	cspan.End()
	changes.Classes = classes

	configChanged := false
	if c.tracker != nil {
		_, tspan := c.tracer.StartPhase(ctx, tracing.PhaseConfig)
		configChanged, err = c.tracker.CheckForChanges()
		c.tracer.RecordError(tspan, err)
		tspan.End()
		if err != nil {
			return ScanResult{Kind: ResultIOError, Changes: changes, Err: fmt.Errorf("reload: check config files: %w", err)}
		}
	}

	decided := c.now()
	c.advance(decided)
	if c.problem.Swap(nil) != nil {
		c.metrics.SetFaulted(false)
		c.logger.Info("compilation problem resolved")
	}

	res := ScanResult{Kind: ResultOK, Changes: changes, ConfigChanged: configChanged}
	if len(classes) == 0 && !configChanged {
		return res
	}
	c.lastChange.Store(decided.UnixNano())

	res.Action, err = c.reload(ctx, changes, configChanged)
	if err != nil {
		res.Kind = ResultReloadFailed
		res.Err = err
		return res
	}
	c.metrics.RecordReload(string(res.Action), len(classes))
	c.live.Broadcast(Event{Type: EventReload, Cycle: id, Action: res.Action, Classes: changes.ClassNames()})
	return res
}

// compile reports whether the cycle must stop after compiling.
func (c *Coordinator) compile(ctx context.Context, id uuid.UUID, changes *scan.ChangeSet) (ScanResult, bool) {
	ctx, span := c.tracer.StartPhase(ctx, tracing.PhaseCompile,
		attribute.Int("devreload.sources", len(changes.SourceFiles)))
	defer span.End()

	err := c.compiler.Compile(ctx, changes.SourceFiles)
	if err == nil {
		c.metrics.RecordCompilation("ok")
		c.tracer.SetSuccess(span)
		return ScanResult{}, false
	}
	c.tracer.RecordError(span, err)

	var cerr *compiler.CompilationError
	if !errors.As(err, &cerr) {
		c.metrics.RecordCompilation("error")
		return ScanResult{Kind: ResultIOError, Changes: changes, Err: err}, true
	}

	now := c.now()
	p := newProblem(id, now, changes.SourceFiles, cerr)
	c.problem.Store(p)
	c.advance(now)
	c.metrics.RecordCompilation("failed")
	c.metrics.SetFaulted(true)
	c.live.Broadcast(Event{Type: EventProblem, Cycle: id, Problem: p})
	return ScanResult{
		Kind:        ResultCompileFailed,
		Changes:     changes,
		Diagnostics: cerr.Diagnostics,
		Err:         cerr,
	}, true
}

func (c *Coordinator) reload(ctx context.Context, changes *scan.ChangeSet, configChanged bool) (Action, error) {
	action := ActionRestart
	if c.redefiner != nil && len(changes.Classes) > 0 && !configChanged {
		rctx, span := c.tracer.StartPhase(ctx, tracing.PhaseRedefine,
			attribute.Int("devreload.classes", len(changes.Classes)))
		err := c.redefiner.Redefine(rctx, changes.Classes)
		c.tracer.RecordError(span, err)
		span.End()
		if err != nil {
			return ActionHotSwap, &RedefineError{Classes: changes.ClassNames(), Err: err}
		}
		action = ActionHotSwap
	}

	rctx, span := c.tracer.StartPhase(ctx, tracing.PhaseRestart,
		attribute.Bool("devreload.swap_applied", action == ActionHotSwap))
	err := c.restarter.Restart(rctx, action == ActionHotSwap)
	c.tracer.RecordError(span, err)
	span.End()
	if err != nil {
		return action, fmt.Errorf("reload: restart application: %w", err)
	}

	// A restarted application declares its config files again.
	if c.tracker != nil {
		if err := c.tracker.Register(c.tracker.Paths()); err != nil {
			return action, fmt.Errorf("reload: re-register config files: %w", err)
		}
	}
	return action, nil
}

func outcome(res ScanResult) string {
	if res.Kind == ResultOK {
		if res.Action == ActionNone {
			return "no_change"
		}
		return "reloaded"
	}
	return res.Kind.String()
}

func cycleRecord(res ScanResult, start time.Time, elapsed time.Duration) observability.CycleRecord {
	rec := observability.CycleRecord{
		ID:        res.Cycle,
		Outcome:   outcome(res),
		Action:    string(res.Action),
		Config:    res.ConfigChanged,
		StartedAt: start,
		Duration:  elapsed,
	}
	if res.Changes != nil {
		rec.SourceFiles = len(res.Changes.SourceFiles)
		rec.Classes = len(res.Changes.Classes)
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}
