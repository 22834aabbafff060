// Package host provides the application-side collaborators of the reload
// coordinator: a restarter that runs the application as a child process
// behind a reverse proxy, and a client for an in-process redefinition agent.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// RestarterOption configures a ProcessRestarter.
type RestarterOption func(*ProcessRestarter)

// WithRestartLogger sets the logger.
func WithRestartLogger(l *slog.Logger) RestarterOption {
	return func(p *ProcessRestarter) { p.logger = l }
}

// WithReadyTimeout bounds how long Restart waits for the upstream to accept
// connections.
func WithReadyTimeout(d time.Duration) RestarterOption {
	return func(p *ProcessRestarter) { p.readyTimeout = d }
}

// WithStopTimeout bounds how long a stopping process gets before it is killed.
func WithStopTimeout(d time.Duration) RestarterOption {
	return func(p *ProcessRestarter) { p.stopTimeout = d }
}

// WithEnv adds environment variables to the application process.
func WithEnv(env ...string) RestarterOption {
	return func(p *ProcessRestarter) { p.env = append(p.env, env...) }
}

// ProcessRestarter runs the application command and proxies requests to it.
// Restart stops the running process, if any, and starts a new one. When the
// classes were already redefined in place, the running process is kept.
type ProcessRestarter struct {
	command      []string
	upstream     *url.URL
	env          []string
	logger       *slog.Logger
	readyTimeout time.Duration
	stopTimeout  time.Duration
	proxy        *httputil.ReverseProxy

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan struct{}
	restarts int
}

// NewProcessRestarter creates a restarter for command, listening on upstream.
// An empty command proxies to an externally managed application; Restart then
// only waits for the upstream to become reachable.
func NewProcessRestarter(command []string, upstream string, opts ...RestarterOption) (*ProcessRestarter, error) {
	u, err := url.Parse(upstream)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("host: invalid upstream %q", upstream)
	}
	p := &ProcessRestarter{
		command:      command,
		upstream:     u,
		logger:       slog.Default(),
		readyTimeout: 30 * time.Second,
		stopTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.proxy = httputil.NewSingleHostReverseProxy(u)
	p.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Warn("upstream unavailable", "path", r.URL.Path, "err", err)
		http.Error(w, "application unavailable: "+err.Error(), http.StatusBadGateway)
	}
	return p, nil
}

// ServeHTTP forwards the request to the application.
func (p *ProcessRestarter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}

// Start launches the application if it is not running.
func (p *ProcessRestarter) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running() {
		return nil
	}
	return p.startLocked(ctx)
}

// Restart implements the coordinator's restart capability.
func (p *ProcessRestarter) Restart(ctx context.Context, swapApplied bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if swapApplied && p.running() {
		p.logger.Info("classes redefined in place, keeping application process")
		return nil
	}
	if err := p.stopLocked(); err != nil {
		return err
	}
	if err := p.startLocked(ctx); err != nil {
		return err
	}
	p.restarts++
	return nil
}

// Stop terminates the application process.
func (p *ProcessRestarter) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

// Restarts returns the number of completed restarts.
func (p *ProcessRestarter) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

func (p *ProcessRestarter) running() bool {
	if p.cmd == nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *ProcessRestarter) startLocked(ctx context.Context) error {
	if len(p.command) > 0 {
		// The process outlives the request that triggered the restart.
		cmd := exec.Command(p.command[0], p.command[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = append(os.Environ(), p.env...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("host: start application: %w", err)
		}
		exited := make(chan struct{})
		go func() {
			err := cmd.Wait()
			p.logger.Debug("application exited", "pid", cmd.Process.Pid, "err", err)
			close(exited)
		}()
		p.cmd, p.exited = cmd, exited
		p.logger.Info("application started", "pid", cmd.Process.Pid, "command", p.command[0])
	}
	return p.waitReady(ctx)
}

func (p *ProcessRestarter) stopLocked() error {
	if !p.running() {
		p.cmd = nil
		return nil
	}
	pid := p.cmd.Process.Pid
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("host: stop application: %w", err)
	}
	select {
	case <-p.exited:
	case <-time.After(p.stopTimeout):
		p.logger.Warn("application did not stop in time, killing", "pid", pid)
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	p.cmd = nil
	return nil
}

func (p *ProcessRestarter) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.readyTimeout)
	defer cancel()

	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", p.upstream.Host)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if p.cmd != nil && !p.running() {
			return fmt.Errorf("host: application exited before accepting connections")
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("host: wait for %s: %w", p.upstream.Host, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}
