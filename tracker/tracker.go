// Package tracker watches a declared set of configuration resources by
// modification time, independently of compiled classes.
package tracker

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry records the last observed modification time of every tracked
// configuration path. Paths are relative to the resource root when one is
// configured, otherwise to the class output root.
//
// CheckForChanges never advances the recorded timestamps; only Register does.
// A change therefore keeps being reported until the path set is registered
// again.
type Registry struct {
	classRoot    string
	resourceRoot string
	logger       *slog.Logger

	mu     sync.Mutex
	stamps map[string]time.Time
}

// New creates an empty Registry. resourceRoot may be empty.
func New(classRoot, resourceRoot string, opts ...Option) *Registry {
	r := &Registry{
		classRoot:    classRoot,
		resourceRoot: resourceRoot,
		logger:       slog.Default(),
		stamps:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register replaces the tracked path set. Each path's current modification
// time is recorded, or the zero time if the file does not exist yet.
func (r *Registry) Register(paths []string) error {
	stamps := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		info, err := os.Stat(r.resolve(p))
		switch {
		case err == nil:
			stamps[p] = info.ModTime()
		case errors.Is(err, fs.ErrNotExist):
			stamps[p] = time.Time{}
		default:
			return fmt.Errorf("tracker: stat %s: %w", p, err)
		}
	}

	r.mu.Lock()
	r.stamps = stamps
	r.mu.Unlock()
	r.logger.Debug("tracking config files", "files", len(stamps))
	return nil
}

// Paths returns the tracked paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.stamps))
	for p := range r.stamps {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Timestamp returns the recorded modification time of a tracked path.
func (r *Registry) Timestamp(path string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.stamps[path]
	return ts, ok
}

// CheckForChanges reports whether any existing tracked file is newer than its
// recorded timestamp. When a distinct resource root is configured, each
// changed file is mirrored into the class output root.
func (r *Registry) CheckForChanges() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for p, recorded := range r.stamps {
		src := r.resolve(p)
		info, err := os.Stat(src)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return false, fmt.Errorf("tracker: stat %s: %w", p, err)
		}
		if !info.ModTime().After(recorded) {
			continue
		}
		changed = true
		r.logger.Info("config file changed", "path", p)
		if r.mirrors() {
			if err := copyFile(src, filepath.Join(r.classRoot, filepath.FromSlash(p))); err != nil {
				return false, fmt.Errorf("tracker: copy %s: %w", p, err)
			}
		}
	}
	return changed, nil
}

func (r *Registry) mirrors() bool {
	if r.resourceRoot == "" {
		return false
	}
	return filepath.Clean(r.resourceRoot) != filepath.Clean(r.classRoot)
}

func (r *Registry) resolve(p string) string {
	root := r.resourceRoot
	if root == "" {
		root = r.classRoot
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

// copyFile overwrites dst with the contents of src. The write goes to a
// temporary sibling that is renamed into place.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dst)+"-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
