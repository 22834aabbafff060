// Package scan detects source and compiled class files that were modified
// after a reload watermark.
//
// Walks are best-effort with respect to concurrent mutation: an entry that
// disappears between being listed and being stat'ed or read is skipped. Any
// other I/O failure aborts the whole scan, because a partial change set could
// lead the coordinator to hot-swap an inconsistent set of classes.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ClassSuffix is the file extension of compiled class files.
const ClassSuffix = ".class"

// DefaultSourceExtensions lists the source extensions recognised when the
// caller does not configure any.
var DefaultSourceExtensions = []string{".java"}

// readConcurrency bounds the number of class files read in parallel.
const readConcurrency = 8

// ChangeSet is the result of one scan cycle. It is never cached across cycles.
type ChangeSet struct {
	// SourceFiles holds absolute paths of changed source files, deduplicated.
	SourceFiles []string
	// Classes maps fully-qualified class names to their bytecode.
	Classes map[string][]byte
}

// Empty reports whether the change set carries no changes at all.
func (c *ChangeSet) Empty() bool {
	return c == nil || (len(c.SourceFiles) == 0 && len(c.Classes) == 0)
}

// ClassNames returns the changed class names in sorted order.
func (c *ChangeSet) ClassNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Classes))
	for name := range c.Classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Error describes an I/O failure that aborted a scan.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("scan: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Sources walks sourceRoot and returns the absolute paths of files with one of
// the given extensions that changed after watermark. A source file whose
// compiled counterpart under classRoot does not exist is reported as changed
// regardless of its timestamp. An empty sourceRoot yields no files.
func Sources(sourceRoot string, exts []string, classRoot string, watermark time.Time) ([]string, error) {
	if sourceRoot == "" {
		return nil, nil
	}
	if len(exts) == 0 {
		exts = DefaultSourceExtensions
	}
	root, err := filepath.Abs(sourceRoot)
	if err != nil {
		return nil, &Error{Op: "resolve", Path: sourceRoot, Err: err}
	}

	seen := make(map[string]struct{})
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if vanished(err) {
				return nil
			}
			return &Error{Op: "walk", Path: path, Err: err}
		}
		if d.IsDir() {
			return nil
		}
		ext := matchExt(path, exts)
		if ext == "" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if vanished(err) {
				return nil
			}
			return &Error{Op: "stat", Path: path, Err: err}
		}
		if info.ModTime().After(watermark) {
			seen[path] = struct{}{}
			return nil
		}
		missing, err := classMissing(root, path, ext, classRoot)
		if err != nil {
			return err
		}
		if missing {
			seen[path] = struct{}{}
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// descriptorSources compile to a class only when they carry annotations, so
// a missing class says nothing about them.
var descriptorSources = map[string]bool{
	"package-info": true,
	"module-info":  true,
}

// classMissing reports whether the compiled class for the source file at path
// is absent from classRoot. An unset classRoot counts as missing.
func classMissing(sourceRoot, path, ext, classRoot string) (bool, error) {
	if descriptorSources[strings.TrimSuffix(filepath.Base(path), ext)] {
		return false, nil
	}
	if classRoot == "" {
		return true, nil
	}
	rel, err := filepath.Rel(sourceRoot, path)
	if err != nil {
		return false, &Error{Op: "resolve", Path: path, Err: err}
	}
	classPath := filepath.Join(classRoot, strings.TrimSuffix(rel, ext)+ClassSuffix)
	if _, err := os.Stat(classPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, &Error{Op: "stat", Path: classPath, Err: err}
	}
	return false, nil
}

// Classes walks classRoot and returns the bytecode of every class file
// modified after watermark, keyed by fully-qualified class name.
func Classes(ctx context.Context, classRoot string, watermark time.Time) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if classRoot == "" {
		return out, nil
	}
	root, err := filepath.Abs(classRoot)
	if err != nil {
		return nil, &Error{Op: "resolve", Path: classRoot, Err: err}
	}

	type candidate struct{ path, name string }
	var candidates []candidate
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if vanished(err) {
				return nil
			}
			return &Error{Op: "walk", Path: path, Err: err}
		}
		if d.IsDir() || !strings.HasSuffix(path, ClassSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if vanished(err) {
				return nil
			}
			return &Error{Op: "stat", Path: path, Err: err}
		}
		if !info.ModTime().After(watermark) {
			return nil
		}
		name, ok := ClassName(root, path)
		if !ok {
			return nil
		}
		candidates = append(candidates, candidate{path: path, name: name})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for _, c := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(c.path)
			if err != nil {
				if vanished(err) {
					return nil
				}
				return &Error{Op: "read", Path: c.path, Err: err}
			}
			mu.Lock()
			out[c.name] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ClassName derives the fully-qualified class name of the class file at path
// relative to root, e.g. <root>/com/acme/Foo.class -> com.acme.Foo.
func ClassName(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || !strings.HasSuffix(rel, ClassSuffix) {
		return "", false
	}
	rel = strings.TrimSuffix(rel, ClassSuffix)
	return strings.ReplaceAll(rel, "/", "."), true
}

func matchExt(path string, exts []string) string {
	for _, ext := range exts {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	return ""
}

func vanished(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
