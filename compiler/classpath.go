package compiler

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const manifestPath = "META-INF/MANIFEST.MF"

// ErrClasspathList is returned when the externally supplied classpath list
// cannot be read.
var ErrClasspathList = errors.New("compiler: classpath list unreadable")

// Loader is one level of a class loader hierarchy as reported by the host
// runtime. Parent is nil for the root loader.
type Loader struct {
	Name   string
	URLs   []string
	Parent *Loader
}

// AllURLs returns the URLs of l and every ancestor, nearest loader first.
func (l *Loader) AllURLs() []string {
	var out []string
	for cur := l; cur != nil; cur = cur.Parent {
		out = append(out, cur.URLs...)
	}
	return out
}

// ClasspathIndex is the effective compilation classpath. It is immutable once
// built.
type ClasspathIndex struct {
	entries   []string
	outputDir string
}

// Entries returns the classpath entries in sorted order.
func (c *ClasspathIndex) Entries() []string {
	return append([]string(nil), c.entries...)
}

// Len returns the number of classpath entries.
func (c *ClasspathIndex) Len() int { return len(c.entries) }

// OutputDir returns the class output directory the index was built for.
func (c *ClasspathIndex) OutputDir() string { return c.outputDir }

// Contains reports whether path is part of the classpath.
func (c *ClasspathIndex) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	i := sort.SearchStrings(c.entries, abs)
	return i < len(c.entries) && c.entries[i] == abs
}

// String renders the classpath in the platform's list format.
func (c *ClasspathIndex) String() string {
	return strings.Join(c.entries, string(os.PathListSeparator))
}

// ReadClasspathList reads the space-separated list of classpath URIs the host
// runtime publishes alongside the application.
func ReadClasspathList(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClasspathList, err)
	}
	return strings.Fields(string(data)), nil
}

// ReadClasspathListFile is ReadClasspathList for a file on disk. An empty
// path yields an empty list.
func ReadClasspathListFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClasspathList, err)
	}
	defer f.Close()
	return ReadClasspathList(f)
}

// BuildClasspathIndex resolves the compilation classpath from the loader
// hierarchy and the extra URIs, following JAR manifest Class-Path entries
// transitively. Each JAR is parsed at most once, so cyclic manifests resolve
// to a finite set. outputDir is always part of the result.
func BuildClasspathIndex(loader *Loader, extra []string, outputDir string) (*ClasspathIndex, error) {
	outAbs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("compiler: resolve output dir: %w", err)
	}

	var work []string
	for _, raw := range append(loader.AllURLs(), extra...) {
		if p, ok := resolveEntry(raw, ""); ok {
			work = append(work, p)
		}
	}

	seen := make(map[string]struct{})
	classpath := map[string]struct{}{outAbs: {}}
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}

		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.IsDir() {
			classpath[p] = struct{}{}
			continue
		}
		if !strings.HasSuffix(strings.ToLower(p), ".jar") {
			continue
		}
		classpath[p] = struct{}{}

		refs, err := manifestClassPath(p)
		if err != nil {
			return nil, fmt.Errorf("compiler: read manifest of %s: %w", p, err)
		}
		base := filepath.Dir(p)
		for _, ref := range refs {
			resolved, ok := resolveEntry(ref, base)
			if !ok {
				continue
			}
			if _, err := os.Stat(resolved); err == nil {
				work = append(work, resolved)
			}
		}
	}

	entries := make([]string, 0, len(classpath))
	for p := range classpath {
		entries = append(entries, p)
	}
	sort.Strings(entries)
	return &ClasspathIndex{entries: entries, outputDir: outAbs}, nil
}

// resolveEntry turns a classpath reference into an absolute filesystem path.
// file: URLs and absolute paths are used as-is; anything else is resolved
// against base (or the working directory when base is empty). Non-file URLs
// are not resolvable.
func resolveEntry(raw, base string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if u, err := url.Parse(raw); err == nil && len(u.Scheme) > 1 {
		if u.Scheme != "file" {
			return "", false
		}
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		return filepath.Clean(filepath.FromSlash(p)), p != ""
	}
	p := filepath.FromSlash(raw)
	if !filepath.IsAbs(p) {
		if base != "" {
			p = filepath.Join(base, p)
		} else if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
	}
	return filepath.Clean(p), true
}

// manifestClassPath returns the Class-Path entries of the main section of the
// JAR's manifest. A JAR without a manifest has none.
func manifestClassPath(jarPath string) ([]string, error) {
	zr, err := zip.OpenReader(jarPath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if !strings.EqualFold(f.Name, manifestPath) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		attrs, err := parseManifest(rc)
		_ = rc.Close()
		if err != nil {
			return nil, err
		}
		return strings.Fields(attrs["class-path"]), nil
	}
	return nil, nil
}

// parseManifest reads the main section of a JAR manifest. Keys are lowercased.
// Lines beginning with a single space continue the previous value.
func parseManifest(r io.Reader) (map[string]string, error) {
	attrs := make(map[string]string)
	var key string
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimRight(s.Text(), "\r")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, " ") {
			if key != "" {
				attrs[key] += line[1:]
			}
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(k))
		attrs[key] = strings.TrimPrefix(v, " ")
	}
	return attrs, s.Err()
}
