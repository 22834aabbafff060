// Package compiler recompiles changed source files into the class output
// directory against a classpath resolved once at startup.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// CompilationError is returned when the toolchain reports failure. It carries
// every diagnostic produced by the invocation, warnings included.
type CompilationError struct {
	Diagnostics []Diagnostic
}

func (e *CompilationError) Error() string {
	errs := 0
	var first string
	for _, d := range e.Diagnostics {
		if d.Kind != KindError {
			continue
		}
		if errs == 0 {
			first = d.String()
		}
		errs++
	}
	if first == "" {
		return "compilation failed"
	}
	return fmt.Sprintf("compilation failed with %d error(s): %s", errs, first)
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger compiler warnings are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// WithOptions sets extra options passed on every compilation.
func WithOptions(opts ...string) Option {
	return func(c *Compiler) { c.options = opts }
}

// Compiler performs incremental compilations. It is not safe for concurrent
// use: callers must serialize Compile.
type Compiler struct {
	toolchain Toolchain
	classpath *ClasspathIndex
	options   []string
	logger    *slog.Logger
}

// New creates a Compiler writing to classpath.OutputDir().
func New(toolchain Toolchain, classpath *ClasspathIndex, opts ...Option) *Compiler {
	c := &Compiler{
		toolchain: toolchain,
		classpath: classpath,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classpath returns the index the compiler was built with.
func (c *Compiler) Classpath() *ClasspathIndex { return c.classpath }

// Compile compiles files into the output directory. On toolchain failure it
// returns a *CompilationError; on success any diagnostics are logged.
func (c *Compiler) Compile(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	out := c.classpath.OutputDir()
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("compiler: create output dir: %w", err)
	}

	res, err := c.toolchain.Compile(ctx, Request{
		Sources:   files,
		Classpath: c.classpath.Entries(),
		OutputDir: out,
		Options:   c.options,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return &CompilationError{Diagnostics: res.Diagnostics}
	}

	for _, d := range res.Diagnostics {
		c.logger.Warn("compiler: "+string(d.Kind),
			"file", d.SourceFile, "line", d.Line, "message", firstLine(d.Message))
	}
	c.logger.Info("compiled changed sources", "files", len(files))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
