package compiler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

type fakeToolchain struct {
	calls []Request
	res   Result
	err   error
}

func (f *fakeToolchain) Compile(_ context.Context, req Request) (Result, error) {
	f.calls = append(f.calls, req)
	return f.res, f.err
}

func newTestIndex(t *testing.T) *ClasspathIndex {
	t.Helper()
	idx, err := BuildClasspathIndex(nil, nil, filepath.Join(t.TempDir(), "classes"))
	if err != nil {
		t.Fatalf("BuildClasspathIndex: %v", err)
	}
	return idx
}

func TestCompiler_FailureCarriesAllDiagnostics(t *testing.T) {
	tc := &fakeToolchain{res: Result{
		Success: false,
		Diagnostics: []Diagnostic{
			{Kind: KindError, Message: "';' expected", SourceFile: "Foo.java", Line: 4},
			{Kind: KindWarning, Message: "unchecked", SourceFile: "Foo.java", Line: 9},
		},
	}}
	c := New(tc, newTestIndex(t))

	err := c.Compile(context.Background(), []string{"Foo.java"})
	var cerr *CompilationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CompilationError, got %v", err)
	}
	if len(cerr.Diagnostics) != 2 {
		t.Errorf("expected 2 diagnostics, got %d", len(cerr.Diagnostics))
	}
	msg := err.Error()
	if !strings.Contains(msg, "1 error(s)") || !strings.Contains(msg, "Foo.java:4") {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestCompiler_RequestShape(t *testing.T) {
	tc := &fakeToolchain{res: Result{Success: true}}
	idx := newTestIndex(t)
	c := New(tc, idx, WithOptions("-parameters"))

	if err := c.Compile(context.Background(), []string{"A.java", "B.java"}); err != nil {
		t.Fatal(err)
	}
	if len(tc.calls) != 1 {
		t.Fatalf("expected one toolchain call, got %d", len(tc.calls))
	}
	req := tc.calls[0]
	if !slices.Equal(req.Sources, []string{"A.java", "B.java"}) {
		t.Errorf("unexpected sources %v", req.Sources)
	}
	if req.OutputDir != idx.OutputDir() {
		t.Errorf("expected output dir %q, got %q", idx.OutputDir(), req.OutputDir)
	}
	if !slices.Equal(req.Classpath, idx.Entries()) {
		t.Errorf("expected classpath %v, got %v", idx.Entries(), req.Classpath)
	}
	if !slices.Equal(req.Options, []string{"-parameters"}) {
		t.Errorf("unexpected options %v", req.Options)
	}
	if info, err := os.Stat(idx.OutputDir()); err != nil || !info.IsDir() {
		t.Errorf("expected output dir to be created: %v", err)
	}
}

func TestCompiler_WarningsAreLoggedOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tc := &fakeToolchain{res: Result{
		Success:     true,
		Diagnostics: []Diagnostic{{Kind: KindWarning, Message: "deprecated\ndetail", SourceFile: "A.java", Line: 2}},
	}}
	c := New(tc, newTestIndex(t), WithLogger(logger))

	if err := c.Compile(context.Background(), []string{"A.java"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "compiler: warning") || !strings.Contains(out, "file=A.java") {
		t.Errorf("expected warning log, got %q", out)
	}
	if strings.Contains(out, "detail") {
		t.Errorf("expected only the first message line, got %q", out)
	}
}

func TestCompiler_NoFilesSkipsToolchain(t *testing.T) {
	tc := &fakeToolchain{}
	c := New(tc, newTestIndex(t))
	if err := c.Compile(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(tc.calls) != 0 {
		t.Errorf("expected no toolchain calls, got %d", len(tc.calls))
	}
}

func TestCompiler_ToolchainErrorIsNotCompilationError(t *testing.T) {
	tc := &fakeToolchain{err: errors.New("exec: permission denied")}
	c := New(tc, newTestIndex(t))

	err := c.Compile(context.Background(), []string{"A.java"})
	if err == nil {
		t.Fatal("expected error")
	}
	var cerr *CompilationError
	if errors.As(err, &cerr) {
		t.Error("toolchain failure must not be a compilation error")
	}
}

func TestCompiler_CancelledContextIsNotCompilationError(t *testing.T) {
	tc := &fakeToolchain{err: context.Canceled}
	c := New(tc, newTestIndex(t))

	err := c.Compile(context.Background(), []string{"A.java"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var cerr *CompilationError
	if errors.As(err, &cerr) {
		t.Error("cancellation must not be a compilation error")
	}
}

func TestCompilationError_NoErrorsListed(t *testing.T) {
	err := &CompilationError{}
	if got := err.Error(); got != "compilation failed" {
		t.Errorf("expected %q, got %q", "compilation failed", got)
	}
}
