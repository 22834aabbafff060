package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const javacFailureOutput = `/src/com/acme/Foo.java:12: error: cannot find symbol
        return bar();
               ^
  symbol:   method bar()
  location: class Foo
/src/com/acme/Foo.java:20: warning: [deprecation] baz() in Qux has been deprecated
        new Qux().baz();
                 ^
Note: Some input files use unchecked or unsafe operations.
1 error
1 warning
`

func TestParseDiagnostics(t *testing.T) {
	diags := ParseDiagnostics([]byte(javacFailureOutput))
	if len(diags) != 3 {
		t.Fatalf("expected 3 diagnostics, got %d: %+v", len(diags), diags)
	}

	if diags[0].Kind != KindError {
		t.Errorf("expected error kind, got %q", diags[0].Kind)
	}
	if diags[0].SourceFile != "/src/com/acme/Foo.java" || diags[0].Line != 12 {
		t.Errorf("unexpected location %s:%d", diags[0].SourceFile, diags[0].Line)
	}
	if want := "cannot find symbol\nsymbol:   method bar()\nlocation: class Foo"; diags[0].Message != want {
		t.Errorf("expected message %q, got %q", want, diags[0].Message)
	}
	if diags[1].Kind != KindWarning || diags[1].Line != 20 {
		t.Errorf("unexpected warning %+v", diags[1])
	}
	if diags[2].Kind != KindNote || diags[2].SourceFile != "" {
		t.Errorf("unexpected note %+v", diags[2])
	}
}

func TestDiagnosticString(t *testing.T) {
	tests := []struct {
		diag Diagnostic
		want string
	}{
		{Diagnostic{Kind: KindError, Message: "boom", SourceFile: "Foo.java", Line: 3}, "Foo.java:3: error: boom"},
		{Diagnostic{Kind: KindWarning, Message: "hm", SourceFile: "Foo.java"}, "Foo.java: warning: hm"},
		{Diagnostic{Kind: KindNote, Message: "fyi"}, "note: fyi"},
	}
	for _, tt := range tests {
		if got := tt.diag.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestNewExecToolchain_Missing(t *testing.T) {
	_, err := NewExecToolchain("definitely-not-a-compiler-binary")
	if !errors.Is(err, ErrNoToolchain) {
		t.Fatalf("expected ErrNoToolchain, got %v", err)
	}
}

// fakeCompiler writes a shell script standing in for javac.
func fakeCompiler(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script compiler stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fakejavac")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newScriptToolchain(t *testing.T, body string, args ...string) *ExecToolchain {
	t.Helper()
	tc, err := NewExecToolchain(fakeCompiler(t, body), args...)
	if err != nil {
		t.Fatalf("NewExecToolchain: %v", err)
	}
	return tc
}

func TestExecToolchain_Failure(t *testing.T) {
	tc := newScriptToolchain(t, `echo "$1:7: error: ';' expected" 1>&2
echo "$1:9: error: class, interface, or enum expected" 1>&2
echo "2 errors" 1>&2
exit 1
`, "Bad.java")

	res, err := tc.Compile(context.Background(), Request{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected unsuccessful result")
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("expected 2 diagnostics, got %+v", res.Diagnostics)
	}
	if res.Diagnostics[0].SourceFile != "Bad.java" || res.Diagnostics[0].Line != 7 {
		t.Errorf("unexpected first diagnostic %+v", res.Diagnostics[0])
	}
}

func TestExecToolchain_FailureWithoutDiagnostics(t *testing.T) {
	tc := newScriptToolchain(t, "echo 'out of memory' 1>&2\nexit 3\n")

	res, err := tc.Compile(context.Background(), Request{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || len(res.Diagnostics) != 1 {
		t.Fatalf("expected one synthesized diagnostic, got %+v", res)
	}
	if !strings.Contains(res.Diagnostics[0].Message, "out of memory") {
		t.Errorf("expected compiler output in message, got %q", res.Diagnostics[0].Message)
	}
}

func TestExecToolchain_PassesOutputDirAndClasspath(t *testing.T) {
	out := t.TempDir()
	record := filepath.Join(t.TempDir(), "args.txt")
	script := fakeCompiler(t, `echo "$@" > `+record+"\n")
	tc, err := NewExecToolchain(script, "-g")
	if err != nil {
		t.Fatal(err)
	}
	if tc.Path() != script {
		t.Errorf("expected path %q, got %q", script, tc.Path())
	}

	res, err := tc.Compile(context.Background(), Request{
		Sources:   []string{"A.java"},
		Classpath: []string{"/x.jar", "/y.jar"},
		OutputDir: out,
		Options:   []string{"-parameters"},
	})
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v, %v", res, err)
	}

	got, err := os.ReadFile(record)
	if err != nil {
		t.Fatal(err)
	}
	want := "-g -parameters -d " + out + " -classpath /x.jar" + string(os.PathListSeparator) + "/y.jar A.java\n"
	if string(got) != want {
		t.Errorf("expected args %q, got %q", want, string(got))
	}
}

func TestExecToolchain_CancelledIsErrorNotDiagnostics(t *testing.T) {
	// The background sleep keeps stdout open after the shell is killed.
	tc := newScriptToolchain(t, "sleep 30 &\nsleep 30\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := tc.Compile(ctx, Request{OutputDir: t.TempDir()})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got result %+v, err %v", res, err)
	}
	var cerr *CompilationError
	if errors.As(err, &cerr) {
		t.Fatal("cancellation must not be reported as a compilation error")
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("expected no diagnostics, got %+v", res.Diagnostics)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("compile returned after %s, expected the wait delay to bound it", elapsed)
	}
}
