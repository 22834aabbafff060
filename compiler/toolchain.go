package compiler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoToolchain is returned when no compiler toolchain is available on the
// host.
var ErrNoToolchain = errors.New("compiler: no compiler toolchain available")

// Kind classifies a diagnostic.
type Kind string

const (
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindNote    Kind = "note"
)

// Diagnostic is a single structured compiler message.
type Diagnostic struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	SourceFile string `json:"sourceFile,omitempty"`
	Line       int    `json:"line,omitempty"`
}

func (d Diagnostic) String() string {
	switch {
	case d.SourceFile != "" && d.Line > 0:
		return fmt.Sprintf("%s:%d: %s: %s", d.SourceFile, d.Line, d.Kind, d.Message)
	case d.SourceFile != "":
		return fmt.Sprintf("%s: %s: %s", d.SourceFile, d.Kind, d.Message)
	default:
		return fmt.Sprintf("%s: %s", d.Kind, d.Message)
	}
}

// Request is one compilation unit.
type Request struct {
	Sources   []string
	Classpath []string
	OutputDir string
	Options   []string
}

// Result is the outcome of a toolchain invocation.
type Result struct {
	Success     bool
	Diagnostics []Diagnostic
}

// Toolchain compiles sources to bytecode. Implementations are not required to
// be reentrant.
type Toolchain interface {
	Compile(ctx context.Context, req Request) (Result, error)
}

// ExecToolchain drives a javac-compatible command line compiler.
type ExecToolchain struct {
	path string
	args []string
}

// NewExecToolchain locates command on the PATH. It fails with ErrNoToolchain
// if the command cannot be found.
func NewExecToolchain(command string, args ...string) (*ExecToolchain, error) {
	if command == "" {
		command = "javac"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoToolchain, err)
	}
	return &ExecToolchain{path: path, args: args}, nil
}

// Path returns the resolved compiler executable.
func (t *ExecToolchain) Path() string { return t.path }

// waitDelay bounds how long Compile waits for the output pipes after the
// compiler is killed on cancellation.
const waitDelay = 2 * time.Second

// Compile runs the compiler. A non-zero exit is reported as an unsuccessful
// Result, not an error; errors are reserved for failures to run the command,
// including cancellation of ctx.
func (t *ExecToolchain) Compile(ctx context.Context, req Request) (Result, error) {
	args := append([]string(nil), t.args...)
	args = append(args, req.Options...)
	args = append(args, "-d", req.OutputDir)
	if len(req.Classpath) > 0 {
		args = append(args, "-classpath", strings.Join(req.Classpath, string(os.PathListSeparator)))
	}
	args = append(args, req.Sources...)

	cmd := exec.CommandContext(ctx, t.path, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay
	runErr := cmd.Run()
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("compiler: run %s: %w", t.path, err)
	}

	diags := ParseDiagnostics(out.Bytes())
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Result{}, fmt.Errorf("compiler: run %s: %w", t.path, runErr)
		}
		if !hasErrors(diags) {
			diags = append(diags, Diagnostic{
				Kind:    KindError,
				Message: strings.TrimSpace(fmt.Sprintf("%s exited with %d\n%s", t.path, exitErr.ExitCode(), out.String())),
			})
		}
		return Result{Success: false, Diagnostics: diags}, nil
	}
	return Result{Success: true, Diagnostics: diags}, nil
}

var (
	reLocated   = regexp.MustCompile(`^(.+?):(\d+): (error|warning|[Nn]ote): (.*)$`)
	reUnlocated = regexp.MustCompile(`^(error|warning|Note|note): (.*)$`)
	reDetail    = regexp.MustCompile(`^\s+(symbol|location|required|found|reason)\s*:`)
)

// ParseDiagnostics extracts javac-style diagnostics from compiler output.
// Source excerpts, caret markers and summary lines are dropped; detail lines
// such as "symbol:" are folded into the preceding message.
func ParseDiagnostics(output []byte) []Diagnostic {
	var diags []Diagnostic
	s := bufio.NewScanner(bytes.NewReader(output))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := strings.TrimRight(s.Text(), "\r")
		if m := reLocated.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			diags = append(diags, Diagnostic{
				Kind:       normalizeKind(m[3]),
				Message:    m[4],
				SourceFile: m[1],
				Line:       n,
			})
			continue
		}
		if m := reUnlocated.FindStringSubmatch(line); m != nil {
			diags = append(diags, Diagnostic{Kind: normalizeKind(m[1]), Message: m[2]})
			continue
		}
		if reDetail.MatchString(line) && len(diags) > 0 {
			last := &diags[len(diags)-1]
			last.Message += "\n" + strings.TrimSpace(line)
		}
	}
	return diags
}

func normalizeKind(s string) Kind {
	switch strings.ToLower(s) {
	case "error":
		return KindError
	case "warning":
		return KindWarning
	default:
		return KindNote
	}
}

func hasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Kind == KindError {
			return true
		}
	}
	return false
}
