package reload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/devreload/compiler"
	"github.com/GoCodeAlone/devreload/scan"
)

// ErrReloadDisabled is returned by operations that need a scan when hot
// reload is disabled for the process.
var ErrReloadDisabled = errors.New("reload: hot reload disabled")

// ResultKind tags the outcome of a call to Check or ForceScan.
type ResultKind int

const (
	// ResultSkipped means no scan ran: the interval had not elapsed, or
	// another request completed the scan while this one waited.
	ResultSkipped ResultKind = iota
	// ResultOK means a scan completed its decision step.
	ResultOK
	// ResultCompileFailed means compilation failed and a DeploymentProblem
	// was recorded.
	ResultCompileFailed
	// ResultIOError means the scan aborted on a filesystem or toolchain
	// failure. The watermark was not advanced.
	ResultIOError
	// ResultReloadFailed means class redefinition or the application
	// restart failed. It is not retried.
	ResultReloadFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultSkipped:
		return "skipped"
	case ResultOK:
		return "ok"
	case ResultCompileFailed:
		return "compile_failed"
	case ResultIOError:
		return "io_error"
	case ResultReloadFailed:
		return "reload_failed"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Action is the reload action taken by a completed scan.
type Action string

const (
	ActionNone    Action = ""
	ActionHotSwap Action = "hotswap"
	ActionRestart Action = "restart"
)

// ScanResult is the tagged outcome of one scan cycle.
type ScanResult struct {
	Kind          ResultKind
	Cycle         uuid.UUID
	Action        Action
	Changes       *scan.ChangeSet
	ConfigChanged bool
	Diagnostics   []compiler.Diagnostic
	Err           error
}

// Failed reports whether the result must fail the triggering request.
func (r ScanResult) Failed() bool {
	return r.Kind == ResultIOError || r.Kind == ResultReloadFailed
}

// RedefineError is returned when the redefinition capability rejects the
// changed classes.
type RedefineError struct {
	Classes []string
	Err     error
}

func (e *RedefineError) Error() string {
	return fmt.Sprintf("reload: redefine %d class(es) [%s]: %v",
		len(e.Classes), strings.Join(e.Classes, ", "), e.Err)
}

func (e *RedefineError) Unwrap() error { return e.Err }
