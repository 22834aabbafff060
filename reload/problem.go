package reload

import (
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/devreload/compiler"
)

// DeploymentProblem is the most recent compilation failure. While one is set,
// requests are answered with the diagnostic page.
type DeploymentProblem struct {
	Cycle       uuid.UUID             `json:"cycle"`
	At          time.Time             `json:"at"`
	SourceFiles []string              `json:"sourceFiles"`
	Diagnostics []compiler.Diagnostic `json:"diagnostics"`
}

func newProblem(cycle uuid.UUID, at time.Time, files []string, err *compiler.CompilationError) *DeploymentProblem {
	return &DeploymentProblem{
		Cycle:       cycle,
		At:          at,
		SourceFiles: files,
		Diagnostics: err.Diagnostics,
	}
}

// Errors returns the error-level diagnostics only.
func (p *DeploymentProblem) Errors() []compiler.Diagnostic {
	var out []compiler.Diagnostic
	for _, d := range p.Diagnostics {
		if d.Kind == compiler.KindError {
			out = append(out, d)
		}
	}
	return out
}

// Summary returns a one-line description of the problem.
func (p *DeploymentProblem) Summary() string {
	return (&compiler.CompilationError{Diagnostics: p.Diagnostics}).Error()
}
