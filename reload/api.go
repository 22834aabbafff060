package reload

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/GoCodeAlone/devreload/observability"
)

// PathPrefix is where the admin endpoints are mounted.
const PathPrefix = "/__devreload"

// APIHandler exposes the coordinator's state and a forced scan over HTTP.
type APIHandler struct {
	coord *Coordinator
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(coord *Coordinator) *APIHandler {
	return &APIHandler{coord: coord}
}

// Status is the body of GET /__devreload/status.
type Status struct {
	State        State                       `json:"state"`
	LastChange   time.Time                   `json:"lastChange"`
	NextScan     time.Time                   `json:"nextScan"`
	Interval     string                      `json:"interval"`
	Problem      *DeploymentProblem          `json:"problem,omitempty"`
	TrackedFiles []string                    `json:"trackedFiles"`
	Cycles       []observability.CycleRecord `json:"cycles,omitempty"`
	LiveClients  int                         `json:"liveClients"`
	Details      map[string]any              `json:"details,omitempty"`
}

// scanResponse is the body of POST /__devreload/scan.
type scanResponse struct {
	Result      string   `json:"result"`
	Cycle       string   `json:"cycle"`
	Action      Action   `json:"action,omitempty"`
	SourceFiles []string `json:"sourceFiles,omitempty"`
	Classes     []string `json:"classes,omitempty"`
	Config      bool     `json:"configChanged"`
	Error       string   `json:"error,omitempty"`
}

// RegisterRoutes registers the admin routes on the given mux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathPrefix+"/status", h.handleStatus)
	mux.HandleFunc(PathPrefix+"/scan", h.handleScan)
	if h.coord.live != nil {
		mux.Handle(PathPrefix+"/livereload", h.coord.live)
	}
}

func (h *APIHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.coord.Status())
}

func (h *APIHandler) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res := h.coord.ForceScan(r.Context())

	resp := scanResponse{
		Result: res.Kind.String(),
		Cycle:  res.Cycle.String(),
		Action: res.Action,
		Config: res.ConfigChanged,
	}
	if res.Changes != nil {
		resp.SourceFiles = res.Changes.SourceFiles
		resp.Classes = res.Changes.ClassNames()
	}
	status := http.StatusOK
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	switch res.Kind {
	case ResultCompileFailed:
		status = http.StatusUnprocessableEntity
	case ResultIOError, ResultReloadFailed:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// Status returns a snapshot of the coordinator for the admin API.
func (c *Coordinator) Status() Status {
	s := Status{
		State:        c.State(),
		LastChange:   c.LastChange(),
		NextScan:     c.NextScan(),
		Interval:     c.Interval().String(),
		Problem:      c.Problem(),
		TrackedFiles: c.TrackedConfigFiles(),
		Cycles:       c.Cycles(),
		LiveClients:  c.live.Clients(),
	}
	if s.TrackedFiles == nil {
		s.TrackedFiles = []string{}
	}
	if c.details != nil {
		s.Details = c.details()
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
