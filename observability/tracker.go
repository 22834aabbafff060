package observability

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CycleRecord describes one completed scan cycle.
type CycleRecord struct {
	ID          uuid.UUID     `json:"id"`
	Outcome     string        `json:"outcome"`
	Action      string        `json:"action,omitempty"`
	SourceFiles int           `json:"sourceFiles"`
	Classes     int           `json:"classes"`
	Config      bool          `json:"configChanged"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"durationNs"`
}

// CycleTracker keeps the most recent scan cycles in a bounded ring, newest
// last. A nil *CycleTracker records nothing.
type CycleTracker struct {
	mu    sync.Mutex
	ring  []CycleRecord
	next  int
	full  bool
	total uint64
}

// NewCycleTracker creates a tracker remembering up to capacity cycles.
func NewCycleTracker(capacity int) *CycleTracker {
	if capacity <= 0 {
		capacity = 32
	}
	return &CycleTracker{ring: make([]CycleRecord, capacity)}
}

// Record stores a completed cycle, evicting the oldest one when full.
func (t *CycleTracker) Record(rec CycleRecord) {
	if t == nil {
		return
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.next] = rec
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
	t.total++
}

// Recent returns the remembered cycles, oldest first.
func (t *CycleTracker) Recent() []CycleRecord {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]CycleRecord(nil), t.ring[:t.next]...)
	}
	out := make([]CycleRecord, 0, len(t.ring))
	out = append(out, t.ring[t.next:]...)
	return append(out, t.ring[:t.next]...)
}

// Last returns the most recent cycle, if any.
func (t *CycleTracker) Last() (CycleRecord, bool) {
	if t == nil {
		return CycleRecord{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total == 0 {
		return CycleRecord{}, false
	}
	i := (t.next - 1 + len(t.ring)) % len(t.ring)
	return t.ring[i], true
}

// Total returns the number of cycles ever recorded.
func (t *CycleTracker) Total() uint64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
