// Package coverage records the analysis status of every discovered code
// unit and computes coverage statistics over them.
package coverage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

// Tracker owns the code unit map for one session. Units are registered
// once and only move forward through their status lifecycle.
type Tracker struct {
	log *slog.Logger

	mu     sync.Mutex
	units  map[string]*models.CodeUnit
	queues map[models.Priority][]string // FIFO of unit ids per priority
	starts map[string]time.Time         // in_progress entry time per unit
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{
		log:    slog.With("component", "coverage"),
		units:  make(map[string]*models.CodeUnit),
		queues: make(map[models.Priority][]string),
		starts: make(map[string]time.Time),
	}
	for _, p := range models.Priorities() {
		t.queues[p] = nil
	}
	return t
}

// Register adds units to the tracker. Re-registering an id is ignored.
func (t *Tracker) Register(units ...*models.CodeUnit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range units {
		if _, exists := t.units[u.ID]; exists {
			continue
		}
		t.units[u.ID] = u
		t.queues[u.Priority] = append(t.queues[u.Priority], u.ID)
	}
}

// Get returns the unit by id.
func (t *Tracker) Get(id string) (*models.CodeUnit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.units[id]
	return u, ok
}

// Len returns the number of registered units.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.units)
}

// NextUnits pops up to count pending units, draining priorities in
// critical → high → medium → low order. priorityFilter, when non-empty,
// restricts the drain to those priorities. Non-pending units encountered
// in a queue are dropped from it and skipped.
func (t *Tracker) NextUnits(count int, priorityFilter ...models.Priority) []*models.CodeUnit {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := make(map[models.Priority]bool)
	if len(priorityFilter) == 0 {
		for _, p := range models.Priorities() {
			allowed[p] = true
		}
	} else {
		for _, p := range priorityFilter {
			allowed[p] = true
		}
	}

	var out []*models.CodeUnit
	for _, p := range models.Priorities() {
		if !allowed[p] || len(out) >= count {
			continue
		}
		queue := t.queues[p]
		kept := queue[:0]
		for i, id := range queue {
			if len(out) >= count {
				kept = append(kept, queue[i:]...)
				break
			}
			u := t.units[id]
			if u == nil || u.Status != models.UnitStatusPending {
				continue
			}
			out = append(out, u)
		}
		t.queues[p] = kept
	}
	return out
}

// MarkInProgress transitions a pending unit to in_progress.
func (t *Tracker) MarkInProgress(id string) error {
	return t.transition(id, models.UnitStatusInProgress, "")
}

// MarkAnalyzed transitions a unit to completed and records its duration.
func (t *Tracker) MarkAnalyzed(id string) error {
	return t.transition(id, models.UnitStatusCompleted, "")
}

// MarkFailed transitions a unit to failed with a reason.
func (t *Tracker) MarkFailed(id, reason string) error {
	return t.transition(id, models.UnitStatusFailed, reason)
}

// MarkSkipped transitions a unit to skipped with a reason.
func (t *Tracker) MarkSkipped(id, reason string) error {
	return t.transition(id, models.UnitStatusSkipped, reason)
}

// transition enforces the forward-only lifecycle:
// pending → in_progress → {completed | failed | skipped}. Pending units
// may also move straight to skipped.
func (t *Tracker) transition(id string, to models.UnitStatus, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.units[id]
	if !ok {
		return fmt.Errorf("unknown code unit %q", id)
	}

	valid := false
	switch u.Status {
	case models.UnitStatusPending:
		valid = to == models.UnitStatusInProgress || to == models.UnitStatusSkipped
	case models.UnitStatusInProgress:
		valid = to.Terminal()
	}
	if !valid {
		return fmt.Errorf("invalid unit transition %s → %s for %q", u.Status, to, id)
	}

	now := time.Now()
	switch to {
	case models.UnitStatusInProgress:
		t.starts[id] = now
	case models.UnitStatusCompleted, models.UnitStatusFailed:
		u.AnalyzedAt = now
		if start, ok := t.starts[id]; ok {
			u.AnalysisDuration = now.Sub(start)
			delete(t.starts, id)
		}
	}
	u.Status = to
	u.FailureReason = reason
	return nil
}

// FileStats is the per-file slice of a coverage report.
type FileStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Report is the coverage summary for one session.
type Report struct {
	Total       int                          `json:"total"`
	ByStatus    map[models.UnitStatus]int    `json:"by_status"`
	ByPriority  map[models.Priority]int      `json:"by_priority"`
	ByFile      map[string]*FileStats        `json:"by_file"`
	CoveragePct float64                      `json:"coverage_pct"`
	SuccessRate float64                      `json:"success_rate"`
}

// GenerateReport computes aggregate and per-file coverage statistics.
// coverage% = completed / total; success_rate = completed / (completed +
// failed).
func (t *Tracker) GenerateReport() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := Report{
		Total:      len(t.units),
		ByStatus:   make(map[models.UnitStatus]int),
		ByPriority: make(map[models.Priority]int),
		ByFile:     make(map[string]*FileStats),
	}

	for _, u := range t.units {
		r.ByStatus[u.Status]++
		r.ByPriority[u.Priority]++

		fs := r.ByFile[u.FilePath]
		if fs == nil {
			fs = &FileStats{}
			r.ByFile[u.FilePath] = fs
		}
		fs.Total++
		switch u.Status {
		case models.UnitStatusCompleted:
			fs.Completed++
		case models.UnitStatusFailed:
			fs.Failed++
		case models.UnitStatusSkipped:
			fs.Skipped++
		}
	}

	completed := r.ByStatus[models.UnitStatusCompleted]
	failed := r.ByStatus[models.UnitStatusFailed]
	if r.Total > 0 {
		r.CoveragePct = float64(completed) / float64(r.Total) * 100
	}
	if completed+failed > 0 {
		r.SuccessRate = float64(completed) / float64(completed+failed)
	}
	return r
}
