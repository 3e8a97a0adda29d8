// Package services – import run state
//
// This file defines the per-run value types for a bulk coverage import:
// live progress counters, per-code outcomes, and the final report. All of
// it lives in memory for the duration of one run (plus a retention window
// for polling); nothing here is persisted.
package services

import (
	"sync"
	"time"

	"github.com/hajastudio/westcontrol-coverage/internal/domain"
)

// RunState describes the lifecycle phase of an import run.
type RunState string

const (
	// RunStateRunning means chunks are still being processed.
	RunStateRunning RunState = "running"
	// RunStateDone means every input code has settled and the report is
	// available.
	RunStateDone RunState = "done"
)

// ImportProgress is the live progress signal of one run. Done counts
// settled items, success and failure alike, and never decreases.
type ImportProgress struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

// ImportFailure is one failed code with its user-facing error message.
type ImportFailure struct {
	PostalCode string `json:"postal_code"`
	Message    string `json:"message"`
}

// ImportOutcome is the per-code result of one import run: either a
// persisted coverage area or an error message. Exactly one of Area and
// Err is set.
type ImportOutcome struct {
	PostalCode string               `json:"postal_code"`
	Area       *domain.CoverageArea `json:"area,omitempty"`
	Err        string               `json:"error,omitempty"`
}

// ImportReport is the terminal summary of a finished run. Failures keeps
// input order. Recent is the refreshed latest-coverage view fetched after
// the run settled (best effort, may be nil when that read failed).
type ImportReport struct {
	Total     int                   `json:"total"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
	Failures  []ImportFailure       `json:"failures,omitempty"`
	Recent    []domain.CoverageArea `json:"recent,omitempty"`
}

// RunSnapshot is a point-in-time view of a run handed to callers. Report
// is non-nil only once State is RunStateDone.
type RunSnapshot struct {
	ID         string         `json:"id"`
	State      RunState       `json:"state"`
	Progress   ImportProgress `json:"progress"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Report     *ImportReport  `json:"report,omitempty"`
}

// ImportRun tracks one in-flight or recently finished import. Outcome
// slots are fixed at dispatch time: outcomes[i] always belongs to input
// code i, regardless of completion order within a chunk.
//
// Items settle from concurrently running goroutines, so all mutable state
// is guarded by the mutex.
type ImportRun struct {
	id        string
	startedAt time.Time

	mu         sync.Mutex
	done       int
	outcomes   []ImportOutcome
	state      RunState
	finishedAt time.Time
	report     *ImportReport
}

func newImportRun(id string, codes []string) *ImportRun {
	outcomes := make([]ImportOutcome, len(codes))
	for i, code := range codes {
		outcomes[i].PostalCode = code
	}
	return &ImportRun{
		id:        id,
		startedAt: time.Now().UTC(),
		outcomes:  outcomes,
		state:     RunStateRunning,
	}
}

// ID returns the run identifier.
func (r *ImportRun) ID() string { return r.id }

// Total returns the number of input codes in this run.
func (r *ImportRun) Total() int { return len(r.outcomes) }

// settle records the outcome for input slot i and advances the done
// counter by exactly one. Each slot settles at most once.
func (r *ImportRun) settle(i int, out ImportOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[i] = out
	r.done++
}

// finish transitions the run to done and freezes the report. The recent
// slice is attached as the refreshed latest-coverage view.
func (r *ImportRun) finish(recent []domain.CoverageArea) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := &ImportReport{Total: len(r.outcomes), Recent: recent}
	for _, out := range r.outcomes {
		if out.Err == "" {
			rep.Succeeded++
			continue
		}
		rep.Failed++
		rep.Failures = append(rep.Failures, ImportFailure{
			PostalCode: out.PostalCode,
			Message:    out.Err,
		})
	}

	r.report = rep
	r.state = RunStateDone
	r.finishedAt = time.Now().UTC()
}

// Progress returns the live counters for this run.
func (r *ImportRun) Progress() ImportProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ImportProgress{Total: len(r.outcomes), Done: r.done}
}

// Outcomes returns a copy of the per-code outcome slots in input order.
// Unsettled slots carry only their postal code.
func (r *ImportRun) Outcomes() []ImportOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ImportOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Snapshot returns a point-in-time view suitable for API responses.
func (r *ImportRun) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RunSnapshot{
		ID:        r.id,
		State:     r.state,
		Progress:  ImportProgress{Total: len(r.outcomes), Done: r.done},
		StartedAt: r.startedAt,
		Report:    r.report,
	}
	if r.state == RunStateDone {
		ts := r.finishedAt
		snap.FinishedAt = &ts
	}
	return snap
}

// expired reports whether a finished run has outlived ttl. Running runs
// never expire.
func (r *ImportRun) expired(now time.Time, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == RunStateDone && now.Sub(r.finishedAt) >= ttl
}
