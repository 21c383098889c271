package scheduler

import (
	"time"
)

// StageSummary records how one stage ended.
type StageSummary struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	Critical  bool          `json:"critical"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Removed   int           `json:"removed"`
	Failed    int           `json:"failed"`
	Reason    string        `json:"reason,omitempty"` // Truncation or skip reason
	Error     string        `json:"error,omitempty"`
	Budget    time.Duration `json:"budget_ns"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// RunReport is the outcome of Scheduler.Run.
type RunReport struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
	Stages    []StageSummary `json:"stages"`
}

// Partial reports whether any stage ended in a state other than Completed.
func (r RunReport) Partial() bool {
	for _, s := range r.Stages {
		if s.State != Completed {
			return true
		}
	}
	return false
}

// Stage returns the summary for name.
func (r RunReport) Stage(name string) (StageSummary, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageSummary{}, false
}

// Totals sums entity counts across stages.
func (r RunReport) Totals() Result {
	var t Result
	for _, s := range r.Stages {
		t.Attempted += s.Attempted
		t.Succeeded += s.Succeeded
		t.Removed += s.Removed
		t.Failed += s.Failed
	}
	return t
}
