package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// State is a stage's position in its lifecycle.
type State int

const (
	NotStarted State = iota
	Running
	Completed
	TruncatedByBudget
	TruncatedByCount
	Failed
)

var stateNames = map[State]string{
	NotStarted:        "not_started",
	Running:           "running",
	Completed:         "completed",
	TruncatedByBudget: "truncated_by_budget",
	TruncatedByCount:  "truncated_by_count",
	Failed:            "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	name := strings.TrimSpace(string(text))
	for st, n := range stateNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage state %q", name)
}

// Truncated reports whether the stage stopped on a budget limit.
func (s State) Truncated() bool {
	return s == TruncatedByBudget || s == TruncatedByCount
}

// Result is the work a stage got done. It is recorded even when the stage
// fails part way.
type Result struct {
	Attempted int
	Succeeded int
	Removed   int
	Failed    int
}

// WorkFunc performs a stage. It should call b.Allow before each entity.
type WorkFunc func(ctx context.Context, b *Budget) (Result, error)

// Stage is one step of a run.
type Stage struct {
	Name        string
	Budget      time.Duration // Wall-clock limit; zero admits no entities
	MaxEntities int           // Entity cap; zero means none
	Critical    bool          // Always attempted, even when the run is out of time
	Work        WorkFunc
}
