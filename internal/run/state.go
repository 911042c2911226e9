// Package run drives a batch of sequential executions on a job runner:
// start, poll progress, stop and review the finished executions.
package run

import (
	"maps"
	"slices"
)

// Phase is where a run is in its lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseRunning   Phase = "running"
	PhaseStopping  Phase = "stopping"
	PhaseCompleted Phase = "completed"
)

// State is the controller's single piece of mutable state. It is only
// changed by Reduce.
type State struct {
	Phase            Phase
	CurrentExecution int
	TotalExecutions  int
	Completed        map[int]bool

	// ExecutionFinished is set when the start request reported that the
	// whole batch has finished on the runner.
	ExecutionFinished bool

	// Progress is the displayed percentage of CurrentExecution.
	Progress   int
	LastError  string
	Background bool
}

// NewState returns an idle state for a batch of total executions.
func NewState(total int) State {
	if total < 1 {
		total = 1
	}
	return State{
		Phase:            PhaseIdle,
		CurrentExecution: 1,
		TotalExecutions:  total,
		Completed:        map[int]bool{},
	}
}

// Running is true from the start request until the run stops, fails or
// completes.
func (s State) Running() bool {
	switch s.Phase {
	case PhaseStarting, PhaseRunning, PhaseStopping:
		return true
	}
	return false
}

// CanStart reports whether a new run may begin.
func (s State) CanStart() bool {
	return s.Phase == PhaseIdle || s.Phase == PhaseCompleted
}

// CanStop reports whether a stop request would do anything.
func (s State) CanStop() bool {
	return s.Phase == PhaseStarting || s.Phase == PhaseRunning
}

// MaxCompleted is the highest completed execution, or 0.
func (s State) MaxCompleted() int {
	n := 0
	for i := range s.Completed {
		if i > n {
			n = i
		}
	}
	return n
}

func (s State) clone() State {
	s.Completed = maps.Clone(s.Completed)
	if s.Completed == nil {
		s.Completed = map[int]bool{}
	}
	return s
}

// Snapshot is a read-only copy of State for renderers and observers.
type Snapshot struct {
	Phase             Phase
	CurrentExecution  int
	TotalExecutions   int
	Completed         []int
	Progress          int
	ExecutionFinished bool
	Running           bool
	StartEnabled      bool
	StopEnabled       bool
	LastError         string
}

// Snapshot copies s with the completed set sorted ascending.
func (s State) Snapshot() Snapshot {
	completed := slices.Sorted(maps.Keys(s.Completed))
	if completed == nil {
		completed = []int{}
	}
	return Snapshot{
		Phase:             s.Phase,
		CurrentExecution:  s.CurrentExecution,
		TotalExecutions:   s.TotalExecutions,
		Completed:         completed,
		Progress:          s.Progress,
		ExecutionFinished: s.ExecutionFinished,
		Running:           s.Running(),
		StartEnabled:      s.CanStart(),
		StopEnabled:       s.CanStop(),
		LastError:         s.LastError,
	}
}

// IsCompleted reports whether execution n is in the snapshot's completed set.
func (s Snapshot) IsCompleted(n int) bool {
	_, ok := slices.BinarySearch(s.Completed, n)
	return ok
}
