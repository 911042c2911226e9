package run

import (
	"math"

	"github.com/chr1sbest/runctl/internal/resilience"
	"github.com/chr1sbest/runctl/internal/toast"
	"github.com/chr1sbest/runctl/internal/tracker"
)

const (
	msgStopped      = "Execution stopped"
	msgNoExecutions = "No executions configured"
)

// Reduce applies ev to s and returns the new state with the effects the
// controller must carry out, in order. It performs no I/O and never mutates
// s. Events that make no sense in the current phase return s unchanged and
// no effects.
func Reduce(s State, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case EvStart:
		return reduceStart(s, e)
	case EvStartResponse:
		return reduceStartResponse(s, e)
	case EvProgress:
		return reduceProgress(s, e)
	case EvPollFailed:
		if s.Phase != PhaseRunning || e.Execution != s.CurrentExecution {
			return s, nil
		}
		return fail(s, e.Err)
	case EvStop:
		return reduceStop(s)
	case EvStopSent:
		if s.Phase != PhaseStopping {
			return s, nil
		}
		if e.Err != nil {
			return fail(s, e.Err)
		}
		return s, []Effect{effect(EffectPollStopStatus)}
	case EvStopStatus:
		return reduceStopStatus(s, e)
	case EvPrev:
		return reducePrev(s)
	case EvNext:
		return reduceNext(s)
	}
	return s, nil
}

func reduceStart(s State, e EvStart) (State, []Effect) {
	if !s.CanStart() {
		return s, nil
	}
	if e.Total < 1 {
		s = s.clone()
		s.LastError = msgNoExecutions
		return s, []Effect{notify(toast.LevelError, msgNoExecutions), effect(EffectRender)}
	}

	next := State{
		Phase:            PhaseStarting,
		CurrentExecution: 1,
		TotalExecutions:  e.Total,
		Completed:        map[int]bool{},
		Background:       e.Background,
	}
	if e.Background {
		next.Phase = PhaseRunning
		return next, []Effect{effect(EffectIssueStart), effect(EffectPollProgress), effect(EffectRender)}
	}
	return next, []Effect{effect(EffectIssueStart), effect(EffectRender)}
}

func reduceStartResponse(s State, e EvStartResponse) (State, []Effect) {
	if !s.Running() {
		return s, nil
	}

	switch {
	case e.Err != nil:
		if s.Phase == PhaseStopping {
			return s, nil
		}
		return fail(s, e.Err)

	case e.Stopped:
		effects := []Effect{effect(EffectCancelPoll)}
		if s.Phase == PhaseStopping {
			effects = append(effects, notify(toast.LevelInfo, msgStopped))
		}
		s = s.clone()
		s.Phase = PhaseIdle
		return s, append(effects, effect(EffectRender), record(tracker.OutcomeStopped))
	}

	s = s.clone()
	switch s.Phase {
	case PhaseStarting:
		s.Phase = PhaseRunning
		return s, []Effect{effect(EffectPollProgress), effect(EffectRender)}
	case PhaseRunning:
		s.ExecutionFinished = true
		return s, []Effect{effect(EffectRender)}
	default:
		// The runner answers a start with stopped:true when the stop won, so
		// a plain success during Stopping means the batch finished first.
		s.ExecutionFinished = true
		return resolveRace(s)
	}
}

func reduceProgress(s State, e EvProgress) (State, []Effect) {
	if s.Phase != PhaseRunning || e.Execution != s.CurrentExecution {
		return s, nil
	}

	s = s.clone()
	if e.Pending {
		s.Progress = 0
		return s, []Effect{effect(EffectRender)}
	}

	s.Progress = percent(e.Percent)
	if e.Percent < 100 {
		return s, []Effect{effect(EffectRender)}
	}

	s.Completed[s.CurrentExecution] = true
	if s.CurrentExecution < s.TotalExecutions {
		s.CurrentExecution++
		s.Progress = 0
		return s, []Effect{effect(EffectRender)}
	}

	s.Phase = PhaseCompleted
	return s, []Effect{
		effect(EffectCancelPoll),
		effect(EffectShowResults),
		effect(EffectRender),
		record(tracker.OutcomeCompleted),
	}
}

func reduceStop(s State) (State, []Effect) {
	if !s.CanStop() {
		return s, nil
	}
	if s.ExecutionFinished {
		return resolveRace(s.clone())
	}
	s = s.clone()
	s.Phase = PhaseStopping
	return s, []Effect{effect(EffectCancelPoll), effect(EffectIssueStop), effect(EffectRender)}
}

func reduceStopStatus(s State, e EvStopStatus) (State, []Effect) {
	if s.Phase != PhaseStopping {
		return s, nil
	}
	if e.Err != nil {
		return fail(s, e.Err)
	}
	if !e.Stopped {
		return s, nil
	}
	if s.ExecutionFinished {
		return resolveRace(s.clone())
	}

	s = s.clone()
	s.Phase = PhaseIdle
	return s, []Effect{
		effect(EffectCancelPoll),
		notify(toast.LevelInfo, msgStopped),
		effect(EffectRender),
		record(tracker.OutcomeStopped),
	}
}

// resolveRace credits every execution from the current one onwards when a
// stop is overtaken by the batch finishing on the runner.
func resolveRace(s State) (State, []Effect) {
	for i := s.CurrentExecution; i <= s.TotalExecutions; i++ {
		s.Completed[i] = true
	}
	s.CurrentExecution = s.TotalExecutions
	s.Progress = 100
	s.Phase = PhaseCompleted

	race := &resilience.RaceError{Execution: s.TotalExecutions}
	return s, []Effect{
		effect(EffectCancelPoll),
		notify(toast.LevelInfo, race.Error()),
		effect(EffectShowResults),
		effect(EffectRender),
		record(tracker.OutcomeCompleted),
	}
}

func fail(s State, err error) (State, []Effect) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	s = s.clone()
	s.Phase = PhaseIdle
	s.LastError = msg
	return s, []Effect{
		effect(EffectCancelPoll),
		notify(toast.LevelError, msg),
		effect(EffectRender),
		record(tracker.OutcomeFailed),
	}
}

func reducePrev(s State) (State, []Effect) {
	if s.Running() || s.CurrentExecution <= 1 {
		return s, nil
	}
	s = s.clone()
	s.CurrentExecution--
	s.Progress = displayed(s)
	return s, []Effect{effect(EffectRender)}
}

func reduceNext(s State) (State, []Effect) {
	target := s.CurrentExecution + 1
	if s.Running() || target > s.TotalExecutions || !s.Completed[target] {
		return s, nil
	}
	s = s.clone()
	s.CurrentExecution = target
	s.Progress = displayed(s)
	return s, []Effect{effect(EffectRender)}
}

func displayed(s State) int {
	if s.Completed[s.CurrentExecution] {
		return 100
	}
	return 0
}

func percent(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, p))))
}
