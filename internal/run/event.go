package run

import (
	"github.com/chr1sbest/runctl/internal/toast"
	"github.com/chr1sbest/runctl/internal/tracker"
)

// Event is an input to Reduce.
type Event interface {
	event()
}

// EvStart is the user asking for a new run of Total executions.
type EvStart struct {
	Total      int
	Background bool
}

// EvStartResponse is the runner's answer to the start request.
type EvStartResponse struct {
	Stopped bool
	Err     error
}

// EvProgress is one successful progress poll.
type EvProgress struct {
	Execution int
	Percent   float64
	Pending   bool
}

// EvPollFailed is a progress poll that failed.
type EvPollFailed struct {
	Execution int
	Err       error
}

// EvStop is the user asking to cancel the run.
type EvStop struct{}

// EvStopSent is the runner's answer to the stop request.
type EvStopSent struct {
	Err error
}

// EvStopStatus is one stop status poll.
type EvStopStatus struct {
	Stopped bool
	Err     error
}

// EvPrev and EvNext page through finished executions.
type EvPrev struct{}
type EvNext struct{}

func (EvStart) event()         {}
func (EvStartResponse) event() {}
func (EvProgress) event()      {}
func (EvPollFailed) event()    {}
func (EvStop) event()          {}
func (EvStopSent) event()      {}
func (EvStopStatus) event()    {}
func (EvPrev) event()          {}
func (EvNext) event()          {}

// EffectKind names a side effect requested by Reduce.
type EffectKind string

const (
	EffectIssueStart     EffectKind = "issue_start"
	EffectPollProgress   EffectKind = "poll_progress"
	EffectPollStopStatus EffectKind = "poll_stop_status"
	EffectCancelPoll     EffectKind = "cancel_poll"
	EffectIssueStop      EffectKind = "issue_stop"
	EffectRender         EffectKind = "render"
	EffectShowResults    EffectKind = "show_results"
	EffectNotify         EffectKind = "notify"
	EffectRecordOutcome  EffectKind = "record_outcome"
)

// Effect is a side effect for the controller to carry out. Level and
// Message are set for EffectNotify, Outcome for EffectRecordOutcome.
type Effect struct {
	Kind    EffectKind
	Level   toast.Level
	Message string
	Outcome tracker.Outcome
}

func effect(kind EffectKind) Effect {
	return Effect{Kind: kind}
}

func notify(level toast.Level, msg string) Effect {
	return Effect{Kind: EffectNotify, Level: level, Message: msg}
}

func record(outcome tracker.Outcome) Effect {
	return Effect{Kind: EffectRecordOutcome, Outcome: outcome}
}
