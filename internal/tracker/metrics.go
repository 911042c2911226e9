package tracker

import (
	"time"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// RunMetrics accumulates across every run made from one state directory.
type RunMetrics struct {
	StartedAt           time.Time  `json:"started_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	LastCompletedAt     *time.Time `json:"last_completed_at,omitempty"`
	RunsStarted         int        `json:"runs_started"`
	RunsCompleted       int        `json:"runs_completed"`
	RunsStopped         int        `json:"runs_stopped"`
	RunsFailed          int        `json:"runs_failed"`
	ExecutionsCompleted int        `json:"executions_completed"`
	LastRunID           string     `json:"last_run_id,omitempty"`
	LastOutcome         Outcome    `json:"last_outcome,omitempty"`
}

// LoadMetrics returns nil when no metrics file exists. A corrupted file is
// treated the same way.
func (w *Writer) LoadMetrics() (*RunMetrics, error) {
	var m RunMetrics
	ok, err := readJSON(w.MetricsPath, &m)
	if !ok {
		return nil, err
	}
	return &m, nil
}

func (w *Writer) SaveMetrics(m *RunMetrics) error {
	return writeJSONAtomic(w.MetricsPath, m)
}

func (w *Writer) loadOrInit() (*RunMetrics, error) {
	m, err := w.LoadMetrics()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if m == nil {
		m = &RunMetrics{StartedAt: now}
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = now
	}
	m.UpdatedAt = now
	return m, nil
}

// RecordStart counts a new run.
func (w *Writer) RecordStart(runID string) error {
	m, err := w.loadOrInit()
	if err != nil {
		return err
	}
	m.RunsStarted++
	m.LastRunID = runID
	return w.SaveMetrics(m)
}

// RecordOutcome counts how runID ended and how many executions it completed.
func (w *Writer) RecordOutcome(runID string, outcome Outcome, executions int) error {
	m, err := w.loadOrInit()
	if err != nil {
		return err
	}
	switch outcome {
	case OutcomeCompleted:
		m.RunsCompleted++
		now := time.Now()
		m.LastCompletedAt = &now
	case OutcomeStopped:
		m.RunsStopped++
	case OutcomeFailed:
		m.RunsFailed++
	}
	m.ExecutionsCompleted += executions
	m.LastRunID = runID
	m.LastOutcome = outcome
	return w.SaveMetrics(m)
}
