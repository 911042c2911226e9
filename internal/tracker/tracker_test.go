package tracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunStateRoundTrip(t *testing.T) {
	w := NewWriter(t.TempDir())

	if rs, err := w.LoadRunState(); err != nil || rs != nil {
		t.Fatalf("expected no snapshot yet, got %+v, %v", rs, err)
	}

	want := RunState{
		RunID:            "abc",
		PID:              123,
		StartedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		Phase:            "running",
		CurrentExecution: 2,
		TotalExecutions:  3,
		Completed:        []int{1},
		Progress:         42.5,
	}
	if err := w.WriteRunState(want); err != nil {
		t.Fatalf("WriteRunState error: %v", err)
	}

	got, err := w.LoadRunState()
	if err != nil {
		t.Fatalf("LoadRunState error: %v", err)
	}
	if got.Phase != "running" || got.CurrentExecution != 2 || len(got.Completed) != 1 || got.Progress != 42.5 {
		t.Errorf("unexpected snapshot %+v", got)
	}
}

func TestRecordOutcomeAccumulates(t *testing.T) {
	w := NewWriter(t.TempDir())

	if err := w.RecordStart("r1"); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := w.RecordOutcome("r1", OutcomeCompleted, 3); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := w.RecordStart("r2"); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := w.RecordOutcome("r2", OutcomeStopped, 1); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	m, err := w.LoadMetrics()
	if err != nil || m == nil {
		t.Fatalf("LoadMetrics: %v", err)
	}
	if m.RunsStarted != 2 || m.RunsCompleted != 1 || m.RunsStopped != 1 {
		t.Errorf("unexpected run counts %+v", m)
	}
	if m.ExecutionsCompleted != 4 {
		t.Errorf("expected 4 executions, got %d", m.ExecutionsCompleted)
	}
	if m.LastRunID != "r2" || m.LastOutcome != OutcomeStopped {
		t.Errorf("unexpected last run %s/%s", m.LastRunID, m.LastOutcome)
	}
	if m.LastCompletedAt == nil {
		t.Error("expected completion timestamp")
	}
}

func TestSessionCurrentFile(t *testing.T) {
	w := NewWriter(t.TempDir())

	s, err := w.LoadSession()
	if err != nil || s.CurrentFile != "" {
		t.Fatalf("expected empty session, got %+v, %v", s, err)
	}
	if err := w.SetCurrentFile("survey.docx"); err != nil {
		t.Fatalf("SetCurrentFile: %v", err)
	}
	s, err = w.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if s.CurrentFile != "survey.docx" {
		t.Errorf("expected survey.docx, got %q", s.CurrentFile)
	}
}

func TestNewRunIDUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b || len(a) != 36 {
		t.Errorf("unexpected run ids %q %q", a, b)
	}
}

func TestWriteCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	w := NewWriter(dir)

	if err := w.SetCurrentFile("survey.csv"); err != nil {
		t.Fatalf("SetCurrentFile error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "session.json" {
		t.Errorf("expected only session.json, got %v", entries)
	}
}

func TestRunStateAlive(t *testing.T) {
	if !(RunState{PID: os.Getpid()}).Alive() {
		t.Error("own pid reported dead")
	}
	if (RunState{PID: 1 << 30}).Alive() {
		t.Error("unused pid reported alive")
	}
	if (RunState{}).Alive() {
		t.Error("zero pid reported alive")
	}
}
