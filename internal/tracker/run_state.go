package tracker

import "time"

// RunState is the on-disk snapshot of a controller, rewritten after every
// transition. It is informational; a live controller never reads it back.
type RunState struct {
	RunID            string    `json:"run_id"`
	PID              int       `json:"pid"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Phase            string    `json:"phase"`
	CurrentExecution int       `json:"current_execution"`
	TotalExecutions  int       `json:"total_executions"`
	Completed        []int     `json:"completed_executions"`
	Progress         float64   `json:"progress"`
	LastError        string    `json:"last_error,omitempty"`
}

func (w *Writer) WriteRunState(s RunState) error {
	return writeJSONAtomic(w.RunStatePath, s)
}

// LoadRunState returns nil when no snapshot exists.
func (w *Writer) LoadRunState() (*RunState, error) {
	var rs RunState
	ok, err := readJSON(w.RunStatePath, &rs)
	if !ok {
		return nil, err
	}
	return &rs, nil
}

// Alive reports whether the process that wrote the snapshot still exists.
func (rs RunState) Alive() bool {
	return rs.PID > 0 && processAlive(rs.PID)
}
