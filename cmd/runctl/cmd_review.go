package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chr1sbest/runctl/internal/jobrunner"
	"github.com/chr1sbest/runctl/internal/run"
	"github.com/chr1sbest/runctl/internal/status"
	"github.com/chr1sbest/runctl/internal/tracker"
)

// navigator pages through the completed executions of a batch.
type navigator interface {
	Prev()
	Next()
	State() run.Snapshot
}

func newReviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Page through the completed executions of the last recorded run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := a.tracker.LoadRunState()
			if err != nil {
				return err
			}
			if rs == nil {
				return errors.New("no recorded run; start one with 'runctl run'")
			}
			nav, err := newRecordedRun(rs)
			if err != nil {
				return err
			}
			screen, _, err := screens(a.out, colorAuto)
			if err != nil {
				return err
			}
			return reviewLoop(cmd.InOrStdin(), screen, nav)
		},
	}
}

// recordedRun replays navigation over a run loaded from the state directory.
type recordedRun struct {
	state run.State
}

func newRecordedRun(rs *tracker.RunState) (*recordedRun, error) {
	phase := run.Phase(rs.Phase)
	if phase != run.PhaseCompleted && phase != run.PhaseIdle {
		if rs.Alive() {
			return nil, fmt.Errorf("run %s is still %s", rs.RunID, rs.Phase)
		}
		// The recording process died mid-run.
		phase = run.PhaseIdle
	}
	if rs.TotalExecutions < 1 || rs.TotalExecutions > jobrunner.MaxCount {
		return nil, fmt.Errorf("run %s has an invalid batch size %d", rs.RunID, rs.TotalExecutions)
	}

	s := run.NewState(rs.TotalExecutions)
	s.Phase = phase
	s.LastError = rs.LastError
	first := 0
	for _, n := range rs.Completed {
		if n < 1 || n > s.TotalExecutions {
			continue
		}
		s.Completed[n] = true
		if first == 0 || n < first {
			first = n
		}
	}
	if first == 0 {
		return nil, fmt.Errorf("run %s has no completed executions", rs.RunID)
	}
	s.CurrentExecution = first
	s.Progress = 100
	return &recordedRun{state: s}, nil
}

func (r *recordedRun) Prev() { r.state, _ = run.Reduce(r.state, run.EvPrev{}) }
func (r *recordedRun) Next() { r.state, _ = run.Reduce(r.state, run.EvNext{}) }

func (r *recordedRun) State() run.Snapshot { return r.state.Snapshot() }

// reviewLoop reads p/n/q commands from in until quit or EOF.
func reviewLoop(in io.Reader, screen *status.Writer, nav navigator) error {
	screen.Review(nav.State())

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "p", "prev":
			nav.Prev()
		case "n", "next":
			nav.Next()
		case "q", "quit", "exit":
			return nil
		default:
			continue
		}
		screen.Review(nav.State())
	}
	return scanner.Err()
}
