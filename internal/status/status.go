package status

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/chr1sbest/runctl/internal/jobrunner"
	"github.com/chr1sbest/runctl/internal/run"
)

// ANSI escape codes
const (
	clearLine  = "\033[2K"
	moveUp     = "\033[A"
	moveToCol0 = "\r"
	reset      = "\033[0m"
	bold       = "\033[1m"
	dim        = "\033[2m"
	green      = "\033[32m"
	yellow     = "\033[33m"
	cyan       = "\033[36m"
	red        = "\033[31m"
)

// Progress bar characters
const (
	barFilled = "█"
	barEmpty  = "░"
	barWidth  = 20
)

var sgr = regexp.MustCompile("\033\\[[0-9;]*m")

// Overlay is drawn beneath every update, e.g. the live toasts.
type Overlay interface {
	Render() string
}

// Writer handles in-place status updates to the terminal
type Writer struct {
	w            io.Writer
	mu           sync.Mutex
	linesWritten int
	plain        bool
	last         []string
	overlay      Overlay
}

// NewWithWriter creates a status writer with a custom output
func NewWithWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// NewPlain creates a writer that never rewrites previous lines and emits no
// color, for logs and pipes.
func NewPlain(w io.Writer) *Writer {
	return &Writer{w: w, plain: true}
}

// SetOverlay draws o's lines under each subsequent update.
func (s *Writer) SetOverlay(o Overlay) {
	s.mu.Lock()
	s.overlay = o
	s.mu.Unlock()
}

// Clear erases any previously written status lines
func (s *Writer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Writer) clearLocked() {
	s.last = nil
	if s.plain {
		s.linesWritten = 0
		return
	}
	for i := 0; i < s.linesWritten; i++ {
		fmt.Fprint(s.w, moveUp+clearLine)
	}
	if s.linesWritten > 0 {
		fmt.Fprint(s.w, moveToCol0)
	}
	s.linesWritten = 0
}

// Update clears previous status and writes new status, followed by the
// overlay. A plain writer skips frames identical to the last one.
func (s *Writer) Update(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overlay != nil {
		if extra := strings.TrimSuffix(s.overlay.Render(), "\n"); extra != "" {
			lines = append(slices.Clip(lines), strings.Split(extra, "\n")...)
		}
	}
	if s.plain && slices.Equal(lines, s.last) {
		return
	}

	s.clearLocked()
	for _, line := range lines {
		fmt.Fprintln(s.w, s.paint(line))
	}
	s.linesWritten = len(lines)
	s.last = lines
}

// persist writes lines that later updates will not erase.
func (s *Writer) persist(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	for _, line := range lines {
		fmt.Fprintln(s.w, s.paint(line))
	}
}

func (s *Writer) paint(line string) string {
	if !s.plain {
		return line
	}
	return sgr.ReplaceAllString(line, "")
}

// progressBar renders a percentage as a fixed-width bar
func progressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	filled := (percent * barWidth) / 100
	if filled > barWidth {
		filled = barWidth
	}

	return green + strings.Repeat(barFilled, filled) + reset +
		dim + strings.Repeat(barEmpty, barWidth-filled) + reset
}

func counter(snap run.Snapshot) string {
	return fmt.Sprintf("%s %3d%% %sexecution %d/%d%s",
		progressBar(snap.Progress), snap.Progress, dim, snap.CurrentExecution, snap.TotalExecutions, reset)
}

func controls(snap run.Snapshot) string {
	return fmt.Sprintf("%sstart:%s %sstop:%s", dim, onOff(snap.StartEnabled), dim, onOff(snap.StopEnabled))
}

func onOff(enabled bool) string {
	if enabled {
		return " on " + reset
	}
	return " off" + reset
}

// Render shows the state of the current execution in place.
func (s *Writer) Render(snap run.Snapshot) {
	line := counter(snap)
	switch snap.Phase {
	case run.PhaseStarting:
		s.Update(line+fmt.Sprintf(" %sStarting...%s", dim, reset), controls(snap))
	case run.PhaseRunning:
		done := ""
		if n := len(snap.Completed); n > 0 {
			done = fmt.Sprintf(" %s✓ %d done%s", green, n, reset)
		}
		s.Update(line+done, controls(snap))
	case run.PhaseStopping:
		s.Update(line+fmt.Sprintf(" %s⏹ Stopping...%s", yellow+bold, reset), controls(snap))
	case run.PhaseCompleted:
		s.Update(line+fmt.Sprintf(" %s✓ Complete%s", green+bold, reset), controls(snap))
	default:
		if snap.LastError != "" {
			s.Error(snap)
			return
		}
		s.Update(line, controls(snap))
	}
}

// Results shows the finished batch with the pre-run estimate when known.
func (s *Writer) Results(snap run.Snapshot, m *jobrunner.Metrics) {
	lines := []string{
		fmt.Sprintf("%s✓ Completed %d/%d executions%s", green+bold, len(snap.Completed), snap.TotalExecutions, reset),
	}
	if m != nil {
		lines = append(lines,
			fmt.Sprintf("  Survey length:  %d questions", m.SurveyLength),
			fmt.Sprintf("  Agents:         %d", m.AgentCount),
			fmt.Sprintf("  Estimated cost: $%.5f", m.EstimatedCost),
		)
	}
	if len(snap.Completed) > 0 {
		lines = append(lines, fmt.Sprintf("  %sDownload: runctl download json|csv|samplespace <%s>%s",
			dim, joinInts(snap.Completed), reset))
	}
	s.persist(lines...)
}

// Error shows a failed run. It stays on screen.
func (s *Writer) Error(snap run.Snapshot) {
	s.persist(
		counter(snap),
		fmt.Sprintf("%s✗ Execution %d failed%s", red+bold, snap.CurrentExecution, reset),
		fmt.Sprintf("%s%s%s", dim, snap.LastError, reset),
	)
}

// Review shows one execution while paging through a finished batch.
func (s *Writer) Review(snap run.Snapshot) {
	mark := fmt.Sprintf("%snot finished%s", dim, reset)
	if snap.IsCompleted(snap.CurrentExecution) {
		mark = fmt.Sprintf("%s✓ finished%s", green, reset)
	}
	s.Update(
		fmt.Sprintf("%sExecution %d of %d%s  %s", bold, snap.CurrentExecution, snap.TotalExecutions, reset, mark),
		fmt.Sprintf("%s[p]rev  [n]ext  [q]uit%s", dim, reset),
	)
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, "|")
}
