package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chr1sbest/runctl/internal/jobrunner"
	"github.com/chr1sbest/runctl/internal/resilience"
	"github.com/chr1sbest/runctl/internal/toast"
	"github.com/chr1sbest/runctl/internal/tracker"
)

// memRunner is an in-process Runner. Execution n reports script[n] one value
// per poll, the last value repeating; unscripted executions report 100.
type memRunner struct {
	mu sync.Mutex

	total        int
	script       map[int][]float64
	progressErr  map[int]error
	settingsErr  error
	summaryErr   error
	startErr     error
	startStopped bool
	block        chan struct{} // Start waits on it when set
	stopAfter    int           // stop status polls answered false
	delay        time.Duration

	polls       map[int]int
	stopPolls   int
	stopCalls   int
	startCalls  int
	inflight    int
	maxInflight int
}

func newMemRunner(total int) *memRunner {
	return &memRunner{total: total, polls: map[int]int{}}
}

func (m *memRunner) Start(ctx context.Context) (*jobrunner.StartResponse, error) {
	m.mu.Lock()
	m.startCalls++
	block, err, stopped := m.block, m.startErr, m.startStopped
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &jobrunner.StartResponse{Success: true, Stopped: stopped}, nil
}

func (m *memRunner) Progress(ctx context.Context, n int) (*jobrunner.ProgressResponse, error) {
	m.mu.Lock()
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
	if err := m.progressErr[n]; err != nil {
		return nil, err
	}
	m.polls[n]++
	p := 100.0
	if seq, ok := m.script[n]; ok && len(seq) > 0 {
		i := m.polls[n] - 1
		if i >= len(seq) {
			i = len(seq) - 1
		}
		p = seq[i]
	}
	return &jobrunner.ProgressResponse{Success: true, Progress: p, CurrentExecution: n, TotalExecutions: m.total}, nil
}

func (m *memRunner) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return nil
}

func (m *memRunner) StopStatus(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopPolls++
	return m.stopPolls > m.stopAfter, nil
}

func (m *memRunner) Settings(ctx context.Context) (*jobrunner.SampleSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settingsErr != nil {
		return nil, m.settingsErr
	}
	return &jobrunner.SampleSettings{Executions: jobrunner.Count(m.total)}, nil
}

func (m *memRunner) Summary(ctx context.Context) (*jobrunner.Summary, error) {
	if m.summaryErr != nil {
		return nil, m.summaryErr
	}
	return &jobrunner.Summary{TotalExecutions: jobrunner.Count(m.total)}, nil
}

func (m *memRunner) Metrics(ctx context.Context) (*jobrunner.Metrics, error) {
	return &jobrunner.Metrics{SurveyLength: 4, AgentCount: 2, EstimatedCost: 0.5}, nil
}

func (m *memRunner) counts() (polls map[int]int, stopCalls, maxInflight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[int]int, len(m.polls))
	for k, v := range m.polls {
		cp[k] = v
	}
	return cp, m.stopCalls, m.maxInflight
}

// recorder is both Renderer and Notifier. On every render it checks that the
// controller holds a run handle exactly while the snapshot is running.
type recorder struct {
	c *Controller

	mu         sync.Mutex
	renders    []Snapshot
	results    []Snapshot
	metrics    *jobrunner.Metrics
	notes      []string
	violations []string
}

func (r *recorder) Render(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil && (r.c.runCancel != nil) != s.Running {
		r.violations = append(r.violations, fmt.Sprintf("phase=%s handle=%v", s.Phase, r.c.runCancel != nil))
	}
	r.renders = append(r.renders, s)
}

func (r *recorder) Results(s Snapshot, m *jobrunner.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, s)
	r.metrics = m
}

func (r *recorder) Notify(level toast.Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, string(level)+": "+msg)
}

func (r *recorder) snapshot() (renders, results []Snapshot, notes, violations []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.renders...),
		append([]Snapshot(nil), r.results...),
		append([]string(nil), r.notes...),
		append([]string(nil), r.violations...)
}

func newTestController(t *testing.T, m *memRunner, opts Options) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	if opts.StopPollInterval == 0 {
		opts.StopPollInterval = time.Millisecond
	}
	opts.Renderer = rec
	opts.Notifier = rec
	c := NewController(m, opts)
	rec.c = c
	return c, rec
}

func waitIdle(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := c.Wait(ctx)
	require.NoError(t, err, "run did not finish, phase=%s", s.Phase)
	return s
}

func TestController_CompletesBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(3)
	m.script = map[int][]float64{1: {0, 50, 100}, 2: {30, 100}, 3: {100}}
	w := tracker.NewWriter(t.TempDir())
	c, rec := newTestController(t, m, Options{Tracker: w})
	defer c.Close()

	require.NoError(t, c.Bootstrap(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	s := waitIdle(t, c)

	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, []int{1, 2, 3}, s.Completed)
	assert.False(t, s.StopEnabled)
	assert.True(t, s.StartEnabled)

	_, results, _, violations := rec.snapshot()
	assert.Empty(t, violations)
	require.Len(t, results, 1)
	assert.Equal(t, 2, rec.metrics.AgentCount)

	polls, _, _ := m.counts()
	assert.Equal(t, map[int]int{1: 3, 2: 2, 3: 1}, polls)

	metrics, err := w.LoadMetrics()
	require.NoError(t, err)
	require.NotNil(t, metrics)
	assert.Equal(t, 1, metrics.RunsStarted)
	assert.Equal(t, 1, metrics.RunsCompleted)
	assert.Equal(t, 3, metrics.ExecutionsCompleted)

	rs, err := w.LoadRunState()
	require.NoError(t, err)
	require.NotNil(t, rs)
	assert.Equal(t, "completed", rs.Phase)
	assert.Equal(t, []int{1, 2, 3}, rs.Completed)
}

func TestController_ProgressErrorNotifies(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(2)
	m.progressErr = map[int]error{2: resilience.NewApplicationError("progress", 200, "x")}
	c, rec := newTestController(t, m, Options{})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	s := waitIdle(t, c)

	assert.Equal(t, PhaseIdle, s.Phase)
	assert.True(t, s.StartEnabled)
	assert.Equal(t, "x", s.LastError)
	assert.Equal(t, []int{1}, s.Completed)

	_, _, notes, violations := rec.snapshot()
	assert.Equal(t, []string{"error: x"}, notes)
	assert.Empty(t, violations)
}

func TestController_StopMidRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(3)
	m.script = map[int][]float64{1: {10}}
	m.stopAfter = 2
	c, rec := newTestController(t, m, Options{})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		polls, _, _ := m.counts()
		return polls[1] >= 2
	}, 5*time.Second, time.Millisecond)

	c.Stop()
	s := waitIdle(t, c)

	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Empty(t, s.Completed)

	_, stopCalls, _ := m.counts()
	assert.Equal(t, 1, stopCalls)

	_, _, notes, violations := rec.snapshot()
	assert.Equal(t, []string{"info: Execution stopped"}, notes)
	assert.Empty(t, violations)
}

func TestController_StopWhenIdleIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(1)
	c, rec := newTestController(t, m, Options{})
	defer c.Close()

	c.Stop()

	_, stopCalls, _ := m.counts()
	assert.Zero(t, stopCalls)
	renders, _, notes, _ := rec.snapshot()
	assert.Empty(t, renders)
	assert.Empty(t, notes)
	assert.Equal(t, PhaseIdle, c.State().Phase)
}

func TestController_StartWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(2)
	m.block = make(chan struct{})
	c, _ := newTestController(t, m, Options{})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, PhaseStarting, c.State().Phase)
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)

	close(m.block)
	s := waitIdle(t, c)
	assert.Equal(t, PhaseCompleted, s.Phase)
}

func TestController_SettingsFailureLeavesIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(2)
	m.settingsErr = resilience.NewStatusError("settings", 500)
	c, rec := newTestController(t, m, Options{})
	defer c.Close()

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsNetworkError(err))
	assert.Equal(t, PhaseIdle, c.State().Phase)

	_, _, notes, _ := rec.snapshot()
	assert.Equal(t, []string{"error: settings: unexpected status 500"}, notes)
	assert.Zero(t, m.startCalls)
}

func TestController_StartFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(2)
	m.startErr = errors.New("Error in start_execution: no survey")
	c, rec := newTestController(t, m, Options{})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	s := waitIdle(t, c)
	assert.Equal(t, PhaseIdle, s.Phase)

	_, _, notes, violations := rec.snapshot()
	assert.Equal(t, []string{"error: Error in start_execution: no survey"}, notes)
	assert.Empty(t, violations)
}

func TestController_StartStoppedIsSilent(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(2)
	m.startStopped = true
	c, rec := newTestController(t, m, Options{})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	s := waitIdle(t, c)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Empty(t, s.LastError)

	_, _, notes, _ := rec.snapshot()
	assert.Empty(t, notes)
}

func TestController_StopRacesWithFinishedBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(2)
	c, rec := newTestController(t, m, Options{Background: true, PollInterval: time.Hour})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		return c.State().ExecutionFinished
	}, 5*time.Second, time.Millisecond)

	c.Stop()
	s := c.State()
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, []int{1, 2}, s.Completed)

	_, stopCalls, _ := m.counts()
	assert.Zero(t, stopCalls)

	_, results, notes, violations := rec.snapshot()
	assert.Equal(t, []string{"info: execution 2 already finished"}, notes)
	assert.Len(t, results, 1)
	assert.Empty(t, violations)
}

func TestController_SingleFlightPolling(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(2)
	m.script = map[int][]float64{1: {10, 20, 30, 100}}
	m.delay = 5 * time.Millisecond
	c, _ := newTestController(t, m, Options{})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	waitIdle(t, c)

	_, _, maxInflight := m.counts()
	assert.Equal(t, 1, maxInflight)
}

func TestController_NavigationAfterCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(3)
	c, _ := newTestController(t, m, Options{})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	waitIdle(t, c)

	c.Prev()
	c.Prev()
	c.Prev()
	assert.Equal(t, 1, c.State().CurrentExecution)

	c.Next()
	assert.Equal(t, 2, c.State().CurrentExecution)
	c.Next()
	c.Next()
	assert.Equal(t, 3, c.State().CurrentExecution)
}

func TestController_CloseStopsPolling(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(2)
	m.script = map[int][]float64{1: {5}}
	c, _ := newTestController(t, m, Options{})

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		polls, _, _ := m.counts()
		return polls[1] > 0
	}, 5*time.Second, time.Millisecond)

	c.Close()
	assert.False(t, c.State().Running)
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)

	polls, _, _ := m.counts()
	time.Sleep(10 * time.Millisecond)
	after, _, _ := m.counts()
	assert.Equal(t, polls, after)
}

func TestController_Bootstrap(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newMemRunner(4)
	m.summaryErr = errors.New("summary down")
	c, rec := newTestController(t, m, Options{})
	defer c.Close()

	require.NoError(t, c.Bootstrap(context.Background()))
	s := c.State()
	assert.Equal(t, 4, s.TotalExecutions)
	assert.Equal(t, PhaseIdle, s.Phase)
	require.NotNil(t, c.Metrics())

	renders, _, _, _ := rec.snapshot()
	assert.Len(t, renders, 1)

	m.settingsErr = errors.New("settings down")
	assert.Error(t, c.Bootstrap(context.Background()))
}

func TestController_SetPollIntervals(t *testing.T) {
	c := NewController(newMemRunner(1), Options{})
	defer c.Close()

	c.SetPollIntervals(5*time.Millisecond, 0)
	assert.Equal(t, 5*time.Millisecond, c.interval(false))
	assert.Equal(t, defaultPollInterval, c.interval(true))
}
