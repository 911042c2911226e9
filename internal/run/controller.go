package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chr1sbest/runctl/internal/jobrunner"
	"github.com/chr1sbest/runctl/internal/logger"
	"github.com/chr1sbest/runctl/internal/toast"
	"github.com/chr1sbest/runctl/internal/tracker"
)

var (
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrNoExecutions   = errors.New("no executions configured")
	ErrClosed         = errors.New("controller is closed")
)

// Runner is the subset of the job runner API the controller needs.
type Runner interface {
	Start(ctx context.Context) (*jobrunner.StartResponse, error)
	Progress(ctx context.Context, n int) (*jobrunner.ProgressResponse, error)
	Stop(ctx context.Context) error
	StopStatus(ctx context.Context) (bool, error)
	Settings(ctx context.Context) (*jobrunner.SampleSettings, error)
	Summary(ctx context.Context) (*jobrunner.Summary, error)
	Metrics(ctx context.Context) (*jobrunner.Metrics, error)
}

// Renderer displays the run. Both methods are called with the controller
// lock held and must not call back into the controller.
type Renderer interface {
	Render(s Snapshot)
	Results(s Snapshot, m *jobrunner.Metrics)
}

// Notifier surfaces transient messages. Called with the controller lock held.
type Notifier interface {
	Notify(level toast.Level, msg string)
}

// Options configures a Controller.
type Options struct {
	PollInterval     time.Duration
	StopPollInterval time.Duration
	// Background treats the start request as blocking until the batch is
	// done, polling progress while it is outstanding.
	Background bool
	Logger     logger.Logger
	Renderer   Renderer
	Notifier   Notifier
	// Tracker, when set, receives a run_state.json snapshot after every
	// transition and per-run metrics.
	Tracker *tracker.Writer
}

const defaultPollInterval = time.Second

// Controller owns a State and carries out the effects Reduce asks for. It
// holds at most one poll goroutine at a time.
type Controller struct {
	runner Runner
	opts   Options
	log    logger.Logger

	mu         sync.Mutex
	state      State
	metrics    *jobrunner.Metrics
	changed    chan struct{}
	runCtx     context.Context
	runCancel  context.CancelFunc
	pollCancel context.CancelFunc
	runID      string
	startedAt  time.Time
	closed     bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewController creates an idle controller.
func NewController(r Runner, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StopPollInterval <= 0 {
		opts.StopPollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		runner:     r,
		opts:       opts,
		log:        opts.Logger.WithFields(logger.F("component", "run")),
		state:      NewState(1),
		changed:    make(chan struct{}),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Bootstrap loads the batch size, summary and metrics from the runner.
// Only the settings are required; the others are best effort.
func (c *Controller) Bootstrap(ctx context.Context) error {
	var (
		settings *jobrunner.SampleSettings
		summary  *jobrunner.Summary
		metrics  *jobrunner.Metrics
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		settings, err = c.runner.Settings(gctx)
		if err != nil {
			return fmt.Errorf("failed to load sample settings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if summary, err = c.runner.Summary(gctx); err != nil {
			c.log.Warn("execution summary unavailable", logger.F("error", err))
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if metrics, err = c.runner.Metrics(gctx); err != nil {
			c.log.Warn("execution metrics unavailable", logger.F("error", err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		c.notify(toast.LevelError, err.Error())
		return err
	}

	total := int(settings.Executions)
	if total < 1 && summary != nil {
		total = int(summary.TotalExecutions)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = metrics
	if !c.state.Running() && total >= 1 {
		c.state = NewState(total)
	}
	c.log.Debug("bootstrapped", logger.F("executions", total))
	c.renderLocked()
	return nil
}

// Start refreshes the batch size from the runner and begins a run.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.state.CanStart() {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.mu.Unlock()

	settings, err := c.runner.Settings(ctx)
	if err != nil {
		c.notify(toast.LevelError, err.Error())
		return fmt.Errorf("failed to load sample settings: %w", err)
	}

	prev, next := c.dispatch(EvStart{Total: int(settings.Executions), Background: c.opts.Background})
	switch {
	case !prev.CanStart():
		return ErrAlreadyRunning
	case !next.Running():
		return ErrNoExecutions
	}
	return nil
}

// Stop cancels the run. It does nothing when no run is in progress.
func (c *Controller) Stop() {
	c.dispatch(EvStop{})
}

// Prev shows the previous execution.
func (c *Controller) Prev() {
	c.dispatch(EvPrev{})
}

// Next shows the next execution if it has finished.
func (c *Controller) Next() {
	c.dispatch(EvNext{})
}

// State returns a snapshot of the current state.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Metrics returns the metrics loaded by Bootstrap, if any.
func (c *Controller) Metrics() *jobrunner.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// SetPollIntervals changes the poll cadence. Running polls pick it up on
// their next tick.
func (c *Controller) SetPollIntervals(progress, stop time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if progress > 0 {
		c.opts.PollInterval = progress
	}
	if stop > 0 {
		c.opts.StopPollInterval = stop
	}
}

// Wait blocks until no run is in progress and returns the final snapshot.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		s := c.state.Snapshot()
		ch := c.changed
		c.mu.Unlock()

		if !s.Running {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Close cancels any run and waits for the controller's goroutines to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
	c.baseCancel()
	if c.state.Running() {
		c.state = c.state.clone()
		c.state.Phase = PhaseIdle
	}
	c.broadcastLocked()
	c.mu.Unlock()

	c.wg.Wait()
}

// Dispatch feeds ev through Reduce and carries out the resulting effects.
func (c *Controller) Dispatch(ev Event) {
	c.dispatch(ev)
}

func (c *Controller) dispatch(ev Event) (prev, next State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev = c.state
	if c.closed {
		return prev, prev
	}

	next, effects := Reduce(prev, ev)
	c.state = next
	c.reconcileLocked()

	if prev.Phase != next.Phase {
		c.log.Debug("run transition",
			logger.F("from", string(prev.Phase)),
			logger.F("to", string(next.Phase)),
			logger.F("event", fmt.Sprintf("%T", ev)),
		)
	}
	for _, eff := range effects {
		c.applyLocked(eff)
	}
	if len(effects) > 0 {
		c.snapshotLocked()
		c.broadcastLocked()
	}
	return prev, next
}

// reconcileLocked keeps the run handle non-nil exactly while the state is
// running.
func (c *Controller) reconcileLocked() {
	switch {
	case c.state.Running() && c.runCancel == nil:
		c.runCtx, c.runCancel = context.WithCancel(c.baseCtx)
		c.runID = tracker.NewRunID()
		c.startedAt = time.Now()
		c.log.Info("run started",
			logger.F("run_id", c.runID),
			logger.F("executions", c.state.TotalExecutions),
		)
		if c.opts.Tracker != nil {
			if err := c.opts.Tracker.RecordStart(c.runID); err != nil {
				c.log.Warn("failed to record run start", logger.F("error", err))
			}
		}
	case !c.state.Running() && c.runCancel != nil:
		c.runCancel()
		c.runCancel = nil
		c.pollCancel = nil
	}
}

func (c *Controller) applyLocked(eff Effect) {
	switch eff.Kind {
	case EffectIssueStart:
		c.goRun(c.issueStart)
	case EffectIssueStop:
		c.goRun(c.issueStop)
	case EffectPollProgress:
		c.startPollLocked(false)
	case EffectPollStopStatus:
		c.startPollLocked(true)
	case EffectCancelPoll:
		if c.pollCancel != nil {
			c.pollCancel()
			c.pollCancel = nil
		}
	case EffectRender:
		c.renderLocked()
	case EffectShowResults:
		if c.opts.Renderer != nil {
			c.opts.Renderer.Results(c.state.Snapshot(), c.metrics)
		}
	case EffectNotify:
		c.notifyLocked(eff.Level, eff.Message)
	case EffectRecordOutcome:
		c.log.Info("run finished",
			logger.F("run_id", c.runID),
			logger.F("outcome", string(eff.Outcome)),
			logger.F("completed", len(c.state.Completed)),
			logger.F("duration", time.Since(c.startedAt)),
		)
		if c.opts.Tracker != nil {
			if err := c.opts.Tracker.RecordOutcome(c.runID, eff.Outcome, len(c.state.Completed)); err != nil {
				c.log.Warn("failed to record run outcome", logger.F("error", err))
			}
		}
	}
}

// goRun runs fn against the current run context on a tracked goroutine.
func (c *Controller) goRun(fn func(ctx context.Context)) {
	if c.runCtx == nil || c.runCancel == nil {
		return
	}
	ctx := c.runCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(ctx)
	}()
}

func (c *Controller) issueStart(ctx context.Context) {
	res, err := c.runner.Start(ctx)
	if ctx.Err() != nil {
		return
	}
	ev := EvStartResponse{Err: err}
	if err == nil && res != nil {
		ev.Stopped = res.Stopped
	}
	c.dispatch(ev)
}

func (c *Controller) issueStop(ctx context.Context) {
	err := c.runner.Stop(ctx)
	if ctx.Err() != nil {
		return
	}
	c.dispatch(EvStopSent{Err: err})
}

// startPollLocked replaces the poll goroutine. Each tick waits the interval,
// issues one request and handles its response before the next wait.
func (c *Controller) startPollLocked(stopStatus bool) {
	if c.runCtx == nil || c.runCancel == nil {
		return
	}
	if c.pollCancel != nil {
		c.pollCancel()
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.pollCancel = cancel

	tick := c.pollProgress
	if stopStatus {
		tick = c.pollStopStatus
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pollLoop(ctx, stopStatus, tick)
	}()
}

func (c *Controller) pollLoop(ctx context.Context, stopStatus bool, tick func(context.Context)) {
	timer := time.NewTimer(c.interval(stopStatus))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		tick(ctx)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(c.interval(stopStatus))
	}
}

func (c *Controller) interval(stopStatus bool) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stopStatus {
		return c.opts.StopPollInterval
	}
	return c.opts.PollInterval
}

func (c *Controller) pollProgress(ctx context.Context) {
	c.mu.Lock()
	n := c.state.CurrentExecution
	c.mu.Unlock()

	res, err := c.runner.Progress(ctx, n)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.log.Warn("progress poll failed", logger.F("execution", n), logger.F("error", err))
		c.dispatch(EvPollFailed{Execution: n, Err: err})
		return
	}
	c.dispatch(EvProgress{Execution: n, Percent: res.Progress, Pending: res.Pending()})
}

func (c *Controller) pollStopStatus(ctx context.Context) {
	stopped, err := c.runner.StopStatus(ctx)
	if ctx.Err() != nil {
		return
	}
	c.dispatch(EvStopStatus{Stopped: stopped, Err: err})
}

func (c *Controller) renderLocked() {
	if c.opts.Renderer != nil {
		c.opts.Renderer.Render(c.state.Snapshot())
	}
}

func (c *Controller) notify(level toast.Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyLocked(level, msg)
}

func (c *Controller) notifyLocked(level toast.Level, msg string) {
	if level == toast.LevelError {
		c.log.Error(msg, logger.F("run_id", c.runID))
	} else {
		c.log.Info(msg, logger.F("run_id", c.runID))
	}
	if c.opts.Notifier != nil {
		c.opts.Notifier.Notify(level, msg)
	}
}

func (c *Controller) snapshotLocked() {
	if c.opts.Tracker == nil || c.runID == "" {
		return
	}
	snap := c.state.Snapshot()
	rs := tracker.RunState{
		RunID:            c.runID,
		PID:              os.Getpid(),
		StartedAt:        c.startedAt,
		UpdatedAt:        time.Now(),
		Phase:            string(snap.Phase),
		CurrentExecution: snap.CurrentExecution,
		TotalExecutions:  snap.TotalExecutions,
		Completed:        snap.Completed,
		Progress:         float64(snap.Progress),
		LastError:        snap.LastError,
	}
	if err := c.opts.Tracker.WriteRunState(rs); err != nil {
		c.log.Warn("failed to write run state", logger.F("error", err))
	}
}

func (c *Controller) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
