package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chr1sbest/runctl/internal/config"
	"github.com/chr1sbest/runctl/internal/logger"
	"github.com/chr1sbest/runctl/internal/run"
	"github.com/chr1sbest/runctl/internal/toast"
	"github.com/chr1sbest/runctl/internal/tracker"
)

type runOptions struct {
	review     bool
	watch      bool
	background bool
	file       string
	color      string
	configFile string
}

func newRunCmd(a *app) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a batch and follow it until it finishes",
		Long: `Start a batch of executions and follow its progress.

Press Ctrl-C once to stop the batch on the runner, twice to quit without waiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configFile, _ = cmd.Flags().GetString("config")
			return a.runBatch(cmd.Context(), cmd.InOrStdin(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.review, "review", false, "Page through finished executions afterwards")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload poll intervals when the config file changes")
	cmd.Flags().BoolVar(&opts.background, "background", false, "Poll while the start request is still outstanding")
	cmd.Flags().StringVar(&opts.file, "file", "", "Record the survey file this batch belongs to")
	cmd.Flags().StringVar(&opts.color, "color", colorAuto, "Redraw progress in place with color: auto, always or never")
	return cmd
}

func toastDuration(cfg *config.Config) time.Duration {
	d := cfg.Toast.GetDuration()
	if d == 0 {
		return -1
	}
	return d
}

func (a *app) runBatch(ctx context.Context, in io.Reader, opts runOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	screen, header, err := screens(a.out, opts.color)
	if err != nil {
		return err
	}

	if err := a.tracker.EnsureDir(); err != nil {
		return err
	}
	release, err := a.tracker.AcquireLock(tracker.NewRunID())
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	if opts.file != "" {
		if err := a.tracker.SetCurrentFile(opts.file); err != nil {
			a.log.Warn("failed to record current file", logger.F("error", err))
		}
	}

	client := a.client()
	defer client.Close()

	toasts := toast.New(toast.Options{
		Max:      a.cfg.Toast.Max,
		Duration: toastDuration(a.cfg),
		Term:     a.out,
	})
	screen.SetOverlay(toasts)
	ctrl := run.NewController(client, run.Options{
		PollInterval:     a.cfg.Execution.GetPollInterval(),
		StopPollInterval: a.cfg.Execution.GetStopPollInterval(),
		Background:       opts.background || a.cfg.Execution.StartMode == config.StartModeBackground,
		Logger:           a.log,
		Renderer:         screen,
		Notifier:         toasts,
		Tracker:          a.tracker,
	})
	defer ctrl.Close()

	if err := ctrl.Bootstrap(ctx); err != nil {
		return err
	}
	// Bootstrap drew the idle status; put the header above it.
	screen.Clear()
	header.Print(a.cfg, ctrl.State().TotalExecutions)
	screen.Render(ctrl.State())

	if opts.watch {
		stop, err := a.watchConfig(ctx, opts.configFile, ctrl)
		if err != nil {
			return err
		}
		defer stop()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		ctrl.Stop()
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	snap, err := ctrl.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &exitError{code: 130, err: errors.New("interrupted")}
		}
		return err
	}

	if snap.LastError != "" {
		return &exitError{code: 1, err: errors.New(snap.LastError)}
	}
	if opts.review && len(snap.Completed) > 0 {
		return reviewLoop(in, screen, ctrl)
	}
	return nil
}

// watchConfig applies poll interval changes from the config file to ctrl.
func (a *app) watchConfig(ctx context.Context, path string, ctrl *run.Controller) (func(), error) {
	w, err := config.NewWatcher(config.NewLoader(), path)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Stop()
		return nil, fmt.Errorf("cannot watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range w.Events() {
			if ev.Error != nil {
				a.log.Warn("config reload failed", logger.F("path", ev.Path), logger.F("error", ev.Error))
				continue
			}
			ctrl.SetPollIntervals(ev.Config.Execution.GetPollInterval(), ev.Config.Execution.GetStopPollInterval())
			a.log.Info("config reloaded",
				logger.F("poll_interval", ev.Config.Execution.GetPollInterval()),
				logger.F("stop_poll_interval", ev.Config.Execution.GetStopPollInterval()),
			)
		}
	}()

	return func() {
		_ = w.Stop()
		<-done
	}, nil
}
