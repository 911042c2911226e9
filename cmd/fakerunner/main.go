// Command fakerunner serves a simulated job runner for trying runctl
// without the real backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chr1sbest/runctl/internal/jobrunner/fakerunner"
	"github.com/chr1sbest/runctl/internal/logger"
)

type serveOptions struct {
	addr        string
	executions  int
	step        float64
	blockStart  bool
	finishAfter time.Duration
	stopDelay   int
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:           "fakerunner",
		Short:         "Serve a simulated job runner",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "127.0.0.1:5000", "Listen address")
	f.IntVar(&opts.executions, "executions", 3, "Executions per batch")
	f.Float64Var(&opts.step, "step", 10, "Progress added per poll")
	f.BoolVar(&opts.blockStart, "block-start", false, "Hold the start response until the batch ends")
	f.DurationVar(&opts.finishAfter, "finish-after", 0, "Finish the batch on its own after this long")
	f.IntVar(&opts.stopDelay, "stop-delay", 0, "Stop status polls answered with stopped:false")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	return cmd
}

func serve(ctx context.Context, opts serveOptions) error {
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	log := logger.NewStdoutLogger(level)
	defer func() { _ = log.Close() }()

	fake := fakerunner.New(fakerunner.Options{
		Executions:  opts.executions,
		Step:        opts.step,
		BlockStart:  opts.blockStart,
		FinishAfter: opts.finishAfter,
		StopDelay:   opts.stopDelay,
	})
	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           logRequests(log, fake),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("fake job runner listening", logger.F("addr", opts.addr), logger.F("executions", opts.executions))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func logRequests(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("request",
			logger.F("method", r.Method),
			logger.F("path", r.URL.Path),
			logger.F("duration", time.Since(start)),
		)
	})
}
