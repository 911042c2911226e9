package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chr1sbest/runctl/internal/config"
	"github.com/chr1sbest/runctl/internal/jobrunner"
	"github.com/chr1sbest/runctl/internal/logger"
	"github.com/chr1sbest/runctl/internal/tracker"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configFile string
	baseURL    string
	logLevel   string
	stateDir   string
}

// app is what a command needs once flags and config are resolved.
type app struct {
	cfg     *config.Config
	log     *logger.ZapLogger
	tracker *tracker.Writer
	out     io.Writer
	errOut  io.Writer
}

func main() {
	a := newApp(os.Stdout, os.Stderr)
	err := a.rootCmd().Execute()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut}
}

// close flushes the logger and releases its file sink.
func (a *app) close() {
	if a.log != nil {
		_ = a.log.Close()
	}
}

func (a *app) rootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "runctl",
		Short:         "Drive survey execution batches on a job runner",
		Long:          "runctl starts, watches, stops and reviews batches of survey executions on a remote job runner.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(flags)
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "runctl.yaml", "Path to config file (JSON or YAML)")
	pf.StringVar(&flags.baseURL, "base-url", "", "Job runner base URL (overrides config)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&flags.stateDir, "state-dir", "", "Directory for run state and metrics (overrides config)")

	root.AddCommand(
		newRunCmd(a),
		newStopCmd(a),
		newProgressCmd(a),
		newSettingsCmd(a),
		newSummaryCmd(a),
		newMetricsCmd(a),
		newAppSettingsCmd(a),
		newDownloadCmd(a),
		newDownloadSampleSpaceCmd(a),
		newReviewCmd(a),
		newCleanupCmd(a),
		newVersionCmd(a),
	)

	return root
}

func (a *app) init(flags *globalFlags) error {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg, err := config.NewLoader().LoadOrDefault(flags.configFile)
	if err != nil {
		return err
	}
	if flags.baseURL != "" {
		cfg.JobRunner.BaseURL = flags.baseURL
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.stateDir != "" {
		cfg.StateDir = flags.stateDir
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Options{
		Level:  level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Writer: a.errOut,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	a.tracker = tracker.NewWriter(cfg.StateDir)
	return nil
}

func (a *app) client() *jobrunner.Client {
	return jobrunner.New(jobrunner.Options{
		BaseURL:         a.cfg.JobRunner.BaseURL,
		Timeout:         a.cfg.JobRunner.GetRequestTimeout(),
		UserAgent:       a.cfg.JobRunner.UserAgent,
		DownloadRetries: a.cfg.Download.Retries,
		Logger:          a.log,
	})
}
