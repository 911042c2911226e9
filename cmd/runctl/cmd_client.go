package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/chr1sbest/runctl/internal/jobrunner"
	"github.com/chr1sbest/runctl/internal/logger"
)

func parseExecution(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("execution must be a positive integer, got %q", arg)
	}
	return n, nil
}

func newStopCmd(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the runner to stop the current batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			defer c.Close()
			ctx := cmd.Context()

			if err := c.Stop(ctx); err != nil {
				return err
			}
			if !wait {
				fmt.Fprintln(a.out, "Stop requested")
				return nil
			}

			interval := a.cfg.Execution.GetStopPollInterval()
			for {
				stopped, err := c.StopStatus(ctx)
				if err != nil {
					return err
				}
				if stopped {
					fmt.Fprintln(a.out, "Execution stopped")
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the runner confirms the stop")
	return cmd
}

func newProgressCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <execution>",
		Short: "Show the progress of one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseExecution(args[0])
			if err != nil {
				return err
			}
			c := a.client()
			defer c.Close()

			p, err := c.Progress(cmd.Context(), n)
			if err != nil {
				return err
			}
			if p.Pending() {
				fmt.Fprintf(a.out, "execution %d/%d: not started\n", n, p.TotalExecutions)
				return nil
			}
			fmt.Fprintf(a.out, "execution %d/%d: %.0f%%\n", n, p.TotalExecutions, p.Progress)
			return nil
		},
	}
}

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change the number of executions per batch",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the configured number of executions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c := a.client()
				defer c.Close()
				s, err := c.Settings(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "executions: %d\n", s.Executions)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <executions>",
			Short: "Set the number of executions for the next batch",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := parseExecution(args[0])
				if err != nil {
					return err
				}
				c := a.client()
				defer c.Close()
				if err := c.SaveSettings(cmd.Context(), n); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "executions: %d\n", n)
				return nil
			},
		},
	)
	return cmd
}

func newSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the batch summary and the last recorded run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			defer c.Close()
			s, err := c.Summary(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "total executions: %d\n", s.TotalExecutions)

			if sess, err := a.tracker.LoadSession(); err == nil && sess.CurrentFile != "" {
				fmt.Fprintf(a.out, "current file:     %s\n", sess.CurrentFile)
			}
			if l, err := a.tracker.ReadLock(); err == nil && l != nil && l.Alive() {
				fmt.Fprintf(a.out, "locked by:        pid %d since %s\n", l.PID, l.StartedAt.Format(time.RFC3339))
			}
			if m, err := a.tracker.LoadMetrics(); err == nil && m != nil {
				fmt.Fprintf(a.out, "runs:             %d started, %d completed, %d stopped, %d failed\n",
					m.RunsStarted, m.RunsCompleted, m.RunsStopped, m.RunsFailed)
				if m.LastRunID != "" {
					fmt.Fprintf(a.out, "last run:         %s (%s)\n", m.LastRunID, m.LastOutcome)
				}
			}
			return nil
		},
	}
}

func newMetricsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the survey length, agent count and estimated cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			defer c.Close()
			m, err := c.Metrics(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}
			fmt.Fprintf(a.out, "survey length:  %d\n", m.SurveyLength)
			fmt.Fprintf(a.out, "agent count:    %d\n", m.AgentCount)
			fmt.Fprintf(a.out, "estimated cost: $%.5f\n", m.EstimatedCost)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:       "download <json|csv|samplespace> <execution>",
		Short:     "Download the results of one execution",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{jobrunner.FormatJSON, jobrunner.FormatCSV, jobrunner.FormatSampleSpace},
		RunE: func(cmd *cobra.Command, args []string) error {
			format := args[0]
			if !jobrunner.ValidFormat(format) {
				return fmt.Errorf("unknown format %q (want json, csv or samplespace)", format)
			}
			n, err := parseExecution(args[1])
			if err != nil {
				return err
			}
			c := a.client()
			defer c.Close()
			return a.download(output, func(w io.Writer) (string, error) {
				return c.Download(cmd.Context(), format, n, w)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this path instead of the download directory")
	return cmd
}

func newDownloadSampleSpaceCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download-samplespace",
		Short: "Download the sample profiles used by the batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			defer c.Close()
			return a.download(output, func(w io.Writer) (string, error) {
				return c.DownloadSampleSpace(cmd.Context(), w)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this path instead of the download directory")
	return cmd
}

// download fetches into a temporary file and renames it to output, or to
// the server's filename inside the download directory when output is empty.
func (a *app) download(output string, fetch func(w io.Writer) (string, error)) error {
	dir := a.cfg.Download.Dir
	if output != "" {
		dir = filepath.Dir(output)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".runctl-download-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	name, err := fetch(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	path := output
	if path == "" {
		path = filepath.Join(dir, filepath.Base(name))
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s\n", path)
	return nil
}

func newAppSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app-settings",
		Short: "Read or replace the runner's LLM settings and user preferences",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the runner's application settings as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c := a.client()
				defer c.Close()
				s, err := c.AppSettings(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			},
		},
		&cobra.Command{
			Use:   "set <file.json>",
			Short: "Replace the runner's application settings from a JSON file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var s jobrunner.AppSettings
				if err := json.Unmarshal(b, &s); err != nil {
					return fmt.Errorf("invalid settings file %s: %w", args[0], err)
				}
				c := a.client()
				defer c.Close()
				if err := c.SaveAppSettings(cmd.Context(), &s); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Settings saved")
				return nil
			},
		},
	)
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Reset the runner's per-file configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			defer c.Close()
			if err := c.Cleanup(cmd.Context()); err != nil {
				return err
			}
			if sess, err := a.tracker.LoadSession(); err == nil && sess.CurrentFile != "" {
				if err := a.tracker.SetCurrentFile(""); err != nil {
					a.log.Warn("failed to clear current file", logger.F("error", err))
				}
			}
			fmt.Fprintln(a.out, "Runner configuration cleared")
			return nil
		},
	}
}
