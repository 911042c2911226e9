package config

import (
	"time"
)

// Start modes for the execution controller.
const (
	StartModeAck        = "ack"
	StartModeBackground = "background"
)

// Config is the runctl configuration, loaded from JSON or YAML.
type Config struct {
	Name      string          `json:"name" yaml:"name"`
	JobRunner JobRunnerConfig `json:"jobrunner" yaml:"jobrunner"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Toast     ToastConfig     `json:"toast" yaml:"toast"`
	Download  DownloadConfig  `json:"download" yaml:"download"`
	Log       LogConfig       `json:"log" yaml:"log"`
	StateDir  string          `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
}

// JobRunnerConfig points the client at the remote job runner.
type JobRunnerConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"` // "" = no timeout
	UserAgent      string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// ExecutionConfig controls the run controller's polling.
type ExecutionConfig struct {
	PollInterval     string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	StopPollInterval string `json:"stop_poll_interval,omitempty" yaml:"stop_poll_interval,omitempty"`
	StartMode        string `json:"start_mode,omitempty" yaml:"start_mode,omitempty"`
}

// ToastConfig bounds the notification sink.
type ToastConfig struct {
	Max      int    `json:"max,omitempty" yaml:"max,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"` // "0s" = persistent
}

// DownloadConfig controls result downloads.
type DownloadConfig struct {
	Retries int    `json:"retries,omitempty" yaml:"retries,omitempty"`
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// LogConfig selects the zap logger's level, format and optional file sink.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "runctl"
	}
	if c.JobRunner.BaseURL == "" {
		c.JobRunner.BaseURL = "http://127.0.0.1:5000"
	}
	if c.JobRunner.UserAgent == "" {
		c.JobRunner.UserAgent = "runctl"
	}
	if c.Execution.PollInterval == "" {
		c.Execution.PollInterval = "1s"
	}
	if c.Execution.StopPollInterval == "" {
		c.Execution.StopPollInterval = "1s"
	}
	if c.Execution.StartMode == "" {
		c.Execution.StartMode = StartModeAck
	}
	if c.Toast.Max == 0 {
		c.Toast.Max = 5
	}
	if c.Toast.Duration == "" {
		c.Toast.Duration = "4s"
	}
	if c.Download.Dir == "" {
		c.Download.Dir = "."
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.StateDir == "" {
		c.StateDir = ".runctl"
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetPollInterval returns the progress polling interval.
func (e ExecutionConfig) GetPollInterval() time.Duration {
	return parseDuration(e.PollInterval, time.Second)
}

// GetStopPollInterval returns the stop-status polling interval.
func (e ExecutionConfig) GetStopPollInterval() time.Duration {
	return parseDuration(e.StopPollInterval, time.Second)
}

// GetRequestTimeout returns the per-request timeout (0 = none).
func (j JobRunnerConfig) GetRequestTimeout() time.Duration {
	return parseDuration(j.RequestTimeout, 0)
}

// GetDuration returns how long a toast stays visible (0 = persistent).
func (t ToastConfig) GetDuration() time.Duration {
	return parseDuration(t.Duration, 4*time.Second)
}
