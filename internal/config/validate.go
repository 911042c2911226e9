package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError holds details about a configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, "  - "+e.Error())
	}
	return fmt.Sprintf("validation failed with %d error(s):\n%s", len(errs), strings.Join(msgs, "\n"))
}

// HasErrors returns true if there are any validation errors.
func (errs ValidationErrors) HasErrors() bool {
	return len(errs) > 0
}

// Validate checks a config for errors and returns every problem found.
func Validate(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(cfg.JobRunner.BaseURL); err != nil || u.Host == "" {
		add("jobrunner.base_url", "invalid URL %q", cfg.JobRunner.BaseURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("jobrunner.base_url", "unsupported scheme %q", u.Scheme)
	}

	checkDuration := func(field, value string, allowZero bool) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		switch {
		case err != nil:
			add(field, "invalid duration %q", value)
		case d < 0, d == 0 && !allowZero:
			add(field, "must be positive, got %s", value)
		}
	}
	checkDuration("jobrunner.request_timeout", cfg.JobRunner.RequestTimeout, true)
	checkDuration("execution.poll_interval", cfg.Execution.PollInterval, false)
	checkDuration("execution.stop_poll_interval", cfg.Execution.StopPollInterval, false)
	checkDuration("toast.duration", cfg.Toast.Duration, true)

	switch cfg.Execution.StartMode {
	case "", StartModeAck, StartModeBackground:
	default:
		add("execution.start_mode", "unknown start mode %q, known modes: %s, %s", cfg.Execution.StartMode, StartModeAck, StartModeBackground)
	}

	if cfg.Toast.Max < 0 {
		add("toast.max", "must not be negative")
	}
	if cfg.Download.Retries < 0 {
		add("download.retries", "must not be negative")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		add("log.format", "unknown format %q", cfg.Log.Format)
	}

	return errs
}

// ValidateConfig returns nil or the aggregated ValidationErrors.
func ValidateConfig(cfg *Config) error {
	if errs := Validate(cfg); errs.HasErrors() {
		return errs
	}
	return nil
}
