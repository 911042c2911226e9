package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "runctl.json", `{
		"name": "survey",
		"jobrunner": {"base_url": "http://localhost:8080"},
		"execution": {"poll_interval": "250ms", "start_mode": "background"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Name != "survey" {
		t.Errorf("expected name 'survey', got %s", cfg.Name)
	}
	if got := cfg.Execution.GetPollInterval(); got != 250*time.Millisecond {
		t.Errorf("expected 250ms poll interval, got %s", got)
	}
	if got := cfg.Execution.GetStopPollInterval(); got != time.Second {
		t.Errorf("expected default 1s stop poll interval, got %s", got)
	}
	if cfg.Execution.StartMode != StartModeBackground {
		t.Errorf("expected background start mode, got %s", cfg.Execution.StartMode)
	}
	if cfg.Toast.Max != 5 {
		t.Errorf("expected default toast max 5, got %d", cfg.Toast.Max)
	}
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "runctl.yaml", `
name: survey
jobrunner:
  base_url: https://runner.example.com
  request_timeout: 30s
toast:
  max: 3
  duration: 0s
download:
  retries: 2
`)

	cfg, err := NewLoader().LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.JobRunner.GetRequestTimeout() != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.JobRunner.GetRequestTimeout())
	}
	if cfg.Toast.Max != 3 || cfg.Toast.GetDuration() != 0 {
		t.Errorf("unexpected toast config %+v", cfg.Toast)
	}
	if cfg.Download.Retries != 2 {
		t.Errorf("expected 2 retries, got %d", cfg.Download.Retries)
	}
}

func TestLoadFileExpandsEnv(t *testing.T) {
	t.Setenv("RUNCTL_TEST_HOST", "runner.internal")

	dir := t.TempDir()
	path := writeFile(t, dir, "runctl.json", `{
		"jobrunner": {"base_url": "http://${RUNCTL_TEST_HOST}:${RUNCTL_TEST_PORT:-9000}"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.JobRunner.BaseURL != "http://runner.internal:9000" {
		t.Errorf("unexpected base url %q", cfg.JobRunner.BaseURL)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := NewLoader().LoadOrDefault(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.JobRunner.BaseURL != "http://127.0.0.1:5000" {
		t.Errorf("expected default base url, got %q", cfg.JobRunner.BaseURL)
	}
	if cfg.StateDir != ".runctl" {
		t.Errorf("expected default state dir, got %q", cfg.StateDir)
	}
}

func TestLoadFileInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.json", `{"name": `)

	if _, err := NewLoader().LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}
