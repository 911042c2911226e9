package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runctl.json")
	if err := os.WriteFile(path, []byte(`{"execution": {"poll_interval": "1s"}}`), 0644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	watcher, err := NewWatcher(NewLoader(), path)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	if got := watcher.Current().Execution.GetPollInterval(); got != time.Second {
		t.Fatalf("expected initial 1s interval, got %s", got)
	}

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644); err != nil {
		t.Fatalf("failed to write other file: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"execution": {"poll_interval": "200ms"}}`), 0644); err != nil {
		t.Fatalf("failed to write updated config: %v", err)
	}

	select {
	case event := <-watcher.Events():
		if event.Error != nil {
			t.Fatalf("unexpected error: %v", event.Error)
		}
		if got := event.Config.Execution.GetPollInterval(); got != 200*time.Millisecond {
			t.Errorf("expected 200ms interval, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config event")
	}

	if got := watcher.Current().Execution.GetPollInterval(); got != 200*time.Millisecond {
		t.Errorf("expected Current to reflect reload, got %s", got)
	}
}

func TestWatcherReportsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runctl.json")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	watcher, err := NewWatcher(NewLoader(), path)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte(`{"execution": {"start_mode": "eager"}}`), 0644); err != nil {
		t.Fatalf("failed to write invalid config: %v", err)
	}

	select {
	case event := <-watcher.Events():
		if event.Error == nil {
			t.Fatal("expected validation error event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}

	if watcher.Current().Execution.StartMode != StartModeAck {
		t.Error("invalid reload must keep the previous config")
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	watcher, err := NewWatcher(NewLoader(), filepath.Join(t.TempDir(), "runctl.json"))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
