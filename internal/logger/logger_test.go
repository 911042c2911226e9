package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"", LevelInfo, false},
		{" INFO ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: LevelWarn, Format: "json", Writer: &buf})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("poll failed", F("execution", 2), F("error", errors.New("boom")))
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "poll failed", entry["msg"])
	assert.Equal(t, 2.0, entry["execution"])
	assert.Equal(t, "boom", entry["error"])
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: LevelDebug, Format: "json", Writer: &buf})
	require.NoError(t, err)

	log.WithFields(F("run_id", "abc")).Debug("tick")
	assert.Contains(t, buf.String(), `"run_id":"abc"`)
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runctl.log")
	var buf bytes.Buffer
	log, err := New(Options{Level: LevelInfo, File: path, Writer: &buf})
	require.NoError(t, err)

	log.Info("started")
	require.NoError(t, log.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "started")
	assert.Contains(t, buf.String(), "started")
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	require.Error(t, err)
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NewNoopLogger()
	l.Info("ignored")
	assert.Equal(t, l, l.WithFields(F("k", "v")))
}

func TestClose_ReleasesFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runctl.log")
	log, err := New(Options{Level: LevelInfo, File: path, Writer: &bytes.Buffer{}})
	require.NoError(t, err)
	f := log.file
	require.NotNil(t, f)

	log.Info("before close")
	require.NoError(t, log.Close())
	require.NoError(t, log.Close(), "second Close is a no-op")

	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "before close")
}

func TestNewStdoutLogger(t *testing.T) {
	log := NewStdoutLogger(LevelError)
	require.NotNil(t, log)
	require.NoError(t, log.Close())
}
