package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Writer owns the files a controller keeps in its state directory.
type Writer struct {
	Dir          string
	RunStatePath string
	LockPath     string
	MetricsPath  string
	SessionPath  string
}

// NewWriter lays out the state files under dir. Nothing is created until
// the first write.
func NewWriter(dir string) *Writer {
	return &Writer{
		Dir:          dir,
		RunStatePath: filepath.Join(dir, "run_state.json"),
		LockPath:     filepath.Join(dir, ".runctl_lock"),
		MetricsPath:  filepath.Join(dir, "run_metrics.json"),
		SessionPath:  filepath.Join(dir, "session.json"),
	}
}

// EnsureDir creates the state directory if needed.
func (w *Writer) EnsureDir() error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return nil
}

// writeJSONAtomic replaces path with v encoded as JSON. Readers see either
// the old or the new file, never a partial write.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
	}
	return err
}

// readJSON decodes path into v. A missing or corrupted file reports
// ok=false with no error.
func readJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, nil
	}
	return true, nil
}
