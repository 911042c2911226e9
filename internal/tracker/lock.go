package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// Lock marks the state directory as owned by one live `runctl run`.
type Lock struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	RunID     string    `json:"run_id"`
}

var ErrLockHeld = errors.New("runctl lock is held")

// Alive reports whether the owning process still exists.
func (l Lock) Alive() bool {
	return l.PID > 0 && processAlive(l.PID)
}

// ReadLock returns the current lock, or nil when the directory is free.
func (w *Writer) ReadLock() (*Lock, error) {
	var l Lock
	ok, err := readJSON(w.LockPath, &l)
	if !ok {
		return nil, err
	}
	return &l, nil
}

// AcquireLock takes the state directory for runID. A lock left by a dead
// process is replaced. The returned release only removes the lock while it
// still names runID.
func (w *Writer) AcquireLock(runID string) (func() error, error) {
	owner := Lock{PID: os.Getpid(), StartedAt: time.Now(), RunID: runID}

	for attempt := 0; attempt < 2; attempt++ {
		err := createLock(w.LockPath, owner)
		if err == nil {
			return w.releaser(runID), nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		held, readErr := w.ReadLock()
		if readErr != nil || held == nil {
			return nil, fmt.Errorf("%w (unreadable lock file %s)", ErrLockHeld, w.LockPath)
		}
		if held.Alive() {
			return nil, fmt.Errorf("%w by pid %d (run_id=%s)", ErrLockHeld, held.PID, held.RunID)
		}
		if err := os.Remove(w.LockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w (lock file keeps reappearing)", ErrLockHeld)
}

func createLock(path string, l Lock) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

func (w *Writer) releaser(runID string) func() error {
	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		held, err := w.ReadLock()
		if err != nil {
			return err
		}
		if held == nil || held.RunID != runID {
			return nil
		}
		return os.Remove(w.LockPath)
	}
}

// processAlive uses signal 0, which only checks existence/permission.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
