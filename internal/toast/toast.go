// Package toast keeps a bounded list of short-lived notifications for a live
// status display to draw, optionally echoing each one as it is raised.
package toast

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Level is the kind of notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

const (
	DefaultMax      = 5
	DefaultDuration = 4 * time.Second
)

// Icon returns the glyph shown in front of a toast of this level.
func (l Level) Icon() string {
	switch l {
	case LevelSuccess:
		return "✓"
	case LevelError:
		return "✗"
	case LevelWarning:
		return "!"
	default:
		return "i"
	}
}

// Toast is one notification.
type Toast struct {
	ID        int
	Level     Level
	Message   string
	CreatedAt time.Time
	Duration  time.Duration // 0 = persistent
}

// Expired reports whether the toast's lifetime has passed at now.
func (t Toast) Expired(now time.Time) bool {
	return t.Duration > 0 && !now.Before(t.CreatedAt.Add(t.Duration))
}

// Options configures a Manager.
type Options struct {
	Max      int           // defaults to DefaultMax
	Duration time.Duration // defaults to DefaultDuration; negative = persistent
	Writer   io.Writer     // each toast is also printed here when set
	Term     io.Writer     // output whose color profile styles toasts; defaults to Writer, then stdout
	Now      func() time.Time
}

// Manager holds the live toasts.
type Manager struct {
	mu       sync.Mutex
	max      int
	duration time.Duration
	w        io.Writer
	now      func() time.Time
	styles   map[Level]lipgloss.Style
	toasts   []Toast
	nextID   int
}

// New creates a Manager.
func New(opts Options) *Manager {
	if opts.Max <= 0 {
		opts.Max = DefaultMax
	}
	switch {
	case opts.Duration == 0:
		opts.Duration = DefaultDuration
	case opts.Duration < 0:
		opts.Duration = 0
	}
	if opts.Term == nil {
		opts.Term = opts.Writer
	}
	if opts.Term == nil {
		opts.Term = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := lipgloss.NewRenderer(opts.Term)
	base := r.NewStyle().Bold(true)
	return &Manager{
		max:      opts.Max,
		duration: opts.Duration,
		w:        opts.Writer,
		now:      opts.Now,
		styles: map[Level]lipgloss.Style{
			LevelSuccess: base.Foreground(lipgloss.Color("#8BC34A")),
			LevelError:   base.Foreground(lipgloss.Color("#e53935")),
			LevelWarning: base.Foreground(lipgloss.Color("#FFC107")),
			LevelInfo:    base.Foreground(lipgloss.Color("#2196F3")),
		},
	}
}

// Show raises a toast with the default lifetime.
func (m *Manager) Show(level Level, msg string) Toast {
	return m.ShowFor(level, msg, m.duration)
}

// ShowFor raises a toast that lives for d (0 = until removed). The oldest
// toast is dropped when the manager is full.
func (m *Manager) ShowFor(level Level, msg string, d time.Duration) Toast {
	if _, ok := m.styles[level]; !ok {
		level = LevelInfo
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()
	if len(m.toasts) >= m.max {
		m.toasts = m.toasts[1:]
	}
	m.nextID++
	t := Toast{
		ID:        m.nextID,
		Level:     level,
		Message:   msg,
		CreatedAt: m.now(),
		Duration:  d,
	}
	m.toasts = append(m.toasts, t)
	if m.w != nil {
		fmt.Fprintln(m.w, m.format(t))
	}
	return t
}

// Notify raises a toast. It lets a Manager serve as the run controller's
// notification sink.
func (m *Manager) Notify(level Level, msg string) {
	m.Show(level, msg)
}

func (m *Manager) Success(msg string) Toast { return m.Show(LevelSuccess, msg) }
func (m *Manager) Error(msg string) Toast   { return m.Show(LevelError, msg) }
func (m *Manager) Warning(msg string) Toast { return m.Show(LevelWarning, msg) }
func (m *Manager) Info(msg string) Toast    { return m.Show(LevelInfo, msg) }

// Remove drops the toast with the given id.
func (m *Manager) Remove(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.toasts {
		if t.ID == id {
			m.toasts = append(m.toasts[:i], m.toasts[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every toast.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.toasts = nil
	m.mu.Unlock()
}

// Active returns the toasts that have not expired, oldest first.
func (m *Manager) Active() []Toast {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	out := make([]Toast, len(m.toasts))
	copy(out, m.toasts)
	return out
}

// Render formats the live toasts, one per line, oldest first.
func (m *Manager) Render() string {
	var b strings.Builder
	for _, t := range m.Active() {
		b.WriteString(m.format(t))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *Manager) format(t Toast) string {
	return m.styles[t.Level].Render(t.Level.Icon()) + " " + t.Message
}

func (m *Manager) pruneLocked() {
	now := m.now()
	kept := m.toasts[:0]
	for _, t := range m.toasts {
		if !t.Expired(now) {
			kept = append(kept, t)
		}
	}
	m.toasts = kept
}
