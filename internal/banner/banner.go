package banner

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/chr1sbest/runctl/internal/config"
)

// ANSI color codes
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	dim   = "\033[2m"
	blue  = "\033[34m"
)

// Box drawing characters
const (
	topLeft     = "╭"
	topRight    = "╮"
	bottomLeft  = "╰"
	bottomRight = "╯"
	horizontal  = "─"
	vertical    = "│"
	bullet      = "●"
)

// Banner prints the header shown when a run begins
type Banner struct {
	writer io.Writer
	width  int
	plain  bool
}

// NewWithWriter creates a Banner with a custom writer
func NewWithWriter(w io.Writer) *Banner {
	return &Banner{
		writer: w,
		width:  60,
	}
}

// NewPlain creates a Banner that emits no color codes.
func NewPlain(w io.Writer) *Banner {
	b := NewWithWriter(w)
	b.plain = true
	return b
}

// c returns code unless the banner is plain.
func (b *Banner) c(code string) string {
	if b.plain {
		return ""
	}
	return code
}

// Print displays the run header for a batch of executions
func (b *Banner) Print(cfg *config.Config, executions int) {
	b.printBorder(topLeft, topRight)
	b.printRow(b.c(bold)+b.c(blue)+cfg.Name+b.c(reset), visualLen(cfg.Name))
	b.printBorder(vertical, vertical)

	rows := [][2]string{
		{"runner", cfg.JobRunner.BaseURL},
		{"executions", fmt.Sprintf("%d execution%s", executions, pluralize(executions))},
		{"mode", cfg.Execution.StartMode},
		{"poll", cfg.Execution.GetPollInterval().String()},
	}
	for _, r := range rows {
		text := fmt.Sprintf("%s %-11s %s", bullet, r[0], r[1])
		text = truncate(text, b.width-4)
		b.printRow(b.c(dim)+text+b.c(reset), visualLen(text))
	}
	b.printBorder(bottomLeft, bottomRight)
	fmt.Fprintln(b.writer)
}

func (b *Banner) printBorder(left, right string) {
	fmt.Fprintf(b.writer, "%s%s%s%s%s\n", b.c(dim), left, strings.Repeat(horizontal, b.width-2), right, b.c(reset))
}

func (b *Banner) printRow(content string, contentLen int) {
	padding := b.width - contentLen - 4
	if padding < 0 {
		padding = 0
	}
	fmt.Fprintf(b.writer, "%s%s%s  %s%s%s\n", b.c(dim), vertical, b.c(reset), content, strings.Repeat(" ", padding), b.c(dim)+vertical+b.c(reset))
}

func truncate(s string, max int) string {
	if max <= 3 || visualLen(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}

// visualLen returns the visual length of a string (excluding ANSI codes)
func visualLen(s string) int {
	return utf8.RuneCountInString(s)
}

func pluralize(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
