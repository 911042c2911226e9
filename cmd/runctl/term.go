package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/chr1sbest/runctl/internal/banner"
	"github.com/chr1sbest/runctl/internal/status"
)

const (
	colorAuto   = "auto"
	colorAlways = "always"
	colorNever  = "never"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// screens picks in-place colored output or plain append-only output for w.
func screens(w io.Writer, mode string) (*status.Writer, *banner.Banner, error) {
	switch mode {
	case colorAlways:
	case colorNever:
		return status.NewPlain(w), banner.NewPlain(w), nil
	case colorAuto, "":
		if !isTerminal(w) {
			return status.NewPlain(w), banner.NewPlain(w), nil
		}
	default:
		return nil, nil, fmt.Errorf("invalid --color %q: want %s, %s or %s", mode, colorAuto, colorAlways, colorNever)
	}
	return status.NewWithWriter(w), banner.NewWithWriter(w), nil
}
