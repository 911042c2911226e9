package main

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

var commit = "none"

var date = "unknown"

func unset(s string, placeholder string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == placeholder
}

func versionLine() string {
	if version != "dev" {
		return fmt.Sprintf("runctl version %s", version)
	}

	c := strings.TrimSpace(commit)
	d := strings.TrimSpace(date)

	if unset(c, "none") || unset(d, "unknown") {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					if unset(c, "none") && strings.TrimSpace(s.Value) != "" {
						c = strings.TrimSpace(s.Value)
					}
				case "vcs.time":
					if unset(d, "unknown") && strings.TrimSpace(s.Value) != "" {
						d = strings.TrimSpace(s.Value)
					}
				}
			}
		}
	}

	if !unset(c, "none") && len(c) > 7 {
		c = c[:7]
	}

	switch {
	case unset(c, "none") && unset(d, "unknown"):
		return "runctl version dev"
	case unset(c, "none"):
		return fmt.Sprintf("runctl version dev (built %s)", d)
	case unset(d, "unknown"):
		return fmt.Sprintf("runctl version dev (commit %s)", c)
	}
	return fmt.Sprintf("runctl version dev (commit %s, built %s)", c, d)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the runctl version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.out, versionLine())
		},
	}
}
