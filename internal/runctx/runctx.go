// Package runctx reads the CI run context (branch and triggering event) from
// the environment.
package runctx

import (
	"os"
	"slices"
	"strings"

	"github.com/mattjoyce/cmci/internal/config"
)

// Context is the environment-derived input to the dispatch gate.
type Context struct {
	Branch    string `json:"branch"`
	Event     string `json:"event"`
	Scheduled bool   `json:"scheduled"`
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

// FromEnv reads the run context from the process environment.
func FromEnv(gate config.GateConfig) Context {
	return From(gate, os.LookupEnv)
}

// From reads the run context using lookup. Variables are tried in the
// configured order and the first non-empty value wins; unset variables
// resolve to "".
func From(gate config.GateConfig, lookup LookupFunc) Context {
	c := Context{
		Branch: first(gate.BranchVars, lookup),
		Event:  first(gate.EventVars, lookup),
	}
	c.Scheduled = c.Event != "" && slices.Contains(gate.ScheduledEvents, c.Event)
	return c
}

// ShouldRun reports whether the dispatcher executes for c. Runs on the
// primary branch are skipped because the merge queue already validated
// them, except for scheduled audits.
func ShouldRun(c Context, primaryBranch string) bool {
	return c.Branch != primaryBranch || c.Scheduled
}

func first(names []string, lookup LookupFunc) string {
	for _, name := range names {
		if v, ok := lookup(name); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
