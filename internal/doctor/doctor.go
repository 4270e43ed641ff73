// Package doctor runs preflight checks on the cmci configuration and the
// external tools each workflow needs.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/log"
	"github.com/mattjoyce/cmci/internal/storage"
)

// Mode names a workflow whose tools should be present.
type Mode string

const (
	ModeDispatch Mode = "dispatch"
	ModeXtask    Mode = "xtask"
	ModeHIL      Mode = "hil"
)

// AllModes lists every workflow in check order.
func AllModes() []Mode {
	return []Mode{ModeDispatch, ModeXtask, ModeHIL}
}

// ParseMode accepts a mode name or "all".
func ParseMode(s string) ([]Mode, error) {
	switch Mode(s) {
	case "", "all":
		return AllModes(), nil
	case ModeDispatch, ModeXtask, ModeHIL:
		return []Mode{Mode(s)}, nil
	}
	return nil, fmt.Errorf("unknown mode %q (want dispatch, xtask, hil or all)", s)
}

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration and tool availability.
type Doctor struct {
	cfg      *config.Config
	modes    []Mode
	dir      string
	lookPath func(string) (string, error)
	getenv   func(string) string
	histPath func(string) error
}

// New creates a Doctor checking the given modes (all when none are given)
// for the crate rooted at dir.
func New(cfg *config.Config, dir string, modes ...Mode) *Doctor {
	if len(modes) == 0 {
		modes = AllModes()
	}
	return &Doctor{
		cfg:      cfg,
		modes:    modes,
		dir:      dir,
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
		histPath: storage.CheckHistoryPath,
	}
}

// WithLookPath replaces the PATH lookup.
func (d *Doctor) WithLookPath(fn func(string) (string, error)) *Doctor {
	d.lookPath = fn
	return d
}

// WithGetenv replaces the environment lookup.
func (d *Doctor) WithGetenv(fn func(string) string) *Doctor {
	d.getenv = fn
	return d
}

// WithHistoryPathCheck replaces the history database location check.
func (d *Doctor) WithHistoryPathCheck(fn func(string) error) *Doctor {
	d.histPath = fn
	return d
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateService(r)
	d.validateGate(r)
	for _, m := range d.modes {
		switch m {
		case ModeDispatch:
			d.validateDispatch(r)
		case ModeXtask:
			d.validateXtask(r)
		case ModeHIL:
			d.validateHIL(r)
		}
	}
	d.warnUnresolvedEnvVars(r)
	d.warnNoCIEnvironment(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateService(r *Result) {
	if !log.ValidLevel(d.cfg.LogLevel) {
		d.addError(r, "service", "log_level",
			fmt.Sprintf("log_level %q is not one of debug, info, warn, error", d.cfg.LogLevel))
	}
	switch path := d.cfg.State.Path; {
	case path == "":
		d.addWarning(r, "service", "state.path", "state.path is empty; run history will not be recorded")
	case !strings.Contains(path, "${"):
		if err := d.histPath(path); err != nil {
			d.addWarning(r, "service", "state.path", fmt.Sprintf("run history will not be recorded: %v", err))
		}
	}
}

func (d *Doctor) validateGate(r *Result) {
	g := d.cfg.Gate
	if strings.TrimSpace(g.PrimaryBranch) == "" {
		d.addError(r, "gate", "gate.primary_branch", "primary_branch is required")
	}
	if len(g.BranchVars) == 0 {
		d.addError(r, "gate", "gate.branch_vars", "at least one branch variable is required")
	}
	if len(g.EventVars) == 0 {
		d.addError(r, "gate", "gate.event_vars", "at least one event variable is required")
	}
	if len(g.ScheduledEvents) == 0 {
		d.addWarning(r, "gate", "gate.scheduled_events",
			fmt.Sprintf("no scheduled events configured; %s will never be checked", g.PrimaryBranch))
	}
}

func (d *Doctor) validateDispatch(r *Result) {
	tc := d.cfg.Toolchain
	if tc.R0P1Feature == "" {
		d.addError(r, "dispatch", "toolchain.r0p1_feature", "r0p1_feature is required")
	}
	d.requireTool(r, "dispatch", "toolchain.cargo", tc.Cargo)
}

func (d *Doctor) validateXtask(r *Result) {
	tc := d.cfg.Toolchain
	d.requireTool(r, "xtask", "toolchain.rustc", tc.Rustc)
	d.requireTool(r, "xtask", "toolchain.rustup", tc.Rustup)

	for field, rel := range map[string]string{
		"toolchain.toolchain_file": tc.ToolchainFile,
		"toolchain.asm_source":     tc.AsmSource,
	} {
		if rel == "" {
			d.addError(r, "xtask", field, "path is required")
			continue
		}
		if _, err := os.Stat(filepath.Join(d.dir, rel)); err != nil {
			d.addWarning(r, "xtask", field, fmt.Sprintf("%s not found in %s", rel, d.dir))
		}
	}
}

func (d *Doctor) validateHIL(r *Result) {
	h := d.cfg.HIL
	d.requireTool(r, "hil", "hil.qemu", h.QEMU)
	d.requireTool(r, "hil", "hil.probe", h.Probe)
	if h.Chip == "" {
		d.addError(r, "hil", "hil.chip", "chip is required for probe runs")
	}
	switch {
	case h.Timeout < 0:
		d.addError(r, "hil", "hil.timeout", "timeout must not be negative")
	case h.Timeout == 0:
		d.addWarning(r, "hil", "hil.timeout", "no timeout set; a hung board will block the job")
	}
}

func (d *Doctor) requireTool(r *Result, category, field, name string) {
	if name == "" {
		d.addError(r, category, field, "command is required")
		return
	}
	if _, err := d.lookPath(name); err != nil {
		d.addError(r, category, field, fmt.Sprintf("%q not found in PATH", name))
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnUnresolvedEnvVars flags ${VAR} references the loader left in place.
func (d *Doctor) warnUnresolvedEnvVars(r *Result) {
	fields := map[string]string{
		"state.path":          d.cfg.State.Path,
		"gate.primary_branch": d.cfg.Gate.PrimaryBranch,
		"toolchain.cargo":     d.cfg.Toolchain.Cargo,
		"toolchain.rustc":     d.cfg.Toolchain.Rustc,
		"toolchain.rustup":    d.cfg.Toolchain.Rustup,
		"hil.qemu":            d.cfg.HIL.QEMU,
		"hil.probe":           d.cfg.HIL.Probe,
		"hil.chip":            d.cfg.HIL.Chip,
	}
	for field, v := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(v, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// warnNoCIEnvironment notes when no branch variable is set: the branch then
// resolves to empty and the dispatcher always runs.
func (d *Doctor) warnNoCIEnvironment(r *Result) {
	for _, name := range d.cfg.Gate.BranchVars {
		if d.getenv(name) != "" {
			return
		}
	}
	if len(d.cfg.Gate.BranchVars) == 0 {
		return
	}
	d.addWarning(r, "env_vars", "gate.branch_vars",
		fmt.Sprintf("none of %s is set; the gate will treat this as a non-primary branch",
			strings.Join(d.cfg.Gate.BranchVars, ", ")))
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("All checks passed.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "All checks passed (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Checks failed (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
