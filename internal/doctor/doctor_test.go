package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/storage"
)

// pathWith simulates a PATH containing only the named tools.
func pathWith(tools ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, t := range tools {
			if t == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("executable file not found in $PATH")
	}
}

func ciEnv(name string) string {
	if name == "GITHUB_REF_NAME" {
		return "feature"
	}
	return ""
}

func crateDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range []string{"asm-toolchain", "asm.rs"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func allTools() func(string) (string, error) {
	return pathWith("cargo", "rustc", "rustup", "qemu-system-arm", "probe-run")
}

func TestValidate_AllPresent(t *testing.T) {
	t.Parallel()
	d := New(config.Defaults(), crateDir(t)).WithLookPath(allTools()).WithGetenv(ciEnv).
		WithHistoryPathCheck(func(string) error { return nil })
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_MissingCargo(t *testing.T) {
	t.Parallel()
	d := New(config.Defaults(), t.TempDir(), ModeDispatch).WithLookPath(pathWith()).WithGetenv(ciEnv)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "dispatch", `"cargo" not found`)
}

func TestValidate_ModeScopesToolChecks(t *testing.T) {
	t.Parallel()
	// Only cargo present: dispatch passes, hil does not.
	d := New(config.Defaults(), t.TempDir(), ModeDispatch).WithLookPath(pathWith("cargo")).WithGetenv(ciEnv)
	if r := d.Validate(); !r.Valid {
		t.Fatalf("dispatch mode should pass, got: %v", r.Errors)
	}

	d = New(config.Defaults(), t.TempDir(), ModeHIL).WithLookPath(pathWith("cargo")).WithGetenv(ciEnv)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected hil mode to fail")
	}
	assertHasError(t, r, "hil", "qemu-system-arm")
	assertHasError(t, r, "hil", "probe-run")
}

func TestValidate_XtaskMissingFiles(t *testing.T) {
	t.Parallel()
	d := New(config.Defaults(), t.TempDir(), ModeXtask).WithLookPath(allTools()).WithGetenv(ciEnv)
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("missing crate files are warnings, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "xtask", "asm-toolchain not found")
	assertHasWarning(t, r, "xtask", "asm.rs not found")
}

func TestValidate_GateErrors(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Gate.PrimaryBranch = " "
	cfg.Gate.EventVars = nil
	cfg.Gate.ScheduledEvents = nil

	r := New(cfg, t.TempDir(), ModeDispatch).WithLookPath(allTools()).WithGetenv(ciEnv).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "gate", "primary_branch is required")
	assertHasError(t, r, "gate", "event variable")
	assertHasWarning(t, r, "gate", "never be checked")
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.LogLevel = "chatty"
	r := New(cfg, t.TempDir(), ModeDispatch).WithLookPath(allTools()).WithGetenv(ciEnv).Validate()
	assertHasError(t, r, "service", "chatty")
}

func TestValidate_HILTimeout(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.HIL.Timeout = 0
	r := New(cfg, t.TempDir(), ModeHIL).WithLookPath(allTools()).WithGetenv(ciEnv).Validate()
	if !r.Valid {
		t.Fatalf("zero timeout is a warning, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "hil", "no timeout")

	cfg.HIL.Timeout = -1
	r = New(cfg, t.TempDir(), ModeHIL).WithLookPath(allTools()).WithGetenv(ciEnv).Validate()
	assertHasError(t, r, "hil", "negative")
}

func TestValidate_UnresolvedEnvVar(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.HIL.Chip = "${CMCI_TEST_CHIP_UNSET}"
	r := New(cfg, t.TempDir(), ModeDispatch).WithLookPath(allTools()).WithGetenv(ciEnv).Validate()
	assertHasWarning(t, r, "env_vars", "${CMCI_TEST_CHIP_UNSET}")
}

func TestValidate_HistoryOnSharedMount(t *testing.T) {
	t.Parallel()
	var checked string
	r := New(config.Defaults(), t.TempDir(), ModeDispatch).WithLookPath(allTools()).WithGetenv(ciEnv).
		WithHistoryPathCheck(func(path string) error {
			checked = path
			return &storage.SharedMountError{Path: path, FSType: "nfs"}
		}).Validate()
	if !r.Valid {
		t.Fatalf("history location is a warning, got errors: %v", r.Errors)
	}
	if checked != "./.cmci/history.db" {
		t.Fatalf("expected default state.path to be checked, got %q", checked)
	}
	assertHasWarning(t, r, "service", "run history will not be recorded")
}

func TestValidate_NoCIEnvironment(t *testing.T) {
	t.Parallel()
	noEnv := func(string) string { return "" }
	r := New(config.Defaults(), t.TempDir(), ModeDispatch).WithLookPath(allTools()).WithGetenv(noEnv).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "env_vars", "GITHUB_REF_NAME, TRAVIS_BRANCH")
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	modes, err := ParseMode("all")
	if err != nil || len(modes) != 3 {
		t.Fatalf("all: got %v, %v", modes, err)
	}
	modes, err = ParseMode("hil")
	if err != nil || len(modes) != 1 || modes[0] != ModeHIL {
		t.Fatalf("hil: got %v, %v", modes, err)
	}
	if _, err := ParseMode("deploy"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if !strings.Contains(out, "All checks passed") {
		t.Fatalf("expected pass line in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "iffy"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] iffy") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Field+" "+e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Field+" "+w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
