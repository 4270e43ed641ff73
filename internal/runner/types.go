package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies what a step does.
type Kind string

const (
	KindCheck    Kind = "check"
	KindTest     Kind = "test"
	KindBuild    Kind = "build"
	KindAssemble Kind = "assemble"
	KindEmulate  Kind = "emulate"
	KindFlash    Kind = "flash"
	KindTool     Kind = "tool"
)

const (
	// ExitCodeNotFound mirrors the shell's status for a missing command.
	ExitCodeNotFound = 127
	// ExitCodeTimeout mirrors timeout(1).
	ExitCodeTimeout = 124
	// ExitCodeInterrupted is used when the run is cancelled (SIGINT convention).
	ExitCodeInterrupted = 130
)

// ErrToolNotFound is wrapped by the ExitError returned for a missing executable.
var ErrToolNotFound = errors.New("tool not found")

// Step is a single subprocess invocation.
type Step struct {
	Name    string        `json:"name"`
	Kind    Kind          `json:"kind"`
	Argv    []string      `json:"argv"`
	Dir     string        `json:"dir,omitempty"`
	Env     []string      `json:"env,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// CommandLine renders the argv for display.
func (s Step) CommandLine() string {
	return strings.Join(s.Argv, " ")
}

// Outcome is the observed result of running a Step.
type Outcome struct {
	Step     Step          `json:"step"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Stderr   string        `json:"stderr,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Succeeded reports whether the step exited zero.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.ExitCode == 0 && !o.TimedOut
}

// ExitError reports a step that did not exit zero. Code is the status the
// caller should propagate.
type ExitError struct {
	Step     string
	Code     int
	TimedOut bool
	Err      error
}

func (e *ExitError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("step %q timed out", e.Step)
	case e.Err != nil:
		return fmt.Sprintf("step %q failed (exit %d): %v", e.Step, e.Code, e.Err)
	default:
		return fmt.Sprintf("step %q failed (exit %d)", e.Step, e.Code)
	}
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit status: 0 for nil, the propagated
// code for an *ExitError, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	return 1
}
