package history

import (
	"errors"
	"time"
)

// Kind identifies which cmci command produced a run.
type Kind string

const (
	KindDispatch    Kind = "dispatch"
	KindAssemble    Kind = "assemble"
	KindCheckBlobs  Kind = "check-blobs"
	KindLockBlobs   Kind = "lock-blobs"
	KindVerifyBlobs Kind = "verify-blobs"
	KindHILBuild    Kind = "hil-build"
	KindHILQEMU     Kind = "hil-qemu"
	KindHILProbe    Kind = "hil-probe"
)

// Status is the recorded outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one recorded cmci invocation.
type Run struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Target      string    `json:"target,omitempty"`
	Class       string    `json:"class,omitempty"`
	Branch      string    `json:"branch,omitempty"`
	Event       string    `json:"event,omitempty"`
	Status      Status    `json:"status"`
	ExitCode    int       `json:"exit_code"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Steps       []Step    `json:"steps,omitempty"`
}

// Duration is the wall-clock time of the run.
func (r *Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Step is one subprocess invocation within a run.
type Step struct {
	Seq      int           `json:"seq"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Argv     []string      `json:"argv"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration"`
	Stderr   string        `json:"stderr,omitempty"`
}
