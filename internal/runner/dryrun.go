package runner

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// DryRun prints each step instead of executing it and always succeeds.
type DryRun struct {
	w io.Writer

	mu    sync.Mutex
	steps []Step
}

// NewDryRun creates a DryRun writing "+ argv" lines to w.
func NewDryRun(w io.Writer) *DryRun {
	return &DryRun{w: w}
}

// Run records step and prints it like `set -x` would.
func (d *DryRun) Run(_ context.Context, step Step) (*Outcome, error) {
	d.mu.Lock()
	d.steps = append(d.steps, step)
	d.mu.Unlock()

	if d.w != nil {
		fmt.Fprintf(d.w, "+ %s\n", step.CommandLine())
	}
	return &Outcome{Step: step}, nil
}

// Steps returns the steps seen so far.
func (d *DryRun) Steps() []Step {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Step(nil), d.steps...)
}
