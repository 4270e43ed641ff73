package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/log"
	"github.com/mattjoyce/cmci/internal/runctx"
	"github.com/mattjoyce/cmci/internal/runner"
	"github.com/mattjoyce/cmci/internal/target"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/cmci/internal/dispatch Runner

// Runner executes a single step.
type Runner interface {
	Run(ctx context.Context, step runner.Step) (*runner.Outcome, error)
}

// Status is the overall result of a dispatch.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result describes one dispatch. It is returned even when a step fails.
type Result struct {
	Target      target.Triple     `json:"target"`
	Class       target.Class      `json:"class"`
	Context     runctx.Context    `json:"context"`
	Status      Status            `json:"status"`
	ExitCode    int               `json:"exit_code"`
	Steps       []*runner.Outcome `json:"steps"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Dispatcher runs the plan for a target through a Runner.
type Dispatcher struct {
	runner        Runner
	toolchain     config.ToolchainConfig
	primaryBranch string
	logger        *slog.Logger
}

// New creates a new Dispatcher.
func New(r Runner, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		runner:        r,
		toolchain:     cfg.Toolchain,
		primaryBranch: cfg.Gate.PrimaryBranch,
		logger:        log.WithComponent("dispatch"),
	}
}

// Run gates on rc, then executes the plan for triple step by step, stopping
// at the first failure. The returned error is a *runner.ExitError (possibly
// wrapped) when a step failed.
func (d *Dispatcher) Run(ctx context.Context, rc runctx.Context, triple target.Triple) (*Result, error) {
	res := &Result{
		Target:    triple,
		Class:     target.Classify(triple),
		Context:   rc,
		StartedAt: time.Now().UTC(),
	}
	logger := d.logger.With("target", triple.String(), "class", string(res.Class))

	if !runctx.ShouldRun(rc, d.primaryBranch) {
		logger.Info("skipping: primary branch already validated by merge queue",
			"branch", rc.Branch, "event", rc.Event)
		res.Status = StatusSkipped
		res.CompletedAt = time.Now().UTC()
		return res, nil
	}

	steps := Plan(triple, d.toolchain)
	logger.Info("dispatching", "branch", rc.Branch, "event", rc.Event, "steps", len(steps))

	for _, step := range steps {
		out, err := d.runner.Run(ctx, step)
		if out == nil {
			out = &runner.Outcome{Step: step}
		}
		if err != nil && out.ExitCode == 0 {
			out.ExitCode = runner.ExitCode(err)
		}
		res.Steps = append(res.Steps, out)

		if err != nil {
			res.Status = StatusFailed
			res.ExitCode = runner.ExitCode(err)
			res.CompletedAt = time.Now().UTC()
			logger.Error("step failed, aborting", "step", step.Name, "exit_code", res.ExitCode, "error", err)
			return res, fmt.Errorf("dispatch %s: %w", triple, err)
		}
	}

	res.Status = StatusSucceeded
	res.CompletedAt = time.Now().UTC()
	logger.Info("all steps succeeded", "duration", res.CompletedAt.Sub(res.StartedAt))
	return res, nil
}
