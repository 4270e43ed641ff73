package history

import (
	"time"

	"github.com/mattjoyce/cmci/internal/dispatch"
	"github.com/mattjoyce/cmci/internal/runner"
)

// FromDispatch converts a dispatcher result into a Run.
func FromDispatch(res *dispatch.Result) *Run {
	run := &Run{
		Kind:        KindDispatch,
		Target:      res.Target.String(),
		Class:       string(res.Class),
		Branch:      res.Context.Branch,
		Event:       res.Context.Event,
		Status:      Status(res.Status),
		ExitCode:    res.ExitCode,
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
	}
	run.Steps = stepsFrom(res.Steps)
	return run
}

// FromOutcomes builds a Run from raw step outcomes and the command's error.
func FromOutcomes(kind Kind, target string, started time.Time, outcomes []*runner.Outcome, err error) *Run {
	run := &Run{
		Kind:        kind,
		Target:      target,
		Status:      StatusSucceeded,
		StartedAt:   started.UTC(),
		CompletedAt: time.Now().UTC(),
		Steps:       stepsFrom(outcomes),
	}
	if err != nil {
		run.Status = StatusFailed
		run.ExitCode = runner.ExitCode(err)
	}
	return run
}

func stepsFrom(outcomes []*runner.Outcome) []Step {
	steps := make([]Step, 0, len(outcomes))
	for i, o := range outcomes {
		if o == nil {
			continue
		}
		steps = append(steps, Step{
			Seq:      i + 1,
			Name:     o.Step.Name,
			Kind:     string(o.Step.Kind),
			Argv:     o.Step.Argv,
			ExitCode: o.ExitCode,
			TimedOut: o.TimedOut,
			Duration: o.Duration,
			Stderr:   o.Stderr,
		})
	}
	return steps
}
