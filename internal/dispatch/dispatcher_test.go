package dispatch

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/dispatch/mocks"
	"github.com/mattjoyce/cmci/internal/log"
	"github.com/mattjoyce/cmci/internal/runctx"
	"github.com/mattjoyce/cmci/internal/runner"
	"github.com/mattjoyce/cmci/internal/target"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

var (
	featureBranch = runctx.Context{Branch: "staging", Event: "push"}
	primaryPush   = runctx.Context{Branch: "master", Event: "push"}
	primaryCron   = runctx.Context{Branch: "master", Event: "schedule", Scheduled: true}
	r0p1Triples   = []target.Triple{"thumbv7em-none-eabi", "thumbv7em-none-eabihf"}
	bareTriples   = []target.Triple{"thumbv6m-none-eabi", "thumbv7m-none-eabi", "thumbv8m.base-none-eabi", "thumbv8m.main-none-eabihf"}
	hostedTriples = []target.Triple{"x86_64-unknown-linux-gnu", "aarch64-unknown-linux-gnu"}
)

// stepKinds tallies invocations by kind.
func stepKinds(steps []runner.Step) map[runner.Kind]int {
	counts := map[runner.Kind]int{}
	for _, s := range steps {
		counts[s.Kind]++
	}
	return counts
}

func dryRun(t *testing.T, rc runctx.Context, triple target.Triple) (*Result, []runner.Step) {
	t.Helper()
	rec := runner.NewDryRun(nil)
	res, err := New(rec, config.Defaults()).Run(context.Background(), rc, triple)
	require.NoError(t, err)
	return res, rec.Steps()
}

func TestPlanR0P1(t *testing.T) {
	tc := config.Defaults().Toolchain
	steps := Plan("thumbv7em-none-eabihf", tc)

	require.Len(t, steps, 2)
	assert.Equal(t, []string{"cargo", "check", "--target", "thumbv7em-none-eabihf", "--features", "cm7-r0p1"}, steps[0].Argv)
	assert.Equal(t, []string{"cargo", "check", "--target", "thumbv7em-none-eabihf"}, steps[1].Argv)
}

func TestPlanBareMetal(t *testing.T) {
	steps := Plan("thumbv6m-none-eabi", config.Defaults().Toolchain)

	require.Len(t, steps, 1)
	assert.Equal(t, runner.KindCheck, steps[0].Kind)
	assert.Equal(t, []string{"cargo", "check", "--target", "thumbv6m-none-eabi"}, steps[0].Argv)
}

func TestPlanHosted(t *testing.T) {
	steps := Plan("x86_64-unknown-linux-gnu", config.Defaults().Toolchain)

	require.Len(t, steps, 1)
	assert.Equal(t, runner.KindTest, steps[0].Kind)
	assert.Equal(t, []string{"cargo", "test", "--target", "x86_64-unknown-linux-gnu"}, steps[0].Argv)
}

func TestPlanUsesConfiguredToolchain(t *testing.T) {
	tc := config.Defaults().Toolchain
	tc.Cargo = "/opt/cargo"
	tc.R0P1Feature = "inline-asm"

	steps := Plan("thumbv7em-none-eabi", tc)
	assert.Equal(t, "/opt/cargo", steps[0].Argv[0])
	assert.Contains(t, steps[0].Argv, "inline-asm")
}

func TestRunR0P1IssuesTwoChecksNoTests(t *testing.T) {
	for _, tr := range r0p1Triples {
		t.Run(string(tr), func(t *testing.T) {
			res, steps := dryRun(t, featureBranch, tr)
			kinds := stepKinds(steps)
			assert.Equal(t, 2, kinds[runner.KindCheck])
			assert.Equal(t, 0, kinds[runner.KindTest])
			assert.Equal(t, StatusSucceeded, res.Status)
			assert.Equal(t, target.ClassCM7R0P1, res.Class)
		})
	}
}

func TestRunBareMetalIssuesOneCheckNoTests(t *testing.T) {
	for _, tr := range bareTriples {
		t.Run(string(tr), func(t *testing.T) {
			_, steps := dryRun(t, featureBranch, tr)
			kinds := stepKinds(steps)
			assert.Equal(t, 1, kinds[runner.KindCheck])
			assert.Equal(t, 0, kinds[runner.KindTest])
		})
	}
}

func TestRunHostedIssuesOneTestNoChecks(t *testing.T) {
	for _, tr := range hostedTriples {
		t.Run(string(tr), func(t *testing.T) {
			_, steps := dryRun(t, featureBranch, tr)
			kinds := stepKinds(steps)
			assert.Equal(t, 0, kinds[runner.KindCheck])
			assert.Equal(t, 1, kinds[runner.KindTest])
		})
	}
}

func TestRunSkipsPrimaryBranchUnlessScheduled(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := mocks.NewMockRunner(ctrl)
	mr.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)

	for _, tr := range append(append(r0p1Triples, bareTriples...), hostedTriples...) {
		res, err := New(mr, config.Defaults()).Run(context.Background(), primaryPush, tr)
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Equal(t, 0, res.ExitCode)
		assert.Empty(t, res.Steps)
	}
}

func TestRunPrimaryBranchScheduledExecutes(t *testing.T) {
	res, steps := dryRun(t, primaryCron, "thumbv7em-none-eabi")
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Len(t, steps, 2)

	_, steps = dryRun(t, primaryCron, "x86_64-unknown-linux-gnu")
	assert.Len(t, steps, 1)
}

func TestRunNonPrimaryBranchAnyEventExecutes(t *testing.T) {
	for _, ev := range []string{"push", "pull_request", "schedule", ""} {
		rc := runctx.Context{Branch: "trying", Event: ev, Scheduled: ev == "schedule"}
		_, steps := dryRun(t, rc, "thumbv7m-none-eabi")
		assert.Len(t, steps, 1, "event %q", ev)
	}
}

func TestRunFailFastStopsAfterFirstFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := mocks.NewMockRunner(ctrl)

	first := Plan("thumbv7em-none-eabi", config.Defaults().Toolchain)[0]
	mr.EXPECT().
		Run(gomock.Any(), first).
		Return(&runner.Outcome{Step: first, ExitCode: 101}, &runner.ExitError{Step: first.Name, Code: 101}).
		Times(1)
	// The plain check must never be attempted.

	res, err := New(mr, config.Defaults()).Run(context.Background(), featureBranch, "thumbv7em-none-eabi")
	require.Error(t, err)
	assert.Equal(t, 101, runner.ExitCode(err))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 101, res.ExitCode)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, first.Name, res.Steps[0].Step.Name)
}

func TestRunRunsStepsInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := mocks.NewMockRunner(ctrl)

	steps := Plan("thumbv7em-none-eabihf", config.Defaults().Toolchain)
	gomock.InOrder(
		mr.EXPECT().Run(gomock.Any(), steps[0]).Return(&runner.Outcome{Step: steps[0]}, nil),
		mr.EXPECT().Run(gomock.Any(), steps[1]).Return(&runner.Outcome{Step: steps[1]}, nil),
	)

	res, err := New(mr, config.Defaults()).Run(context.Background(), featureBranch, "thumbv7em-none-eabihf")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Len(t, res.Steps, 2)
}

func TestRunSecondStepFailurePropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := mocks.NewMockRunner(ctrl)

	steps := Plan("thumbv7em-none-eabi", config.Defaults().Toolchain)
	gomock.InOrder(
		mr.EXPECT().Run(gomock.Any(), steps[0]).Return(&runner.Outcome{Step: steps[0]}, nil),
		mr.EXPECT().Run(gomock.Any(), steps[1]).Return(nil, &runner.ExitError{Step: steps[1].Name, Code: 2}),
	)

	res, err := New(mr, config.Defaults()).Run(context.Background(), featureBranch, "thumbv7em-none-eabi")
	require.Error(t, err)
	assert.Equal(t, 2, runner.ExitCode(err))
	require.Len(t, res.Steps, 2)
	assert.Equal(t, 2, res.Steps[1].ExitCode)
}

func TestRunNonExitErrorMapsToOne(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := mocks.NewMockRunner(ctrl)
	mr.EXPECT().Run(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

	res, err := New(mr, config.Defaults()).Run(context.Background(), featureBranch, "x86_64-unknown-linux-gnu")
	require.Error(t, err)
	assert.Equal(t, 1, runner.ExitCode(err))
	assert.Equal(t, 1, res.ExitCode)
}
