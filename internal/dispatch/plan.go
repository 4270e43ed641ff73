package dispatch

import (
	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/runner"
	"github.com/mattjoyce/cmci/internal/target"
)

// Plan returns the ordered steps for triple. It does not consult the gate.
func Plan(triple target.Triple, tc config.ToolchainConfig) []runner.Step {
	t := triple.String()
	check := func(name string, extra ...string) runner.Step {
		argv := append([]string{tc.Cargo, "check", "--target", t}, extra...)
		return runner.Step{Name: name, Kind: runner.KindCheck, Argv: argv}
	}

	switch target.Classify(triple) {
	case target.ClassCM7R0P1:
		return []runner.Step{
			check("check:"+tc.R0P1Feature, "--features", tc.R0P1Feature),
			check("check"),
		}
	case target.ClassBareMetal:
		return []runner.Step{check("check")}
	default:
		return []runner.Step{{
			Name: "test",
			Kind: runner.KindTest,
			Argv: []string{tc.Cargo, "test", "--target", t},
		}}
	}
}
