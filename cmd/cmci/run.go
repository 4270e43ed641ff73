package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/cmci/internal/dispatch"
	"github.com/mattjoyce/cmci/internal/history"
	"github.com/mattjoyce/cmci/internal/runctx"
	"github.com/mattjoyce/cmci/internal/runner"
	"github.com/mattjoyce/cmci/internal/target"
)

// envTarget is the variable CI matrices conventionally set per job.
const envTarget = "TARGET"

func targetFromFlag(flagValue string) (target.Triple, bool) {
	t := strings.TrimSpace(flagValue)
	if t == "" {
		t = strings.TrimSpace(os.Getenv(envTarget))
	}
	return target.Triple(t), t != ""
}

func runDispatch(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	targetFlag := fs.String("target", "", "Target triple (default $TARGET)")
	dryRun := fs.Bool("dry-run", false, "Print steps instead of executing them")
	noHistory := fs.Bool("no-history", false, "Do not record the run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	triple, ok := targetFromFlag(*targetFlag)
	if !ok {
		fmt.Fprintln(os.Stderr, "Usage: cmci run --target TRIPLE [--dry-run] [--no-history]")
		return 1
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}

	var r dispatch.Runner = runner.NewExec()
	if *dryRun {
		r = runner.NewDryRun(os.Stdout)
	}

	ctx, stop := signalContext()
	defer stop()

	rc := runctx.FromEnv(cfg.Gate)
	res, err := dispatch.New(r, cfg).Run(ctx, rc, triple)

	if res != nil && !*dryRun && !*noHistory {
		recordRun(ctx, cfg, history.FromDispatch(res))
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return runner.ExitCode(err)
	}
	if res.Status == dispatch.StatusSkipped {
		fmt.Printf("Skipped %s: branch %q is %s and event %q is not scheduled\n",
			triple, rc.Branch, cfg.Gate.PrimaryBranch, rc.Event)
	}
	return 0
}

type planOutput struct {
	Target target.Triple `json:"target"`
	Class  target.Class  `json:"class"`
	Cfgs   []string      `json:"cfgs,omitempty"`
	Steps  []runner.Step `json:"steps"`
}

func runPlan(args []string) int {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	targetFlag := fs.String("target", "", "Target triple (default $TARGET)")
	jsonOut := fs.Bool("json", false, "Output the plan as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	triple, ok := targetFromFlag(*targetFlag)
	if !ok {
		fmt.Fprintln(os.Stderr, "Usage: cmci plan --target TRIPLE [--json]")
		return 1
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}

	out := planOutput{
		Target: triple,
		Class:  target.Classify(triple),
		Cfgs:   target.Cfgs(triple),
		Steps:  dispatch.Plan(triple, cfg.Toolchain),
	}

	if *jsonOut {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render plan JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("Target: %s (%s)\n", out.Target, out.Class)
	if len(out.Cfgs) > 0 {
		fmt.Printf("Cfgs:   %s\n", strings.Join(out.Cfgs, ", "))
	}
	for i, s := range out.Steps {
		fmt.Printf("  %d. [%s] %s\n", i+1, s.Kind, s.CommandLine())
	}
	return 0
}

func printRunHelp() {
	fmt.Println("Usage: cmci run --target TRIPLE [--config PATH] [--dry-run] [--no-history]")
	fmt.Println("Check or test the crate for TRIPLE. Runs only off the primary branch or on scheduled events.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0    All steps passed, or the run was skipped by the gate")
	fmt.Println("  N    Exit status of the first failing step")
	fmt.Println("  124  A step timed out")
	fmt.Println("  127  cargo was not found")
	fmt.Println("  2    Configuration error")
}

func printPlanHelp() {
	fmt.Println("Usage: cmci plan --target TRIPLE [--config PATH] [--json]")
	fmt.Println("Print the steps run would execute for TRIPLE, ignoring the branch gate.")
}
