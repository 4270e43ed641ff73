package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/cmci/internal/history"
	"github.com/mattjoyce/cmci/internal/hil"
	"github.com/mattjoyce/cmci/internal/runner"
)

func runHILNoun(args []string) int {
	if len(args) < 1 {
		printHILNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printHILNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "build", "qemu", "probe":
		if hasHelpFlag(actionArgs) {
			printHILActionHelp(action)
			return 0
		}
		return runHIL(action, actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown hil action: %s\n", action)
		return 1
	}
}

func runHIL(action string, args []string) int {
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dir := fs.String("dir", ".", "Crate root")
	targetFlag := fs.String("target", "", "Target triple (default $TARGET)")
	example := fs.String("example", "", "Example to build")
	test := fs.String("test", "", "Integration test to build")
	release := fs.Bool("release", false, "Build with the release profile")
	elf := fs.String("elf", "", "Prebuilt image to run (skips the build)")
	chip := fs.String("chip", "", "Override hil.chip for probe runs")
	timeout := fs.Duration("timeout", 0, "Override hil.timeout for probe runs")
	noHistory := fs.Bool("no-history", false, "Do not record the run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}
	if *chip != "" {
		cfg.HIL.Chip = *chip
	}
	if *timeout > 0 {
		cfg.HIL.Timeout = *timeout
	}

	crate, err := filepath.Abs(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --dir: %v\n", err)
		return 1
	}

	image := *elf
	var art hil.Artifact
	if image == "" || action == "build" {
		triple, ok := targetFromFlag(*targetFlag)
		art = hil.Artifact{Target: triple, Name: *example, Kind: hil.KindExample, Release: *release}
		if *test != "" {
			art.Name, art.Kind = *test, hil.KindTest
		}
		if !ok || art.Name == "" || (*example != "" && *test != "") {
			fmt.Fprintf(os.Stderr, "Usage: cmci hil %s --target TRIPLE (--example NAME | --test NAME) [--release]\n", action)
			return 1
		}
	}

	ctx, stop := signalContext()
	defer stop()

	wf := hil.New(runner.NewExec(), cfg, crate)
	started := time.Now()
	kind := history.KindHILBuild

	if image == "" || action == "build" {
		image, err = wf.Build(ctx, art)
	}
	if err == nil {
		switch action {
		case "qemu":
			kind = history.KindHILQEMU
			err = wf.Emulate(ctx, image)
		case "probe":
			kind = history.KindHILProbe
			err = wf.Flash(ctx, image)
		}
	}

	if !*noHistory {
		recordRun(ctx, cfg, history.FromOutcomes(kind, art.Target.String(), started, wf.Outcomes(), err))
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return runner.ExitCode(err)
	}
	if action == "build" {
		fmt.Println(image)
	}
	return 0
}

func printHILNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: cmci hil <action> [flags]")
	fmt.Fprintln(w, "Actions: build, qemu, probe")
}

func printHILActionHelp(action string) {
	switch action {
	case "build":
		fmt.Println("Usage: cmci hil build --target TRIPLE (--example NAME | --test NAME) [--release] [--dir CRATE]")
		fmt.Println("Build a firmware image and print its path.")
	case "qemu":
		fmt.Println("Usage: cmci hil qemu (--elf PATH | --target TRIPLE --example NAME) [--dir CRATE]")
		fmt.Println("Run an image under QEMU with semihosting; the QEMU exit status is the result.")
	case "probe":
		fmt.Println("Usage: cmci hil probe (--elf PATH | --target TRIPLE --example NAME) [--chip CHIP] [--timeout DURATION]")
		fmt.Println("Flash and run an image on an attached board. A timeout fails with exit code 124.")
	}
}
