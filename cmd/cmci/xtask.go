package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/cmci/internal/blobs"
	"github.com/mattjoyce/cmci/internal/history"
	"github.com/mattjoyce/cmci/internal/runner"
)

func runXtaskNoun(args []string) int {
	if len(args) < 1 {
		printXtaskNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printXtaskNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	if hasHelpFlag(actionArgs) {
		fmt.Printf("Usage: cmci xtask %s [--config PATH] [--dir CRATE] [--no-history]\n", action)
		return 0
	}

	switch action {
	case "assemble", "check-blobs", "lock-blobs", "verify-blobs":
		return runXtask(action, actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown xtask action: %s\n", action)
		return 1
	}
}

func runXtask(action string, args []string) int {
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dir := fs.String("dir", ".", "Crate root")
	noHistory := fs.Bool("no-history", false, "Do not record the run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}
	crate, err := filepath.Abs(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --dir: %v\n", err)
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	asm := blobs.NewAssembler(runner.NewExec(), cfg.Toolchain, crate)
	started := time.Now()

	var kind history.Kind
	switch action {
	case "assemble":
		kind = history.KindAssemble
		err = asm.Assemble(ctx)
	case "check-blobs":
		kind = history.KindCheckBlobs
		err = asm.CheckBlobs(ctx)
	case "lock-blobs":
		kind = history.KindLockBlobs
		var m *blobs.Manifest
		if m, err = blobs.WriteManifest(asm.BinDir()); err == nil {
			fmt.Printf("Locked %d archive(s) in %s\n", len(m.Hashes), filepath.Join(asm.BinDir(), blobs.ManifestFile))
		}
	case "verify-blobs":
		kind = history.KindVerifyBlobs
		err = blobs.VerifyManifest(asm.BinDir())
	}

	if !*noHistory {
		recordRun(ctx, cfg, history.FromOutcomes(kind, "", started, asm.Outcomes(), err))
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return runner.ExitCode(err)
	}
	switch action {
	case "check-blobs":
		fmt.Println("Blobs are reproducible.")
	case "verify-blobs":
		fmt.Println("Blobs match the recorded checksums.")
	}
	return 0
}

func printXtaskNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: cmci xtask <action> [--config PATH] [--dir CRATE]")
	fmt.Fprintln(w, "Actions: assemble, check-blobs, lock-blobs, verify-blobs")
}
