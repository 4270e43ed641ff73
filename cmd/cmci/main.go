package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const (
	// exitConfigError is returned when configuration cannot be loaded or is invalid.
	exitConfigError = 2

	envLogLevel = "CMCI_LOG_LEVEL"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runDispatch(args)
	case "plan":
		if hasHelpFlag(args) {
			printPlanHelp()
			return 0
		}
		return runPlan(args)
	case "xtask":
		return runXtaskNoun(args)
	case "hil":
		return runHILNoun(args)
	case "config":
		return runConfigNoun(args)
	case "doctor":
		if hasHelpFlag(args) {
			printDoctorHelp()
			return 0
		}
		return runDoctor(args)
	case "history":
		return runHistoryNoun(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: cmci version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("cmci %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = t
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// loadConfig resolves the config (explicit path, $CMCI_CONFIG, ./cmci.yaml,
// or defaults) and initialises logging from it. $CMCI_LOG_LEVEL wins over
// the file's log_level.
func loadConfig(configPath string) (*config.Config, int) {
	cfg, source, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return nil, exitConfigError
	}

	level := cfg.LogLevel
	if env := strings.TrimSpace(os.Getenv(envLogLevel)); env != "" {
		level = env
	}
	log.Setup(level)
	if source != "" {
		log.Debug("configuration loaded", "path", source)
	}
	return cfg, 0
}

// signalContext is cancelled on SIGINT or SIGTERM so running steps are
// terminated instead of orphaned.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`cmci - CI target dispatcher for the Cortex-M support crate

Usage:
  cmci <command> [flags]
  cmci <noun> <action> [flags]

Dispatch:
  run --target T         Check or test the crate for a target triple
  plan --target T        Show the steps run would execute

Artifacts:
  xtask assemble         Rebuild the pre-built assembly archives in bin/
  xtask check-blobs      Rebuild and fail if the archives changed
  xtask lock-blobs       Record BLAKE3 hashes of bin/*.a
  xtask verify-blobs     Check bin/*.a against the recorded hashes

On-target:
  hil build              Build an example or test image
  hil qemu               Run an image under QEMU with semihosting
  hil probe              Flash and run an image on a board

Configuration and health:
  config check           Validate configuration
  config show [path]     Print the effective configuration
  doctor                 Check configuration and required tools

History:
  history list           List recorded runs
  history show <id>      Show one run with its steps
  history prune          Delete old runs
  history serve          Serve run history as JSON over HTTP

General:
  version                Show version information
  help                   Show this help message

Environment:
  CMCI_CONFIG            Configuration file (default ./cmci.yaml)
  CMCI_LOG_LEVEL         Log level override (debug, info, warn, error)
`)
}
