package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/doctor"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: cmci config check [--config PATH]")
			fmt.Println("Load and validate the configuration. Exit code 2 when invalid.")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: cmci config show [path.to.field] [--config PATH] [--json]")
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, ok := config.Discover()
		if !ok {
			fmt.Println("No configuration file found; defaults are valid.")
			return 0
		}
		path = discovered
	}
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return exitConfigError
	}
	fmt.Printf("Configuration valid: %s\n", path)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")

	var field string
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		field, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if field == "" {
		field = fs.Arg(0)
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}

	// An empty path yields the whole config keyed by its YAML names.
	result, err := cfg.GetPath(field)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(result)
	}
	data, err := yaml.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dir := fs.String("dir", ".", "Crate root")
	mode := fs.String("mode", "all", "Workflow to check: dispatch, xtask, hil or all")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	modes, err := doctor.ParseMode(*mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
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

	result := doctor.New(cfg, crate, modes...).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: cmci config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printDoctorHelp() {
	fmt.Println("Usage: cmci doctor [--config PATH] [--dir CRATE] [--mode dispatch|xtask|hil|all] [--json]")
	fmt.Println("Validate configuration and check that required tools are in PATH.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All checks passed (warnings allowed)")
	fmt.Println("  1  One or more checks failed")
	fmt.Println("  2  Configuration could not be loaded")
}
