package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/cmci/internal/api"
	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/history"
	"github.com/mattjoyce/cmci/internal/log"
	"github.com/mattjoyce/cmci/internal/storage"
)

// recordRun stores run in the history database. Failures only warn: a CI
// job must not fail because its bookkeeping did.
func recordRun(ctx context.Context, cfg *config.Config, run *history.Run) {
	logger := log.WithComponent("history")
	if cfg.State.Path == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Warn("run history unavailable", "path", cfg.State.Path, "error", err)
		return
	}
	defer db.Close()

	id, err := history.NewStore(db).Record(ctx, run)
	if err != nil {
		logger.Warn("failed to record run", "error", err)
		return
	}
	log.WithRun(id).Debug("run recorded", "kind", string(run.Kind), "status", string(run.Status))
}

func openHistory(ctx context.Context, cfg *config.Config) (*history.Store, func(), error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, err
	}
	return history.NewStore(db), func() { _ = db.Close() }, nil
}

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: cmci history list [--config PATH] [--limit N] [--kind K] [--status S] [--json]")
			return 0
		}
		return runHistoryList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: cmci history show <run-id> [--config PATH] [--json]")
			return 0
		}
		return runHistoryShow(actionArgs)
	case "prune":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: cmci history prune --older-than DURATION [--config PATH]")
			return 0
		}
		return runHistoryPrune(actionArgs)
	case "serve":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: cmci history serve [--config PATH] [--listen ADDR]")
			fmt.Println("Endpoints: GET /healthz, GET /runs?limit=N&kind=K&status=S, GET /runs/{id}")
			return 0
		}
		return runHistoryServe(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return 1
	}
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum number of runs")
	kind := fs.String("kind", "", "Only runs of this kind (dispatch, assemble, ...)")
	status := fs.String("status", "", "Only runs with this status")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be positive")
		return 1
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}
	ctx := context.Background()
	store, closeFn, err := openHistory(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		return 1
	}
	defer closeFn()

	runs, err := store.List(ctx, history.ListFilter{
		Kind:   history.Kind(*kind),
		Status: history.Status(*status),
		Limit:  *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(runs)
	}
	fmt.Print(history.RenderList(history.NewDefaultTheme(), runs, time.Now()))
	return 0
}

func runHistoryShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")

	// The run ID may come before or after the flags.
	var id string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		id, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" {
		id = fs.Arg(0)
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: cmci history show <run-id> [--json]")
		return 1
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}
	ctx := context.Background()
	store, closeFn, err := openHistory(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		return 1
	}
	defer closeFn()

	run, err := store.Get(ctx, id)
	if errors.Is(err, history.ErrRunNotFound) {
		fmt.Fprintf(os.Stderr, "Run not found: %s\n", id)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load run: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(run)
	}
	fmt.Print(history.RenderRun(history.NewDefaultTheme(), run))
	return 0
}

func runHistoryPrune(args []string) int {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	olderThan := fs.Duration("older-than", 0, "Delete runs started before now minus this duration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: cmci history prune --older-than DURATION (e.g. 720h)")
		return 1
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}
	ctx := context.Background()
	store, closeFn, err := openHistory(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		return 1
	}
	defer closeFn()

	n, err := store.Prune(ctx, *olderThan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
		return 1
	}
	fmt.Printf("Pruned %d run(s)\n", n)
	return 0
}

func runHistoryServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	listen := fs.String("listen", "", "Listen address (default api.listen)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}
	addr := cfg.API.Listen
	if *listen != "" {
		addr = *listen
	}

	ctx, stop := signalContext()
	defer stop()

	store, closeFn, err := openHistory(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		return 1
	}
	defer closeFn()

	server := api.New(api.Config{Listen: addr}, store, log.WithComponent("api"))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func printHistoryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: cmci history <action> [flags]")
	fmt.Fprintln(w, "Actions: list, show, prune, serve")
}
