package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ritzau/hardy-cross/pkg/analysis"
	"github.com/ritzau/hardy-cross/pkg/config"
	"github.com/ritzau/hardy-cross/pkg/loader"
	"github.com/ritzau/hardy-cross/pkg/logging"
	"github.com/ritzau/hardy-cross/pkg/output"
	"github.com/ritzau/hardy-cross/pkg/pubsub"
	"github.com/ritzau/hardy-cross/pkg/solver"
	"github.com/ritzau/hardy-cross/pkg/watcher"
	"github.com/ritzau/hardy-cross/pkg/web"
)

const usage = `Usage: hardy-cross [flags] [network-file]

Solves a pipe network given as a JSON, YAML or TOML file. With --web the
solver is also served over HTTP; with --watch the file is re-solved on every
change.

Flags:
`

func main() {
	f := pflag.NewFlagSet("hardy-cross", pflag.ExitOnError)
	f.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		f.PrintDefaults()
	}
	f.Bool("web", false, "Start the HTTP API")
	f.Int("port", 8000, "Port for the HTTP API (only used with --web)")
	f.Bool("watch", false, "Re-solve the network file whenever it changes")
	f.String("method", "darcy", "Method for networks that do not name one: darcy or puzzle")
	f.Int("max_iterations", 50, "Hardy-Cross iteration cap")
	f.Float64("tolerance", 1e-6, "Largest acceptable loop head-loss residual")
	f.Bool("json", false, "Print the solution as JSON instead of a report")
	f.String("log_format", logging.FormatCompact, "Log format: compact or json")
	f.String("verbosity", "", "Log level: trace, debug, info, warn or error")
	f.CountP("verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	f.StringSlice("cors_origins", nil, "Origins allowed to call the HTTP API")
	f.String("config", config.DefaultFile, "Configuration file")
	_ = f.Parse(os.Args[1:])

	cfg, err := config.Load(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	level, err := logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := logging.Configure(os.Stderr, cfg.LogFormat, level); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	file := f.Arg(0)
	if f.NArg() > 1 {
		logging.Fatal("expected at most one network file", "args", f.Args())
	}
	if cfg.Watch && file == "" {
		logging.Fatal("--watch needs a network file")
	}
	if !cfg.WebMode && file == "" {
		f.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WebMode {
		err = runWeb(ctx, cfg, file)
	} else if cfg.Watch {
		err = runWatchCLI(ctx, cfg, file)
	} else {
		err = solveOnce(ctx, cfg, file)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("hardy-cross failed", "error", err)
		os.Exit(1)
	}
}

// solveOnce solves the file and prints the result
func solveOnce(ctx context.Context, cfg *config.Config, file string) error {
	req, err := loader.Load(file)
	if err != nil {
		return err
	}
	if req.Method == "" {
		req.Method = solver.Method(cfg.Method)
	}

	resp, err := solver.Solve(ctx, *req, cfg.SolverOptions())
	if err != nil {
		return err
	}
	return printSolution(cfg, file, resp)
}

func printSolution(cfg *config.Config, file string, resp *solver.Response) error {
	if cfg.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	output.PrintSolution(os.Stdout, file, resp)
	return nil
}

// runWeb serves the API and, with a file, keeps its latest solution published
func runWeb(ctx context.Context, cfg *config.Config, file string) error {
	server := web.NewServer(web.Options{
		Solver:      cfg.SolverOptions(),
		Method:      solver.Method(cfg.Method),
		CORSOrigins: cfg.CORSOrigins,
	})

	if file != "" {
		runner := analysis.NewSolveRunner(file, solver.Method(cfg.Method), cfg.SolverOptions(), server)
		go func() {
			if _, err := runner.Run(ctx, "initial solve"); err != nil {
				logging.Warn("initial solve failed", "file", file, "error", err)
			}
			if cfg.Watch {
				watch(ctx, file, func(reason string) {
					if _, err := runner.Run(ctx, reason); err != nil {
						logging.Warn("re-solve failed", "file", file, "error", err)
					}
				})
			}
		}()
	}

	return server.Start(ctx, cfg.Port)
}

// consoleSink prints each watch-mode solution as it arrives
type consoleSink struct {
	cfg *config.Config
}

func (c consoleSink) PublishSolveStatus(status pubsub.SolveStatus) error {
	logging.Debug("solve status", "state", status.State, "message", status.Message)
	return nil
}

func (c consoleSink) SetSolution(file string, resp *solver.Response) error {
	return printSolution(c.cfg, file, resp)
}

// runWatchCLI re-solves the file on every change and prints each solution
func runWatchCLI(ctx context.Context, cfg *config.Config, file string) error {
	runner := analysis.NewSolveRunner(file, solver.Method(cfg.Method), cfg.SolverOptions(), consoleSink{cfg: cfg})
	if _, err := runner.Run(ctx, "initial solve"); err != nil {
		logging.Warn("initial solve failed", "file", file, "error", err)
	}

	watch(ctx, file, func(reason string) {
		if _, err := runner.Run(ctx, reason); err != nil {
			logging.Warn("re-solve failed", "file", file, "error", err)
		}
	})
	return ctx.Err()
}

// watch calls solve after each debounced change until ctx ends
func watch(ctx context.Context, file string, solve func(reason string)) {
	fw, err := watcher.NewFileWatcher(file, false)
	if err != nil {
		logging.Error("failed to create watcher", "error", err)
		return
	}
	if err := fw.Start(ctx); err != nil {
		logging.Error("failed to start watcher", "error", err)
		return
	}

	debouncer := watcher.NewDebouncer(fw.Events(), 300*time.Millisecond, 2*time.Second)
	debouncer.Start(ctx)

	for event := range debouncer.Output() {
		logging.Info("network file changed", "paths", event.Paths)
		solve("file changed")
	}
}
