// Package analysis re-solves a watched network file and publishes progress
// and results to live subscribers.
package analysis

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ritzau/hardy-cross/pkg/hardycross"
	"github.com/ritzau/hardy-cross/pkg/loader"
	"github.com/ritzau/hardy-cross/pkg/logging"
	"github.com/ritzau/hardy-cross/pkg/pubsub"
	"github.com/ritzau/hardy-cross/pkg/solver"
)

// Steps of one run, as reported in solve_status events
const (
	stepLoading = 1
	stepSolving = 2
	stepDone    = 3
	totalSteps  = 3
)

// Sink receives the progress and outcome of runs. *web.Server implements it.
type Sink interface {
	PublishSolveStatus(status pubsub.SolveStatus) error
	SetSolution(file string, resp *solver.Response) error
}

// SolveRunner loads and solves one network file on demand
type SolveRunner struct {
	file   string
	method solver.Method
	opts   hardycross.Options
	sink   Sink
	mu     sync.Mutex // Prevent concurrent solve runs
}

// NewSolveRunner creates a runner for file. method applies when the file
// does not name one.
func NewSolveRunner(file string, method solver.Method, opts hardycross.Options, sink Sink) *SolveRunner {
	return &SolveRunner{
		file:   file,
		method: method,
		opts:   opts,
		sink:   sink,
	}
}

// Run loads the file, solves it and publishes the solution. reason is
// logged, e.g. "initial solve" or "file changed".
func (sr *SolveRunner) Run(ctx context.Context, reason string) (*solver.Response, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	runID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, runID)
	logging.InfoContext(ctx, "solve run started", "file", sr.file, "reason", reason)

	status := func(state, message string, step int) {
		err := sr.sink.PublishSolveStatus(pubsub.SolveStatus{
			RunID:   runID,
			State:   state,
			File:    sr.file,
			Message: message,
			Step:    step,
			Total:   totalSteps,
		})
		if err != nil {
			logging.WarnContext(ctx, "failed to publish solve status", "state", state, "error", err)
		}
	}

	status("loading", "Loading network file...", stepLoading)
	req, err := loader.Load(sr.file)
	if err != nil {
		status("failed", err.Error(), stepLoading)
		return nil, fmt.Errorf("loading network: %w", err)
	}
	if req.Method == "" {
		req.Method = sr.method
	}
	logging.DebugContext(ctx, "network loaded", "nodes", len(req.Nodes), "pipes", len(req.Pipes), "method", req.Method)

	status("solving", fmt.Sprintf("Solving %d pipes with the %s method...", len(req.Pipes), req.Method), stepSolving)
	resp, err := solver.Solve(ctx, *req, sr.opts)
	if err != nil {
		status("failed", err.Error(), stepSolving)
		return nil, fmt.Errorf("solving network: %w", err)
	}

	if err := sr.sink.SetSolution(sr.file, resp); err != nil {
		logging.WarnContext(ctx, "failed to publish solution", "error", err)
	}

	message := fmt.Sprintf("Converged after %d iteration(s)", resp.Iterations)
	if !resp.Converged {
		message = fmt.Sprintf("Stopped after %d iteration(s) without converging", resp.Iterations)
	}
	if resp.Method == solver.MethodPuzzle {
		message = fmt.Sprintf("Deduction %s after %d pass(es)", resp.State, resp.Iterations)
	}
	status("solved", message, stepDone)

	logging.InfoContext(ctx, "solve run complete",
		"file", sr.file,
		"converged", resp.Converged,
		"iterations", resp.Iterations,
	)
	return resp, nil
}
