// Package solver turns a network request into a solution.
//
// It validates the network, resolves pipe resistances, finds the loop basis
// and hands the prepared network to the strategy selected by the request's
// method: the iterative Hardy-Cross solver for "darcy", the deductive solver
// for "puzzle". Every call builds its own graph and result; nothing is shared
// between calls, so Solve is safe to run concurrently.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ritzau/hardy-cross/pkg/flowinit"
	"github.com/ritzau/hardy-cross/pkg/hardycross"
	"github.com/ritzau/hardy-cross/pkg/logging"
	"github.com/ritzau/hardy-cross/pkg/loops"
	"github.com/ritzau/hardy-cross/pkg/network"
	"github.com/ritzau/hardy-cross/pkg/puzzle"
	"github.com/ritzau/hardy-cross/pkg/resistance"
)

// ErrUnknownMethod is returned for a method other than darcy or puzzle
var ErrUnknownMethod = errors.New("unknown solving method")

// Strategy solves a prepared network
type Strategy interface {
	Solve(ctx context.Context, p *Prepared) (*Response, error)
}

// Prepared is a validated network with everything the strategies share
type Prepared struct {
	Method  Method
	Graph   *network.Graph
	Coeffs  []resistance.Coefficient
	K       []float64
	Basis   *loops.Basis
	Options hardycross.Options
}

var strategies = map[Method]Strategy{
	MethodDarcy:  darcyStrategy{},
	MethodPuzzle: puzzleStrategy{},
}

// Solve runs the full pipeline for one request. opts are the caller's
// defaults; the request's own options take precedence.
func Solve(ctx context.Context, req Request, opts hardycross.Options) (*Response, error) {
	p, err := Prepare(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	strategy := strategies[p.Method]

	resp, err := strategy.Solve(ctx, p)
	if err != nil {
		return nil, err
	}

	logging.DebugContext(ctx, "network solved",
		"method", p.Method,
		"nodes", p.Graph.NumNodes(),
		"pipes", p.Graph.NumPipes(),
		"loops", len(p.Basis.Loops),
		"converged", resp.Converged,
		"iterations", resp.Iterations,
	)
	return resp, nil
}

// Prepare validates the request and builds the graph, resistances and loops
func Prepare(ctx context.Context, req Request, opts hardycross.Options) (*Prepared, error) {
	method := req.Method
	if method == "" {
		method = MethodDarcy
	}
	if _, ok := strategies[method]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	if req.Fluid != nil {
		logging.DebugContext(ctx, "fluid properties supplied, friction factors are used as given")
	}

	g, err := network.New(req.Nodes, req.Pipes)
	if err != nil {
		return nil, fmt.Errorf("building network: %w", err)
	}

	coeffs, err := resistance.All(g)
	if err != nil {
		return nil, fmt.Errorf("resolving resistance: %w", err)
	}

	basis := loops.Find(g)
	if want := loops.Expected(g); len(basis.Loops) != want {
		return nil, fmt.Errorf("loop basis has %d loops, expected %d", len(basis.Loops), want)
	}

	if req.Options != nil {
		if req.Options.MaxIterations > 0 {
			opts.MaxIterations = req.Options.MaxIterations
		}
		if req.Options.Tolerance > 0 {
			opts.Tolerance = req.Options.Tolerance
		}
	}

	return &Prepared{
		Method:  method,
		Graph:   g,
		Coeffs:  coeffs,
		K:       resistance.Values(coeffs),
		Basis:   basis,
		Options: opts,
	}, nil
}

// Initialize returns only the starting flows that the darcy strategy would
// iterate from, so callers can inspect or override them.
func Initialize(ctx context.Context, req Request) (*Initialization, error) {
	p, err := Prepare(ctx, req, hardycross.DefaultOptions())
	if err != nil {
		return nil, err
	}
	flows, err := initialFlows(p)
	if err != nil {
		return nil, err
	}

	out := &Initialization{
		Flows: make([]InitialFlow, len(flows)),
		Loops: len(p.Basis.Loops),
	}
	for i, q := range flows {
		out.Flows[i] = InitialFlow{
			PipeID:  p.Graph.Pipes[i].ID,
			Flow:    q,
			Closing: !p.Basis.Forest.InTree[i],
		}
	}
	for _, r := range flowinit.Residuals(p.Graph, p.Graph.Demands(), flows) {
		out.MaxResidual = math.Max(out.MaxResidual, math.Abs(r))
	}
	return out, nil
}

// initialFlows checks the demand balance and assigns continuity-exact flows
func initialFlows(p *Prepared) ([]float64, error) {
	demands := p.Graph.Demands()
	if err := p.Graph.CheckBalance(demands); err != nil {
		return nil, fmt.Errorf("checking demand balance: %w", err)
	}

	given := make([]*float64, p.Graph.NumPipes())
	for i, pipe := range p.Graph.Pipes {
		given[i] = pipe.GivenFlow
	}

	flows, err := flowinit.Assign(p.Graph, p.Basis, demands, given)
	if err != nil {
		return nil, fmt.Errorf("assigning initial flows: %w", err)
	}
	return flows, nil
}

type darcyStrategy struct{}

func (darcyStrategy) Solve(ctx context.Context, p *Prepared) (*Response, error) {
	flows, err := initialFlows(p)
	if err != nil {
		return nil, err
	}

	result := hardycross.Run(ctx, p.Basis, p.K, flows, p.Options)
	return assembleDarcy(p, result), nil
}

type puzzleStrategy struct{}

func (puzzleStrategy) Solve(ctx context.Context, p *Prepared) (*Response, error) {
	known := make([]bool, len(p.Coeffs))
	for i, c := range p.Coeffs {
		known[i] = !c.Assumed
	}

	result := puzzle.Solve(ctx, puzzle.Input{
		Graph:  p.Graph,
		Basis:  p.Basis,
		K:      p.K,
		KKnown: known,
	})
	return assemblePuzzle(p, result), nil
}
