package hardycross

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/hardy-cross/pkg/flowinit"
	"github.com/ritzau/hardy-cross/pkg/loops"
	"github.com/ritzau/hardy-cross/pkg/network"
	"github.com/ritzau/hardy-cross/pkg/resistance"
)

type fixture struct {
	g       *network.Graph
	basis   *loops.Basis
	k       []float64
	initial []float64
}

func newFixture(t *testing.T, nodes []network.Node, pipes []network.Pipe, k []float64) fixture {
	t.Helper()
	g, err := network.New(nodes, pipes)
	require.NoError(t, err)

	basis := loops.Find(g)
	initial, err := flowinit.Assign(g, basis, g.Demands(), nil)
	require.NoError(t, err)

	return fixture{g: g, basis: basis, k: k, initial: initial}
}

func pipe(id, from, to string) network.Pipe {
	return network.Pipe{ID: id, StartNode: from, EndNode: to}
}

func triangle(t *testing.T) fixture {
	return newFixture(t,
		[]network.Node{
			{ID: "A", Demand: network.Float(10)},
			{ID: "B", Demand: network.Float(0)},
			{ID: "C", Demand: network.Float(-10)},
		},
		[]network.Pipe{pipe("AB", "A", "B"), pipe("BC", "B", "C"), pipe("CA", "C", "A")},
		[]float64{1, 1, 1},
	)
}

func TestTriangleConverges(t *testing.T) {
	f := triangle(t)

	r := Run(context.Background(), f.basis, f.k, f.initial, DefaultOptions())
	require.True(t, r.Converged, "state %s after %d iterations", r.State, r.Iterations)
	assert.Equal(t, StateConverged, r.State)
	assert.Greater(t, r.Iterations, 0)

	// The path through B carries y, the direct pipe √2·y, with y + √2·y = 10
	y := 10 / (1 + math.Sqrt2)
	assert.InDelta(t, y, r.Flows[0], 1e-4)
	assert.InDelta(t, y, r.Flows[1], 1e-4)
	assert.InDelta(t, -math.Sqrt2*y, r.Flows[2], 1e-4)

	for n, res := range flowinit.Residuals(f.g, f.g.Demands(), r.Flows) {
		assert.InDelta(t, 0, res, 1e-9, "continuity at %s", f.g.Nodes[n].ID)
	}
	for _, res := range r.Residuals {
		assert.LessOrEqual(t, math.Abs(res), DefaultTolerance)
	}
}

func TestParallelPipesSplit(t *testing.T) {
	f := newFixture(t,
		[]network.Node{
			{ID: "A", Demand: network.Float(10)},
			{ID: "B", Demand: network.Float(-10)},
		},
		[]network.Pipe{pipe("P1", "A", "B"), pipe("P2", "A", "B")},
		[]float64{1, 4},
	)

	r := Run(context.Background(), f.basis, f.k, f.initial, DefaultOptions())
	require.True(t, r.Converged)

	// K₁Q₁² = K₂Q₂² gives Q₁ = 2·Q₂
	assert.InDelta(t, 20.0/3, r.Flows[0], 1e-4)
	assert.InDelta(t, 10.0/3, r.Flows[1], 1e-4)
	assert.InDelta(t, HeadLoss(1, r.Flows[0]), HeadLoss(4, r.Flows[1]), 1e-5)
}

func TestTreeShortCircuits(t *testing.T) {
	f := newFixture(t,
		[]network.Node{
			{ID: "A", Demand: network.Float(5)},
			{ID: "B", Demand: network.Float(-2)},
			{ID: "C", Demand: network.Float(-3)},
		},
		[]network.Pipe{pipe("AB", "A", "B"), pipe("BC", "B", "C")},
		[]float64{2, 3},
	)

	r := Run(context.Background(), f.basis, f.k, f.initial, DefaultOptions())
	assert.True(t, r.Converged)
	assert.Equal(t, StateConverged, r.State)
	assert.Equal(t, 0, r.Iterations)
	assert.Empty(t, r.History)
	assert.Equal(t, f.initial, r.Flows)
}

func TestTwoLoopsConverge(t *testing.T) {
	// A square with the diagonal AC shared by both loops
	f := newFixture(t,
		[]network.Node{
			{ID: "A", Demand: network.Float(10)},
			{ID: "B", Demand: network.Float(0)},
			{ID: "C", Demand: network.Float(-10)},
			{ID: "D", Demand: network.Float(0)},
		},
		[]network.Pipe{
			pipe("AB", "A", "B"),
			pipe("BC", "B", "C"),
			pipe("AD", "A", "D"),
			pipe("DC", "D", "C"),
			pipe("AC", "A", "C"),
		},
		[]float64{1, 1, 1, 1, 1},
	)
	require.Len(t, f.basis.Loops, 2)

	r := Run(context.Background(), f.basis, f.k, f.initial, Options{MaxIterations: 200, Tolerance: 1e-8})
	require.True(t, r.Converged, "state %s after %d iterations", r.State, r.Iterations)

	// Symmetric split: y through each side, √2·y on the diagonal
	y := 10 / (2 + math.Sqrt2)
	assert.InDelta(t, y, r.Flows[0], 1e-4)
	assert.InDelta(t, y, r.Flows[3], 1e-4)
	assert.InDelta(t, math.Sqrt2*y, r.Flows[4], 1e-4)

	for n, res := range flowinit.Residuals(f.g, f.g.Demands(), r.Flows) {
		assert.InDelta(t, 0, res, 1e-9, "continuity at %s", f.g.Nodes[n].ID)
	}

	// History is complete and ends at the reported state
	require.Len(t, r.History, r.Iterations)
	last := r.History[len(r.History)-1]
	assert.LessOrEqual(t, last.MaxResidual, 1e-8)
	assert.Len(t, last.Loops, 2)
}

func TestMaxIterationsReached(t *testing.T) {
	f := triangle(t)

	r := Run(context.Background(), f.basis, f.k, f.initial, Options{MaxIterations: 1, Tolerance: 1e-15})
	assert.False(t, r.Converged)
	assert.Equal(t, StateMaxIterationsReached, r.State)
	assert.Equal(t, 1, r.Iterations)
	require.Len(t, r.History, 1)

	// A lone loop gets the plain Hardy-Cross correction: Σh = −100, Σ2K|Q| = 20
	assert.InDelta(t, -100, r.History[0].Loops[0].SumHeadLoss, 1e-12)
	assert.InDelta(t, 5, r.History[0].Loops[0].Correction, 1e-12)

	// Even unconverged flows keep continuity
	for n, res := range flowinit.Residuals(f.g, f.g.Demands(), r.Flows) {
		assert.InDelta(t, 0, res, 1e-9, "continuity at %s", f.g.Nodes[n].ID)
	}
}

func TestZeroSensitivityGetsNoCorrection(t *testing.T) {
	// No demand anywhere: every flow starts at zero and stays there
	f := newFixture(t,
		[]network.Node{{ID: "A"}, {ID: "B"}},
		[]network.Pipe{pipe("P1", "A", "B"), pipe("P2", "A", "B")},
		[]float64{1, 1},
	)

	r := Run(context.Background(), f.basis, f.k, f.initial, DefaultOptions())
	assert.True(t, r.Converged)
	require.Len(t, r.History, 1)
	assert.True(t, r.History[0].Loops[0].Degenerate)
	assert.Equal(t, []float64{0, 0}, r.Flows)
}

func TestRunDoesNotModifyInitial(t *testing.T) {
	f := triangle(t)
	before := append([]float64(nil), f.initial...)

	Run(context.Background(), f.basis, f.k, f.initial, DefaultOptions())
	assert.Equal(t, before, f.initial)
}

// grid builds an n×n mesh of real pipes (300-900 m, 0.1-0.3 m) fed at one
// corner and drawn at the other three.
func grid(t *testing.T, n int) fixture {
	t.Helper()
	id := func(i, j int) string { return fmt.Sprintf("N%d_%d", i, j) }
	demands := map[string]float64{
		id(0, 0):     0.1,
		id(n-1, n-1): -0.05,
		id(0, n-1):   -0.03,
		id(n-1, 0):   -0.02,
	}

	var nodes []network.Node
	var pipes []network.Pipe
	var k []float64
	link := func(from, to string, i, j int) {
		length := 300 + float64((i*7+j*3)%7)*100
		diameter := 0.1 + float64((i+2*j)%3)*0.1
		pipes = append(pipes, pipe(from+"-"+to, from, to))
		k = append(k, resistance.Darcy(length, diameter, resistance.DefaultFriction))
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			nodes = append(nodes, network.Node{ID: id(i, j), Demand: network.Float(demands[id(i, j)])})
			if j+1 < n {
				link(id(i, j), id(i, j+1), i, j)
			}
			if i+1 < n {
				link(id(i, j), id(i+1, j), i+n, j)
			}
		}
	}
	return newFixture(t, nodes, pipes, k)
}

func TestGridConverges(t *testing.T) {
	f := grid(t, 4)
	require.Len(t, f.basis.Loops, 9)

	r := Run(context.Background(), f.basis, f.k, f.initial, DefaultOptions())
	require.True(t, r.Converged, "state %s after %d iterations", r.State, r.Iterations)
	assert.Equal(t, r.Iterations, r.Best)

	for li, res := range r.Residuals {
		assert.LessOrEqual(t, math.Abs(res), DefaultTolerance, "loop %d", li)
	}
	for n, res := range flowinit.Residuals(f.g, f.g.Demands(), r.Flows) {
		assert.InDelta(t, 0, res, 1e-9, "continuity at %s", f.g.Nodes[n].ID)
	}
	for _, it := range r.History {
		assert.True(t, allFinite(it.Flows), "iteration %d", it.Number)
	}
}

func TestLargerGridConverges(t *testing.T) {
	f := grid(t, 8)

	r := Run(context.Background(), f.basis, f.k, f.initial, Options{MaxIterations: 200, Tolerance: DefaultTolerance})
	require.True(t, r.Converged, "state %s after %d iterations", r.State, r.Iterations)
	for li, res := range r.Residuals {
		assert.LessOrEqual(t, math.Abs(res), DefaultTolerance, "loop %d", li)
	}
}

func TestCappedRunReturnsBestIterate(t *testing.T) {
	f := grid(t, 4)

	r := Run(context.Background(), f.basis, f.k, f.initial, Options{MaxIterations: 3, Tolerance: 1e-300})
	require.False(t, r.Converged)
	assert.Equal(t, StateMaxIterationsReached, r.State)
	require.Len(t, r.History, 3)

	wantIter, wantFlows := 0, f.initial
	bestResidual := maxResidual(f.basis, f.k, f.initial)
	for _, it := range r.History {
		if it.MaxResidual < bestResidual {
			wantIter, wantFlows, bestResidual = it.Number, it.Flows, it.MaxResidual
		}
	}
	assert.Equal(t, wantIter, r.Best)
	assert.Equal(t, wantFlows, r.Flows)
	assert.InDelta(t, bestResidual, maxResidual(f.basis, f.k, r.Flows), 1e-9)
}

func TestOverflowStopsWithInitialFlows(t *testing.T) {
	f := triangle(t)
	f.k = []float64{1e307, 1e307, 1e307} // 1e307·10² overflows

	r := Run(context.Background(), f.basis, f.k, f.initial, DefaultOptions())
	assert.False(t, r.Converged)
	assert.Equal(t, StateMaxIterationsReached, r.State)
	assert.Equal(t, 0, r.Iterations)
	assert.Equal(t, 0, r.Best)
	assert.Empty(t, r.History)
	assert.Equal(t, f.initial, r.Flows)
}

func TestBestIterateKeepsSmallestResidual(t *testing.T) {
	flows := []float64{1, 2}
	b := bestIterate{flows: []float64{0, 0}, residual: 10}

	b.offer(1, []float64{5, 5}, 5)
	b.offer(2, flows, 2)
	flows[0] = 99 // The offered slice is copied
	b.offer(3, []float64{7, 7}, 3)

	assert.Equal(t, 2, b.iteration)
	assert.Equal(t, []float64{1, 2}, b.flows)
	assert.Equal(t, 2.0, b.residual)
}
