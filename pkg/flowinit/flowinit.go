// Package flowinit assigns a starting flow to every pipe such that flow is
// conserved exactly at every node.
//
// Closing pipes (those outside the spanning forest) take their given flow or
// zero. Tree pipes are then solved leaves-first: when a node is reached in
// reverse breadth-first order, the pipe to its parent is the only incident pipe
// whose flow is still open, so the node's balance equation fixes it.
package flowinit

import (
	"errors"
	"fmt"
	"math"

	"github.com/ritzau/hardy-cross/pkg/loops"
	"github.com/ritzau/hardy-cross/pkg/network"
)

// ErrUnderdetermined classifies internal failures to resolve a node balance.
// It indicates a malformed spanning forest, never bad user input.
var ErrUnderdetermined = errors.New("flow assignment underdetermined")

// UnderdeterminedError reports the node whose balance could not be resolved
type UnderdeterminedError struct {
	Node     string
	Unknown  int     // Number of open pipes at the node
	Residual float64 // Left-over imbalance at a root, if that was the failure
}

func (e *UnderdeterminedError) Error() string {
	if e.Unknown == 0 {
		return fmt.Sprintf("node %q: root balance off by %g after assignment", e.Node, e.Residual)
	}
	return fmt.Sprintf("node %q: %d incident pipes still unknown", e.Node, e.Unknown)
}

func (e *UnderdeterminedError) Is(target error) bool {
	return target == ErrUnderdetermined
}

// Assign computes the initial flow of every pipe by index.
// given holds optional caller-supplied flows; only those on closing pipes
// are honored since tree pipe flows are fixed by continuity.
func Assign(g *network.Graph, b *loops.Basis, demands []float64, given []*float64) ([]float64, error) {
	flows := make([]float64, g.NumPipes())
	known := make([]bool, g.NumPipes())

	for p := range flows {
		if b.Forest.InTree[p] {
			continue
		}
		if given != nil && given[p] != nil {
			flows[p] = *given[p]
		}
		known[p] = true
	}

	order := b.Forest.Order
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		parentPipe := b.Forest.ParentPipe[node]

		// net = demand + inflow - outflow over the pipes already fixed
		net := demands[node]
		open := 0
		var openPipe network.Incidence
		for _, in := range g.Incident(node) {
			if !known[in.Pipe] {
				open++
				openPipe = in
				continue
			}
			net -= in.Sign() * flows[in.Pipe]
		}

		if parentPipe < 0 {
			if open != 0 {
				return nil, &UnderdeterminedError{Node: g.Nodes[node].ID, Unknown: open}
			}
			if tol := network.BalanceTolerance * scale(g, demands, node); math.IsInf(tol, 0) || !(math.Abs(net) <= tol) {
				return nil, &UnderdeterminedError{Node: g.Nodes[node].ID, Residual: net}
			}
			continue
		}

		if open != 1 || openPipe.Pipe != parentPipe {
			return nil, &UnderdeterminedError{Node: g.Nodes[node].ID, Unknown: open}
		}

		// demand + in - out = 0 with the open pipe contributing sign·Q outflow
		flows[parentPipe] = net / openPipe.Sign()
		known[parentPipe] = true
	}

	return flows, nil
}

// scale is the magnitude that root residuals are compared against: the total
// absolute demand of the node's component.
func scale(g *network.Graph, demands []float64, node int) float64 {
	s := 1.0
	for _, n := range g.Components()[g.ComponentOf(node)] {
		s += math.Abs(demands[n])
	}
	return s
}

// Residuals returns demand + inflow - outflow for every node.
// A flow distribution conserves mass when every residual is zero.
func Residuals(g *network.Graph, demands, flows []float64) []float64 {
	res := make([]float64, g.NumNodes())
	for n := range res {
		r := demands[n]
		for _, in := range g.Incident(n) {
			r -= in.Sign() * flows[in.Pipe]
		}
		res[n] = r
	}
	return res
}
