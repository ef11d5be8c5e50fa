// Package loops finds the independent loops of a pipe network.
//
// A breadth-first spanning forest is built over the pipe graph, one tree per
// connected component. Every pipe outside the forest closes exactly one loop:
// the closing pipe followed by the tree path from its end node back to its
// start node. The loops found this way form a cycle basis, so there are
// always pipes − nodes + components of them.
package loops

import (
	"github.com/ritzau/hardy-cross/pkg/network"
)

// Member is one pipe of a loop and the direction the loop walks it
type Member struct {
	Pipe int     // Index into Graph.Pipes
	Sign float64 // +1 if the loop follows the pipe's start->end orientation, else -1
}

// Loop is a closed walk through the network
type Loop struct {
	Closing int      // Index of the pipe outside the spanning forest
	Members []Member // Pipes in walk order, starting with the closing pipe
	Nodes   []int    // Nodes in walk order, starting at the closing pipe's start node
}

// Forest is a spanning forest of the network
type Forest struct {
	Parent     []int  // Node -> parent node, -1 for roots
	ParentPipe []int  // Node -> pipe leading to the parent, -1 for roots
	Depth      []int  // Node -> distance from its root
	Order      []int  // Nodes in breadth-first order, component by component
	Roots      []int  // Root node of each component
	InTree     []bool // Pipe -> part of the forest
}

// Basis is the spanning forest together with the independent loops it induces
type Basis struct {
	Forest Forest
	Loops  []Loop
}

// Find builds the spanning forest of g and derives one loop per closing pipe
func Find(g *network.Graph) *Basis {
	forest := spanningForest(g)

	b := &Basis{Forest: forest}
	for p := 0; p < g.NumPipes(); p++ {
		if forest.InTree[p] {
			continue
		}
		b.Loops = append(b.Loops, closeLoop(g, &forest, p))
	}
	return b
}

// Expected returns the number of independent loops of g: P − N + C
func Expected(g *network.Graph) int {
	return g.NumPipes() - g.NumNodes() + len(g.Components())
}

// IsTree reports whether the network has no loops at all
func (b *Basis) IsTree() bool {
	return len(b.Loops) == 0
}

func spanningForest(g *network.Graph) Forest {
	n := g.NumNodes()
	f := Forest{
		Parent:     make([]int, n),
		ParentPipe: make([]int, n),
		Depth:      make([]int, n),
		Order:      make([]int, 0, n),
		InTree:     make([]bool, g.NumPipes()),
	}
	visited := make([]bool, n)

	for _, cc := range g.Components() {
		root := cc[0]
		f.Roots = append(f.Roots, root)
		f.Parent[root] = -1
		f.ParentPipe[root] = -1
		visited[root] = true

		queue := []int{root}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			f.Order = append(f.Order, current)

			for _, in := range g.Incident(current) {
				if visited[in.Other] {
					continue
				}
				visited[in.Other] = true
				f.Parent[in.Other] = current
				f.ParentPipe[in.Other] = in.Pipe
				f.Depth[in.Other] = f.Depth[current] + 1
				f.InTree[in.Pipe] = true
				queue = append(queue, in.Other)
			}
		}
	}
	return f
}

// closeLoop walks the closing pipe start->end, then climbs from the end node
// to the lowest common ancestor and descends to the start node.
func closeLoop(g *network.Graph, f *Forest, closing int) Loop {
	start, end := g.Start(closing), g.End(closing)

	loop := Loop{
		Closing: closing,
		Members: []Member{{Pipe: closing, Sign: 1}},
		Nodes:   []int{start, end},
	}

	// Pipes on the start side are collected bottom-up and replayed top-down
	type step struct {
		child int
		pipe  int
	}
	var descent []step

	a, b := end, start
	climb := func() {
		p := f.ParentPipe[a]
		sign := -1.0
		if g.Start(p) == a {
			sign = 1
		}
		loop.Members = append(loop.Members, Member{Pipe: p, Sign: sign})
		a = f.Parent[a]
		loop.Nodes = append(loop.Nodes, a)
	}
	for f.Depth[a] > f.Depth[b] {
		climb()
	}
	for f.Depth[b] > f.Depth[a] {
		descent = append(descent, step{child: b, pipe: f.ParentPipe[b]})
		b = f.Parent[b]
	}
	for a != b {
		climb()
		descent = append(descent, step{child: b, pipe: f.ParentPipe[b]})
		b = f.Parent[b]
	}

	for i := len(descent) - 1; i >= 0; i-- {
		s := descent[i]
		sign := -1.0
		if g.End(s.pipe) == s.child {
			sign = 1
		}
		loop.Members = append(loop.Members, Member{Pipe: s.pipe, Sign: sign})
		loop.Nodes = append(loop.Nodes, s.child)
	}

	// The walk ends where it started; keep each node once
	loop.Nodes = loop.Nodes[:len(loop.Nodes)-1]
	return loop
}
