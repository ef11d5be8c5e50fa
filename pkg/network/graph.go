package network

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/multi"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph is the validated, index-based view of one network.
// Nodes and pipes keep their input order; everything inside the engine
// refers to them by index. A Graph is never modified after New returns.
type Graph struct {
	Nodes []Node
	Pipes []Pipe

	ends       [][2]int       // pipe index -> [start node, end node]
	nodeIndex  map[string]int // node id -> index
	pipeIndex  map[string]int // pipe id -> index
	incident   [][]Incidence  // node index -> incident pipes
	components [][]int        // node indices per connected component
	component  []int          // node index -> component index
}

// New validates the node and pipe records and builds the adjacency structure
func New(nodes []Node, pipes []Pipe) (*Graph, error) {
	g := &Graph{
		Nodes:     nodes,
		Pipes:     pipes,
		ends:      make([][2]int, len(pipes)),
		nodeIndex: make(map[string]int, len(nodes)),
		pipeIndex: make(map[string]int, len(pipes)),
		incident:  make([][]Incidence, len(nodes)),
	}

	for i, n := range nodes {
		if n.ID == "" {
			return nil, &TopologyError{Reason: fmt.Sprintf("node at position %d has an empty id", i)}
		}
		if _, exists := g.nodeIndex[n.ID]; exists {
			return nil, &DuplicateIDError{Kind: "node", ID: n.ID}
		}
		if err := checkFinite("node", n.ID, "demand", n.Demand); err != nil {
			return nil, err
		}
		g.nodeIndex[n.ID] = i
	}

	for i, p := range pipes {
		if p.ID == "" {
			return nil, &TopologyError{Reason: fmt.Sprintf("pipe at position %d has an empty id", i)}
		}
		if _, exists := g.pipeIndex[p.ID]; exists {
			return nil, &DuplicateIDError{Kind: "pipe", ID: p.ID}
		}
		g.pipeIndex[p.ID] = i
		if err := checkFinite("pipe", p.ID, "given_flow", p.GivenFlow); err != nil {
			return nil, err
		}
		if err := checkFinite("pipe", p.ID, "given_head_loss", p.GivenHeadLoss); err != nil {
			return nil, err
		}

		start, ok := g.nodeIndex[p.StartNode]
		if !ok {
			return nil, &TopologyError{Pipe: p.ID, Node: p.StartNode, Reason: "references unknown start node"}
		}
		end, ok := g.nodeIndex[p.EndNode]
		if !ok {
			return nil, &TopologyError{Pipe: p.ID, Node: p.EndNode, Reason: "references unknown end node"}
		}
		if start == end {
			return nil, &TopologyError{Pipe: p.ID, Node: p.StartNode, Reason: "connects a node to itself at"}
		}

		g.ends[i] = [2]int{start, end}
		g.incident[start] = append(g.incident[start], Incidence{Pipe: i, Other: end, Start: true})
		g.incident[end] = append(g.incident[end], Incidence{Pipe: i, Other: start, Start: false})
	}

	g.buildComponents()
	return g, nil
}

// checkFinite rejects a present value that is NaN or infinite. Pipe
// dimensions are checked where K is derived.
func checkFinite(kind, id, field string, v *float64) error {
	if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
		return &ValueError{Kind: kind, ID: id, Field: field, Value: *v}
	}
	return nil
}

// buildComponents finds connected components with gonum. Parallel pipes are
// kept as separate lines so the multigraph mirrors the pipe list exactly.
func (g *Graph) buildComponents() {
	ug := multi.NewUndirectedGraph()
	for i := range g.Nodes {
		ug.AddNode(multi.Node(i))
	}
	for i, e := range g.ends {
		ug.SetLine(multi.Line{F: multi.Node(e[0]), T: multi.Node(e[1]), UID: int64(i)})
	}

	raw := topo.ConnectedComponents(ug)

	// gonum iterates nodes in map order; normalize so results are reproducible
	g.components = make([][]int, 0, len(raw))
	for _, cc := range raw {
		ids := make([]int, 0, len(cc))
		for _, n := range cc {
			ids = append(ids, int(n.ID()))
		}
		sort.Ints(ids)
		g.components = append(g.components, ids)
	}
	sort.Slice(g.components, func(i, j int) bool {
		return g.components[i][0] < g.components[j][0]
	})

	g.component = make([]int, len(g.Nodes))
	for ci, cc := range g.components {
		for _, n := range cc {
			g.component[n] = ci
		}
	}
}

// NodeIndex returns the index of the node with the given id
func (g *Graph) NodeIndex(id string) (int, bool) {
	i, ok := g.nodeIndex[id]
	return i, ok
}

// PipeIndex returns the index of the pipe with the given id
func (g *Graph) PipeIndex(id string) (int, bool) {
	i, ok := g.pipeIndex[id]
	return i, ok
}

// NumNodes returns the number of nodes
func (g *Graph) NumNodes() int { return len(g.Nodes) }

// NumPipes returns the number of pipes
func (g *Graph) NumPipes() int { return len(g.Pipes) }

// Start returns the start node index of pipe p
func (g *Graph) Start(p int) int { return g.ends[p][0] }

// End returns the end node index of pipe p
func (g *Graph) End(p int) int { return g.ends[p][1] }

// Incident returns the pipes touching node n, in input order
func (g *Graph) Incident(n int) []Incidence {
	return g.incident[n]
}

// Components returns the node indices of every connected component.
// Each component is sorted and components are ordered by their first node.
func (g *Graph) Components() [][]int {
	return g.components
}

// ComponentOf returns the component index of node n
func (g *Graph) ComponentOf(n int) int {
	return g.component[n]
}

// Demands returns the node demands by index. Unknown demands become zero.
func (g *Graph) Demands() []float64 {
	demands := make([]float64, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.Demand != nil {
			demands[i] = *n.Demand
		}
	}
	return demands
}

// BalanceTolerance is the relative tolerance used when checking that the
// demands of a component cancel out.
const BalanceTolerance = 1e-9

// CheckBalance verifies that the demands of every connected component sum to
// zero within BalanceTolerance, scaled by the component's total demand.
func (g *Graph) CheckBalance(demands []float64) error {
	for _, cc := range g.components {
		sum, scale := 0.0, 1.0
		for _, n := range cc {
			sum += demands[n]
			scale += math.Abs(demands[n])
		}
		if !(math.Abs(sum) <= BalanceTolerance*scale) || math.IsInf(scale, 0) {
			ids := make([]string, len(cc))
			for i, n := range cc {
				ids[i] = g.Nodes[n].ID
			}
			return &ImbalanceError{Component: ids, Sum: sum}
		}
	}
	return nil
}
