package network

// Node is a junction in the pipe network.
// Demand is the net external flow in m³/s: positive for inflow (source),
// negative for outflow (load). A nil Demand is unknown (puzzle mode) and is
// treated as an internal junction (zero) by the iterative solver.
type Node struct {
	ID     string   `json:"id" yaml:"id" toml:"id"`
	Demand *float64 `json:"demand,omitempty" yaml:"demand,omitempty" toml:"demand,omitempty"`
}

// Pipe is an edge between two nodes. StartNode -> EndNode fixes the reference
// orientation for the sign of the flow; it says nothing about the physical
// flow direction.
type Pipe struct {
	ID        string `json:"id" yaml:"id" toml:"id"`
	StartNode string `json:"start_node" yaml:"start_node" toml:"start_node"`
	EndNode   string `json:"end_node" yaml:"end_node" toml:"end_node"`

	// Physical properties (SI units). Any of them may be absent.
	Length    *float64 `json:"length,omitempty" yaml:"length,omitempty" toml:"length,omitempty"`
	Diameter  *float64 `json:"diameter,omitempty" yaml:"diameter,omitempty" toml:"diameter,omitempty"`
	Roughness *float64 `json:"roughness,omitempty" yaml:"roughness,omitempty" toml:"roughness,omitempty"` // Darcy friction factor

	// Resistance is the coefficient K in h_f = K·Q·|Q| when supplied directly
	Resistance *float64 `json:"resistance,omitempty" yaml:"resistance,omitempty" toml:"resistance,omitempty"`

	// Known values. In puzzle mode these are the givens; in darcy mode
	// GivenFlow is a caller-supplied starting flow.
	GivenFlow     *float64 `json:"given_flow,omitempty" yaml:"given_flow,omitempty" toml:"given_flow,omitempty"`
	GivenHeadLoss *float64 `json:"given_head_loss,omitempty" yaml:"given_head_loss,omitempty" toml:"given_head_loss,omitempty"`
}

// Float returns a pointer to v. Handy for building networks in code.
func Float(v float64) *float64 {
	return &v
}

// Incidence describes one pipe touching a node
type Incidence struct {
	Pipe  int  // Index into Graph.Pipes
	Other int  // Index of the node at the other end
	Start bool // True if the node is the pipe's start node
}

// Sign returns +1 when flow on the pipe leaves the node for a positive pipe
// flow, -1 when it enters.
func (in Incidence) Sign() float64 {
	if in.Start {
		return 1
	}
	return -1
}
