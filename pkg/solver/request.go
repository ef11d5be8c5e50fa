package solver

import (
	"github.com/ritzau/hardy-cross/pkg/network"
	"github.com/ritzau/hardy-cross/pkg/puzzle"
	"github.com/ritzau/hardy-cross/pkg/resistance"
)

// Method selects the solving strategy
type Method string

const (
	MethodDarcy  Method = "darcy"  // Iterative Hardy-Cross with Darcy-Weisbach resistance
	MethodPuzzle Method = "puzzle" // Deduction of missing values from the givens
)

// Fluid properties are accepted for forward compatibility. The engine only
// consumes the pipes' friction factors.
type Fluid struct {
	Density     *float64 `json:"density,omitempty" yaml:"density,omitempty" toml:"density,omitempty"`
	Viscosity   *float64 `json:"viscosity,omitempty" yaml:"viscosity,omitempty" toml:"viscosity,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
}

// RequestOptions override the server's convergence settings for one request
type RequestOptions struct {
	MaxIterations int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" toml:"max_iterations,omitempty"`
	Tolerance     float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty" toml:"tolerance,omitempty"`
}

// Request is one solve (or initialize) call
type Request struct {
	Method  Method          `json:"method,omitempty" yaml:"method,omitempty" toml:"method,omitempty"`
	Nodes   []network.Node  `json:"nodes" yaml:"nodes" toml:"nodes"`
	Pipes   []network.Pipe  `json:"pipes" yaml:"pipes" toml:"pipes"`
	Fluid   *Fluid          `json:"fluid,omitempty" yaml:"fluid,omitempty" toml:"fluid,omitempty"`
	Options *RequestOptions `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// PipeResult is the solved state of one pipe. Flow and HeadLoss are null
// when puzzle mode could not determine them.
type PipeResult struct {
	PipeID    string            `json:"pipe_id"`
	StartNode string            `json:"start_node"`
	EndNode   string            `json:"end_node"`
	Flow      *float64          `json:"flow"`
	Velocity  *float64          `json:"velocity,omitempty"`
	HeadLoss  *float64          `json:"head_loss"`
	K         float64           `json:"K"`
	KSource   resistance.Source `json:"K_source"`
	KAssumed  bool              `json:"K_assumed,omitempty"` // Unit length or diameter stood in for missing data

	// Puzzle mode provenance
	FlowStatus     puzzle.Status `json:"flow_status,omitempty"`
	HeadLossStatus puzzle.Status `json:"head_loss_status,omitempty"`
}

// NodeResult is the state of one node (puzzle mode)
type NodeResult struct {
	NodeID   string        `json:"node_id"`
	Demand   *float64      `json:"demand"`
	IsSolved bool          `json:"is_solved"`
	Status   puzzle.Status `json:"status"`
}

// LoopRecord is one loop's correction within an iteration
type LoopRecord struct {
	Index       int      `json:"index"`
	Pipes       []string `json:"pipes"`
	Nodes       []string `json:"nodes"`
	SumHeadLoss float64  `json:"sum_head_loss"`
	DeltaQ      float64  `json:"delta_Q"`
}

// IterationRecord is one Hardy-Cross iteration, for diagnostic replay
type IterationRecord struct {
	Iteration   int                `json:"iteration"`
	Loops       []LoopRecord       `json:"loops"`
	Flows       map[string]float64 `json:"flows"`
	MaxDeltaQ   float64            `json:"max_delta_Q"`
	MaxResidual float64            `json:"max_residual"`
}

// DeductionRecord is one value found in puzzle mode
type DeductionRecord struct {
	Pass  int         `json:"pass"`
	Rule  puzzle.Rule `json:"rule"`
	Kind  puzzle.Kind `json:"kind"`
	ID    string      `json:"id"` // Pipe id, or node id for demands
	Value float64     `json:"value"`
}

// Response is the solution of one request
type Response struct {
	Method      Method            `json:"method"`
	Converged   bool              `json:"converged"`
	Iterations  int               `json:"iterations"`
	State       string            `json:"state"`
	Loops       int               `json:"loops"`
	Results     []PipeResult      `json:"results"`
	NodeResults []NodeResult      `json:"node_results,omitempty"`
	History     []IterationRecord `json:"history,omitempty"`
	Deductions  []DeductionRecord `json:"deductions,omitempty"`
}

// InitialFlow is the starting flow of one pipe
type InitialFlow struct {
	PipeID  string  `json:"pipe_id"`
	Flow    float64 `json:"flow"`
	Closing bool    `json:"closing"` // Outside the spanning tree; the flow was given or zero
}

// Initialization is the continuity-satisfying starting point of a solve
type Initialization struct {
	Flows       []InitialFlow `json:"flows"`
	Loops       int           `json:"loops"`
	MaxResidual float64       `json:"max_residual"` // Largest node imbalance, zero up to rounding
}
