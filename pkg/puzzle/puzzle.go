// Package puzzle fills in missing flows, head losses and demands of a pipe
// network by exact algebra on the conservation laws.
//
// Two rules run to a fixpoint:
//
//   - Node rule: a node whose balance has exactly one unknown term (a pipe
//     flow or its own demand) is solved for that term.
//   - Loop rule: a loop with exactly one pipe of unknown head loss is solved
//     from Σh_f = 0 around the loop.
//
// Flow and head loss of a pipe are linked through h_f = K·Q·|Q| whenever K is
// known, so every deduction may unlock further ones. Nothing is approximated:
// values that cannot be pinned down stay unknown.
package puzzle

import (
	"context"
	"math"

	"github.com/ritzau/hardy-cross/pkg/logging"
	"github.com/ritzau/hardy-cross/pkg/loops"
	"github.com/ritzau/hardy-cross/pkg/network"
)

// Status is the provenance of a value
type Status string

const (
	StatusGiven   Status = "given"
	StatusFound   Status = "found"
	StatusUnknown Status = "unknown"
)

// Known reports whether the value is available
func (s Status) Known() bool {
	return s == StatusGiven || s == StatusFound
}

// Rule names the reasoning step behind a deduction
type Rule string

const (
	RuleNode       Rule = "node"       // Conservation of flow at a node
	RuleLoop       Rule = "loop"       // Zero head loss around a loop
	RuleResistance Rule = "resistance" // h_f = K·Q·|Q| in either direction
)

// Kind names the deduced quantity
type Kind string

const (
	KindFlow     Kind = "flow"
	KindHeadLoss Kind = "head_loss"
	KindDemand   Kind = "demand"
)

// Deduction is one value found by the solver
type Deduction struct {
	Pass  int // 0 for values derived from the givens before the first pass
	Rule  Rule
	Kind  Kind
	Index int // Pipe index for flows and head losses, node index for demands
	Value float64
}

// PipeValue holds what is known about a pipe
type PipeValue struct {
	Flow           float64
	FlowStatus     Status
	HeadLoss       float64
	HeadLossStatus Status
}

// NodeValue holds what is known about a node
type NodeValue struct {
	Demand float64
	Status Status
}

// Solved reports whether a previously unknown demand was computed
func (n NodeValue) Solved() bool {
	return n.Status == StatusFound
}

// Input is a prepared network. KKnown marks pipes whose K is exact, i.e.
// supplied or derived without unit-length or unit-diameter assumptions.
type Input struct {
	Graph  *network.Graph
	Basis  *loops.Basis
	K      []float64
	KKnown []bool
}

// Result is the outcome of the deduction. The caller owns all slices.
type Result struct {
	Pipes      []PipeValue
	Nodes      []NodeValue
	Passes     int // Passes that deduced at least one value
	Deductions []Deduction
}

// Complete reports whether every flow, head loss and demand is known
func (r *Result) Complete() bool {
	for _, p := range r.Pipes {
		if !p.FlowStatus.Known() || !p.HeadLossStatus.Known() {
			return false
		}
	}
	for _, n := range r.Nodes {
		if !n.Status.Known() {
			return false
		}
	}
	return true
}

// Unknowns counts the values still missing
func (r *Result) Unknowns() int {
	count := 0
	for _, p := range r.Pipes {
		if !p.FlowStatus.Known() {
			count++
		}
		if !p.HeadLossStatus.Known() {
			count++
		}
	}
	for _, n := range r.Nodes {
		if !n.Status.Known() {
			count++
		}
	}
	return count
}

type solver struct {
	in   Input
	res  *Result
	pass int
}

// Solve runs the node and loop rules until a full pass deduces nothing
func Solve(ctx context.Context, in Input) *Result {
	g := in.Graph
	s := &solver{
		in: in,
		res: &Result{
			Pipes: make([]PipeValue, g.NumPipes()),
			Nodes: make([]NodeValue, g.NumNodes()),
		},
	}

	for i, n := range g.Nodes {
		if n.Demand != nil && isFinite(*n.Demand) {
			s.res.Nodes[i] = NodeValue{Demand: *n.Demand, Status: StatusGiven}
		} else {
			s.res.Nodes[i] = NodeValue{Status: StatusUnknown}
		}
	}
	for i, p := range g.Pipes {
		pv := PipeValue{FlowStatus: StatusUnknown, HeadLossStatus: StatusUnknown}
		if p.GivenFlow != nil && isFinite(*p.GivenFlow) {
			pv.Flow, pv.FlowStatus = *p.GivenFlow, StatusGiven
		}
		if p.GivenHeadLoss != nil && isFinite(*p.GivenHeadLoss) {
			pv.HeadLoss, pv.HeadLossStatus = *p.GivenHeadLoss, StatusGiven
		}
		s.res.Pipes[i] = pv
	}
	for i := range g.Pipes {
		s.link(i)
	}

	// Every productive pass resolves at least one unknown
	limit := s.res.Unknowns() + 1
	for s.pass = 1; s.pass <= limit; s.pass++ {
		progress := s.nodeRule()
		if s.loopRule() {
			progress = true
		}
		if !progress {
			break
		}
		s.res.Passes = s.pass
		logging.TraceContext(ctx, "puzzle pass", "pass", s.pass, "unknowns", s.res.Unknowns())
	}

	logging.DebugContext(ctx, "puzzle deduction finished",
		"passes", s.res.Passes,
		"deductions", len(s.res.Deductions),
		"unknowns", s.res.Unknowns(),
	)
	return s.res
}

// nodeRule applies conservation of flow at every node once
func (s *solver) nodeRule() bool {
	g := s.in.Graph
	progress := false

	for n := range g.Nodes {
		// net = -Σ sign·Q over the known flows
		net := 0.0
		open := 0
		var openPipe network.Incidence
		for _, in := range g.Incident(n) {
			pv := s.res.Pipes[in.Pipe]
			if !pv.FlowStatus.Known() {
				open++
				openPipe = in
				continue
			}
			net -= in.Sign() * pv.Flow
		}

		node := &s.res.Nodes[n]
		switch {
		case node.Status.Known() && open == 1:
			q := (node.Demand + net) / openPipe.Sign()
			if s.setFlow(openPipe.Pipe, q, RuleNode) {
				progress = true
			}
		case !node.Status.Known() && open == 0:
			// demand = Σ sign·Q
			d := -net
			if isFinite(d) {
				node.Demand, node.Status = d, StatusFound
				s.record(RuleNode, KindDemand, n, d)
				progress = true
			}
		}
	}
	return progress
}

// loopRule applies Σh_f = 0 to every loop once
func (s *solver) loopRule() bool {
	progress := false

	for _, loop := range s.in.Basis.Loops {
		sum := 0.0
		open := 0
		var openMember loops.Member
		for _, m := range loop.Members {
			pv := s.res.Pipes[m.Pipe]
			if !pv.HeadLossStatus.Known() {
				open++
				openMember = m
				continue
			}
			sum += m.Sign * pv.HeadLoss
		}
		if open != 1 {
			continue
		}
		// sign·h + sum = 0 and sign² = 1
		if s.setHeadLoss(openMember.Pipe, -openMember.Sign*sum, RuleLoop) {
			progress = true
		}
	}
	return progress
}

// setFlow stores a deduced flow and derives the head loss when K allows
func (s *solver) setFlow(p int, q float64, rule Rule) bool {
	pv := &s.res.Pipes[p]
	if pv.FlowStatus.Known() || !isFinite(q) {
		return false
	}
	pv.Flow, pv.FlowStatus = q, StatusFound
	s.record(rule, KindFlow, p, q)
	s.link(p)
	return true
}

// setHeadLoss stores a deduced head loss and backs out the flow when K allows
func (s *solver) setHeadLoss(p int, h float64, rule Rule) bool {
	pv := &s.res.Pipes[p]
	if pv.HeadLossStatus.Known() || !isFinite(h) {
		return false
	}
	pv.HeadLoss, pv.HeadLossStatus = h, StatusFound
	s.record(rule, KindHeadLoss, p, h)
	s.link(p)
	return true
}

// link fills in whichever of flow and head loss is missing from the other
func (s *solver) link(p int) {
	if !s.in.KKnown[p] {
		return
	}
	k := s.in.K[p]
	pv := &s.res.Pipes[p]

	switch {
	case pv.FlowStatus.Known() && !pv.HeadLossStatus.Known():
		h := k * pv.Flow * math.Abs(pv.Flow)
		if isFinite(h) {
			pv.HeadLoss, pv.HeadLossStatus = h, StatusFound
			s.record(RuleResistance, KindHeadLoss, p, h)
		}
	case pv.HeadLossStatus.Known() && !pv.FlowStatus.Known():
		// A frictionless pipe carries any flow at zero head loss
		if k <= 0 {
			return
		}
		q := math.Copysign(math.Sqrt(math.Abs(pv.HeadLoss)/k), pv.HeadLoss)
		if isFinite(q) {
			pv.Flow, pv.FlowStatus = q, StatusFound
			s.record(RuleResistance, KindFlow, p, q)
		}
	}
}

func (s *solver) record(rule Rule, kind Kind, index int, value float64) {
	s.res.Deductions = append(s.res.Deductions, Deduction{
		Pass:  s.pass,
		Rule:  rule,
		Kind:  kind,
		Index: index,
		Value: value,
	})
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
