package solver

import (
	"math"

	"github.com/ritzau/hardy-cross/pkg/hardycross"
	"github.com/ritzau/hardy-cross/pkg/network"
	"github.com/ritzau/hardy-cross/pkg/puzzle"
)

// Puzzle response states
const (
	StateComplete = "complete"
	StatePartial  = "partial"
)

// Velocity returns flow / (π·D²/4), or nil when the diameter was not supplied
func Velocity(p network.Pipe, flow float64) *float64 {
	if p.Diameter == nil || *p.Diameter <= 0 {
		return nil
	}
	d := *p.Diameter
	v := flow / (math.Pi * d * d / 4)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func pipeResult(p *Prepared, i int) PipeResult {
	pipe := p.Graph.Pipes[i]
	return PipeResult{
		PipeID:    pipe.ID,
		StartNode: pipe.StartNode,
		EndNode:   pipe.EndNode,
		K:         p.Coeffs[i].K,
		KSource:   p.Coeffs[i].Source,
		KAssumed:  p.Coeffs[i].Assumed,
	}
}

func assembleDarcy(p *Prepared, r *hardycross.Result) *Response {
	resp := &Response{
		Method:     MethodDarcy,
		Converged:  r.Converged,
		Iterations: r.Iterations,
		State:      string(r.State),
		Loops:      len(p.Basis.Loops),
		Results:    make([]PipeResult, p.Graph.NumPipes()),
	}

	for i, q := range r.Flows {
		pr := pipeResult(p, i)
		flow := q
		h := hardycross.HeadLoss(p.K[i], q)
		pr.Flow = &flow
		pr.HeadLoss = &h
		pr.Velocity = Velocity(p.Graph.Pipes[i], q)
		resp.Results[i] = pr
	}

	resp.History = make([]IterationRecord, len(r.History))
	for i, it := range r.History {
		resp.History[i] = iterationRecord(p, it)
	}
	return resp
}

func iterationRecord(p *Prepared, it hardycross.Iteration) IterationRecord {
	rec := IterationRecord{
		Iteration:   it.Number,
		Loops:       make([]LoopRecord, len(it.Loops)),
		Flows:       make(map[string]float64, len(it.Flows)),
		MaxDeltaQ:   it.MaxCorrection,
		MaxResidual: it.MaxResidual,
	}
	for i, q := range it.Flows {
		rec.Flows[p.Graph.Pipes[i].ID] = q
	}
	for i, step := range it.Loops {
		loop := p.Basis.Loops[step.Loop]
		lr := LoopRecord{
			Index:       step.Loop,
			Pipes:       make([]string, len(loop.Members)),
			Nodes:       make([]string, len(loop.Nodes)),
			SumHeadLoss: step.SumHeadLoss,
			DeltaQ:      step.Correction,
		}
		for j, m := range loop.Members {
			lr.Pipes[j] = p.Graph.Pipes[m.Pipe].ID
		}
		for j, n := range loop.Nodes {
			lr.Nodes[j] = p.Graph.Nodes[n].ID
		}
		rec.Loops[i] = lr
	}
	return rec
}

func assemblePuzzle(p *Prepared, r *puzzle.Result) *Response {
	resp := &Response{
		Method:      MethodPuzzle,
		Converged:   r.Complete(),
		Iterations:  r.Passes,
		State:       StatePartial,
		Loops:       len(p.Basis.Loops),
		Results:     make([]PipeResult, p.Graph.NumPipes()),
		NodeResults: make([]NodeResult, p.Graph.NumNodes()),
	}
	if resp.Converged {
		resp.State = StateComplete
	}

	for i, pv := range r.Pipes {
		pr := pipeResult(p, i)
		pr.FlowStatus = pv.FlowStatus
		pr.HeadLossStatus = pv.HeadLossStatus
		if pv.FlowStatus.Known() {
			flow := pv.Flow
			pr.Flow = &flow
			pr.Velocity = Velocity(p.Graph.Pipes[i], flow)
		}
		if pv.HeadLossStatus.Known() {
			h := pv.HeadLoss
			pr.HeadLoss = &h
		}
		resp.Results[i] = pr
	}

	for i, nv := range r.Nodes {
		nr := NodeResult{
			NodeID:   p.Graph.Nodes[i].ID,
			IsSolved: nv.Solved(),
			Status:   nv.Status,
		}
		if nv.Status.Known() {
			d := nv.Demand
			nr.Demand = &d
		}
		resp.NodeResults[i] = nr
	}

	resp.Deductions = make([]DeductionRecord, len(r.Deductions))
	for i, d := range r.Deductions {
		id := ""
		if d.Kind == puzzle.KindDemand {
			id = p.Graph.Nodes[d.Index].ID
		} else {
			id = p.Graph.Pipes[d.Index].ID
		}
		resp.Deductions[i] = DeductionRecord{
			Pass:  d.Pass,
			Rule:  d.Rule,
			Kind:  d.Kind,
			ID:    id,
			Value: d.Value,
		}
	}
	return resp
}
