// Package hardycross balances head loss around the independent loops of a
// pipe network with the Hardy-Cross correction method.
//
// Each iteration evaluates, for every loop, the head-loss sum Σ(s·K·Q·|Q|)
// and the sensitivity Σ(2·K·|Q|) from the flows at the start of the
// iteration. For a loop on its own the correction is
//
//	ΔQ = −Σ(s·K·Q·|Q|) / Σ(2·K·|Q|)
//
// Loops that share pipes pull on each other, so the corrections of all loops
// are solved together: the sensitivities form the diagonal of a symmetric
// system whose off-diagonal terms are ±2·K·|Q| of the shared pipes. The step
// is then shortened until the network energy Σ K·|Q|³/3 decreases, which
// keeps meshes with many overlapping loops from overshooting.
//
// Corrections travel around closed loops, so continuity established by the
// initial assignment is preserved.
package hardycross

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ritzau/hardy-cross/pkg/logging"
	"github.com/ritzau/hardy-cross/pkg/loops"
)

// State is the iterator state
type State string

const (
	StateInitializing         State = "initializing"
	StateIterating            State = "iterating"
	StateConverged            State = "converged"
	StateMaxIterationsReached State = "max_iterations_reached"
)

const (
	DefaultMaxIterations = 50
	DefaultTolerance     = 1e-6

	// minSensitivity guards the correction denominator. Loops whose pipes
	// all carry (almost) no flow get no correction for that iteration.
	minSensitivity = 1e-12

	// Step-length control: accept a step once the energy drops by at least
	// armijo times the predicted decrease, halving at most maxHalvings times.
	armijo      = 1e-4
	maxHalvings = 40
)

// Options controls convergence
type Options struct {
	MaxIterations int     // Iteration cap (default 50)
	Tolerance     float64 // Largest acceptable |Σh_f| of any loop (default 1e-6)
}

// DefaultOptions returns the default convergence settings
func DefaultOptions() Options {
	return Options{MaxIterations: DefaultMaxIterations, Tolerance: DefaultTolerance}
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Tolerance <= 0 || math.IsNaN(o.Tolerance) {
		o.Tolerance = DefaultTolerance
	}
	return o
}

// LoopStep is the correction computed for one loop in one iteration
type LoopStep struct {
	Loop        int     // Index into the loop basis
	SumHeadLoss float64 // Σ s·K·Q·|Q| before the correction
	Sensitivity float64 // Σ 2·K·|Q| before the correction
	Correction  float64 // ΔQ applied along the loop direction
	Degenerate  bool    // Sensitivity was zero, no correction applied
}

// Iteration records one pass over all loops
type Iteration struct {
	Number        int        // 1-based
	Loops         []LoopStep // One per loop, in basis order
	Flows         []float64  // Pipe flows after the corrections
	MaxCorrection float64    // max |ΔQ|
	MaxResidual   float64    // max |Σh_f| evaluated with the new flows
}

// Result is the outcome of a run. The caller owns all slices.
//
// A run that stops without converging returns the best flows it saw, i.e.
// those with the smallest MaxResidual, and Best names their iteration.
type Result struct {
	Flows      []float64
	State      State
	Converged  bool
	Iterations int
	Best       int // Iteration whose flows are returned, 0 for the initial flows
	History    []Iteration
	Residuals  []float64 // Σh_f per loop for the returned flows
}

// HeadLoss returns K·Q·|Q|
func HeadLoss(k, q float64) float64 {
	return k * q * math.Abs(q)
}

// LoopHeadLoss returns the signed head loss sum and the sensitivity of a loop
func LoopHeadLoss(loop loops.Loop, k, flows []float64) (sum, sensitivity float64) {
	for _, m := range loop.Members {
		q := flows[m.Pipe]
		sum += m.Sign * HeadLoss(k[m.Pipe], q)
		sensitivity += 2 * k[m.Pipe] * math.Abs(q)
	}
	return sum, sensitivity
}

// Run iterates from the initial flows until every loop balances or the
// iteration cap is reached. initial is not modified.
func Run(ctx context.Context, basis *loops.Basis, k, initial []float64, opts Options) *Result {
	opts = opts.withDefaults()

	r := &Result{
		Flows: append([]float64(nil), initial...),
		State: StateInitializing,
	}

	if basis.IsTree() {
		// The initial assignment is the unique solution
		r.State = StateConverged
		r.Converged = true
		return r
	}

	shares := sharing(basis, len(k))
	best := bestIterate{
		flows:    append([]float64(nil), initial...),
		residual: maxResidual(basis, k, initial),
	}
	trial := make([]float64, len(k))
	corrections := make([]float64, len(basis.Loops))
	residuals := make([]float64, len(basis.Loops))

	r.State = StateIterating
	for iter := 1; iter <= opts.MaxIterations; iter++ {
		step := Iteration{
			Number: iter,
			Loops:  make([]LoopStep, len(basis.Loops)),
		}

		// All corrections come from the flows at the start of the iteration
		finite := true
		for li, loop := range basis.Loops {
			sum, sens := LoopHeadLoss(loop, k, r.Flows)
			step.Loops[li] = LoopStep{
				Loop:        li,
				SumHeadLoss: sum,
				Sensitivity: sens,
				Degenerate:  sens < minSensitivity,
			}
			finite = finite && isFinite(sum) && isFinite(sens)
		}
		if !finite {
			logging.WarnContext(ctx, "hardy-cross head losses overflowed, stopping", "iteration", iter)
			break
		}

		dq := solveCorrections(basis, shares, k, r.Flows, step.Loops)
		t := lineSearch(basis, k, r.Flows, trial, step.Loops, dq)
		if !allFinite(trial) {
			logging.WarnContext(ctx, "hardy-cross flows diverged, stopping", "iteration", iter)
			break
		}
		copy(r.Flows, trial)

		for li := range basis.Loops {
			step.Loops[li].Correction = t * dq[li]
			corrections[li] = math.Abs(step.Loops[li].Correction)
		}
		for li, loop := range basis.Loops {
			sum, _ := LoopHeadLoss(loop, k, r.Flows)
			residuals[li] = math.Abs(sum)
		}

		step.Flows = append([]float64(nil), r.Flows...)
		step.MaxCorrection = floats.Max(corrections)
		step.MaxResidual = floats.Max(residuals)
		r.History = append(r.History, step)
		r.Iterations = iter
		best.offer(iter, r.Flows, step.MaxResidual)

		logging.TraceContext(ctx, "hardy-cross iteration",
			"iteration", iter,
			"step", t,
			"maxCorrection", step.MaxCorrection,
			"maxResidual", step.MaxResidual,
		)

		if step.MaxResidual <= opts.Tolerance {
			r.State = StateConverged
			r.Converged = true
			r.Best = iter
			break
		}
	}

	if !r.Converged {
		r.State = StateMaxIterationsReached
		r.Flows = best.flows
		r.Best = best.iteration
		logging.WarnContext(ctx, "hardy-cross did not converge",
			"iterations", r.Iterations,
			"bestIteration", best.iteration,
			"bestResidual", best.residual,
			"tolerance", opts.Tolerance,
		)
	}

	r.Residuals = make([]float64, len(basis.Loops))
	for li, loop := range basis.Loops {
		r.Residuals[li], _ = LoopHeadLoss(loop, k, r.Flows)
	}
	return r
}

// loopRef is one loop passing through a pipe
type loopRef struct {
	loop int
	sign float64
}

// sharing lists, per pipe, the loops that walk it
func sharing(basis *loops.Basis, pipes int) [][]loopRef {
	shares := make([][]loopRef, pipes)
	for li, loop := range basis.Loops {
		for _, m := range loop.Members {
			shares[m.Pipe] = append(shares[m.Pipe], loopRef{loop: li, sign: m.Sign})
		}
	}
	return shares
}

// solveCorrections returns the loop corrections for the given flows.
// Degenerate loops are left out of the system and get zero. When the coupled
// system is singular each loop falls back to its own Hardy-Cross correction,
// divided by the largest number of loops sharing one of its pipes.
func solveCorrections(basis *loops.Basis, shares [][]loopRef, k, flows []float64, steps []LoopStep) []float64 {
	dq := make([]float64, len(steps))

	row := make([]int, len(steps))
	var active []int
	for li, s := range steps {
		row[li] = -1
		if !s.Degenerate {
			row[li] = len(active)
			active = append(active, li)
		}
	}
	if len(active) == 0 {
		return dq
	}

	n := len(active)
	jac := mat.NewSymDense(n, nil)
	rhs := mat.NewVecDense(n, nil)
	for i, li := range active {
		rhs.SetVec(i, -steps[li].SumHeadLoss)
	}
	for p, refs := range shares {
		w := 2 * k[p] * math.Abs(flows[p])
		if w == 0 {
			continue
		}
		for a := range refs {
			i := row[refs[a].loop]
			if i < 0 {
				continue
			}
			for b := a; b < len(refs); b++ {
				j := row[refs[b].loop]
				if j < 0 {
					continue
				}
				jac.SetSym(i, j, jac.At(i, j)+refs[a].sign*refs[b].sign*w)
			}
		}
	}

	var chol mat.Cholesky
	if chol.Factorize(jac) {
		var x mat.VecDense
		if err := chol.SolveVecTo(&x, rhs); err == nil {
			ok := true
			for i := range active {
				ok = ok && isFinite(x.AtVec(i))
			}
			if ok {
				for i, li := range active {
					dq[li] = x.AtVec(i)
				}
				return dq
			}
		}
	}

	for _, li := range active {
		shared := 1
		for _, m := range basis.Loops[li].Members {
			shared = max(shared, len(shares[m.Pipe]))
		}
		dq[li] = -steps[li].SumHeadLoss / steps[li].Sensitivity / float64(shared)
	}
	return dq
}

// lineSearch writes flows shifted by t·dq into trial and returns t, the
// longest step in 1, 1/2, 1/4, ... that lowers the energy enough. The loop
// head-loss sums are the energy's gradient along the loops.
func lineSearch(basis *loops.Basis, k, flows, trial []float64, steps []LoopStep, dq []float64) float64 {
	slope := 0.0
	for li, s := range steps {
		slope += s.SumHeadLoss * dq[li]
	}
	e0 := energy(k, flows)

	t := 1.0
	for i := 0; ; i++ {
		copy(trial, flows)
		for li, loop := range basis.Loops {
			for _, m := range loop.Members {
				trial[m.Pipe] += m.Sign * t * dq[li]
			}
		}
		if energy(k, trial) <= e0+armijo*t*slope || i == maxHalvings {
			return t
		}
		t /= 2
	}
}

// energy is Σ K·|Q|³/3. Its minimum over flows that satisfy continuity is the
// balanced network.
func energy(k, flows []float64) float64 {
	e := 0.0
	for p, q := range flows {
		a := math.Abs(q)
		e += k[p] * a * a * a / 3
	}
	return e
}

func maxResidual(basis *loops.Basis, k, flows []float64) float64 {
	worst := 0.0
	for _, loop := range basis.Loops {
		sum, _ := LoopHeadLoss(loop, k, flows)
		worst = math.Max(worst, math.Abs(sum))
	}
	return worst
}

// bestIterate remembers the flows with the smallest loop residual
type bestIterate struct {
	iteration int
	flows     []float64
	residual  float64
}

func (b *bestIterate) offer(iteration int, flows []float64, residual float64) {
	if residual < b.residual || math.IsNaN(b.residual) {
		b.iteration = iteration
		b.flows = append(b.flows[:0], flows...)
		b.residual = residual
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(vs []float64) bool {
	for _, v := range vs {
		if !isFinite(v) {
			return false
		}
	}
	return true
}
