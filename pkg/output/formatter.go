package output

import (
	"fmt"
	"io"
	"math"

	"github.com/fatih/color"

	"github.com/ritzau/hardy-cross/pkg/puzzle"
	"github.com/ritzau/hardy-cross/pkg/solver"
)

// PrintSolution prints a colored report of one solved network
func PrintSolution(w io.Writer, source string, resp *solver.Response) {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	bold.Fprintln(w, "Hardy-Cross Pipe Network Solution")
	bold.Fprintln(w, "=================================")
	fmt.Fprintf(w, "Network: %s\n", source)
	fmt.Fprintf(w, "Method:  %s\n", resp.Method)
	fmt.Fprintf(w, "Loops:   %d\n", resp.Loops)

	switch {
	case resp.Converged && resp.Method == solver.MethodPuzzle:
		green.Fprintf(w, "Status:  all values deduced in %d pass(es)\n", resp.Iterations)
	case resp.Converged:
		green.Fprintf(w, "Status:  converged after %d iteration(s)\n", resp.Iterations)
	case resp.Method == solver.MethodPuzzle:
		yellow.Fprintf(w, "Status:  partial, %d pass(es), some values remain unknown\n", resp.Iterations)
	default:
		red.Fprintf(w, "Status:  not converged after %d iteration(s)\n", resp.Iterations)
	}
	fmt.Fprintln(w)

	bold.Fprintf(w, "%-10s %-14s %12s %12s %12s %12s\n", "PIPE", "NODES", "FLOW", "VELOCITY", "HEAD LOSS", "K")
	assumed := 0
	for _, p := range resp.Results {
		k := formatK(p)
		if p.KAssumed {
			assumed++
		}
		fmt.Fprintf(w, "%-10s %-14s %12s %12s %12s ",
			p.PipeID,
			p.StartNode+"->"+p.EndNode,
			formatValue(p.Flow, p.FlowStatus),
			formatValue(p.Velocity, ""),
			formatValue(p.HeadLoss, p.HeadLossStatus),
		)
		if p.KAssumed {
			yellow.Fprintf(w, "%12s\n", k)
		} else {
			fmt.Fprintf(w, "%12s\n", k)
		}
	}

	if len(resp.NodeResults) > 0 {
		fmt.Fprintln(w)
		bold.Fprintf(w, "%-10s %12s  %s\n", "NODE", "DEMAND", "STATUS")
		for _, n := range resp.NodeResults {
			fmt.Fprintf(w, "%-10s %12s  ", n.NodeID, formatValue(n.Demand, n.Status))
			if n.IsSolved {
				cyan.Fprintln(w, n.Status)
			} else {
				fmt.Fprintln(w, n.Status)
			}
		}
	}

	if assumed > 0 {
		fmt.Fprintln(w)
		yellow.Fprintf(w, "%d pipe(s) use a unit length or diameter; their K is only relative\n", assumed)
	}

	if n := len(resp.History); n > 0 {
		last := resp.History[n-1]
		fmt.Fprintf(w, "\nFinal iteration: max |ΔQ| %.3g, max loop residual %.3g\n", last.MaxDeltaQ, last.MaxResidual)
	}
}

// formatValue renders a number, or its status when the value is unknown
func formatValue(v *float64, status puzzle.Status) string {
	if v == nil {
		if status != "" {
			return string(status)
		}
		return "-"
	}
	if math.Abs(*v) < 5e-13 {
		return "0"
	}
	return fmt.Sprintf("%.6g", *v)
}

func formatK(p solver.PipeResult) string {
	k := fmt.Sprintf("%.4g", p.K)
	if p.KAssumed {
		k += "*"
	}
	return k
}
