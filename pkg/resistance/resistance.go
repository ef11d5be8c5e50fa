// Package resistance derives the flow-resistance coefficient K of each pipe,
// the factor relating head loss to flow in h_f = K·Q·|Q|.
package resistance

import (
	"errors"
	"fmt"
	"math"

	"github.com/ritzau/hardy-cross/pkg/network"
)

const (
	// Gravity is the gravitational acceleration in m/s²
	Gravity = 9.81

	// DefaultFriction is the Darcy friction factor used when a pipe has none
	DefaultFriction = 0.02
)

// Source tells where a coefficient came from
type Source string

const (
	SourceProvided   Source = "provided"   // Supplied by the caller
	SourceCalculated Source = "calculated" // Derived from length, diameter and friction
)

// ErrInsufficientData classifies pipes whose data cannot yield a usable K
var ErrInsufficientData = errors.New("insufficient pipe data")

// InsufficientDataError reports a pipe whose coefficient would be negative,
// non-finite or undefined.
type InsufficientDataError struct {
	Pipe   string
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("pipe %q: %s", e.Pipe, e.Reason)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// Coefficient is a pipe's resolved resistance
type Coefficient struct {
	K      float64
	Source Source

	// Assumed is set when a unit length or diameter stood in for a missing
	// value, so K is only comparable, not physical.
	Assumed bool
}

// Darcy returns K = 8·f·L / (π²·g·D⁵)
func Darcy(length, diameter, friction float64) float64 {
	return 8 * friction * length / (math.Pi * math.Pi * Gravity * math.Pow(diameter, 5))
}

// For resolves the coefficient of a single pipe
func For(p network.Pipe) (Coefficient, error) {
	if p.Resistance != nil {
		k := *p.Resistance
		if !isFinite(k) || k < 0 {
			return Coefficient{}, &InsufficientDataError{Pipe: p.ID, Reason: fmt.Sprintf("resistance %g is not a non-negative finite number", k)}
		}
		return Coefficient{K: k, Source: SourceProvided}, nil
	}

	c := Coefficient{Source: SourceCalculated}

	length := 1.0
	if p.Length != nil {
		length = *p.Length
	} else {
		c.Assumed = true
	}
	diameter := 1.0
	if p.Diameter != nil {
		diameter = *p.Diameter
	} else {
		c.Assumed = true
	}
	friction := DefaultFriction
	if p.Roughness != nil {
		friction = *p.Roughness
	}

	switch {
	case !isFinite(length) || length < 0:
		return Coefficient{}, &InsufficientDataError{Pipe: p.ID, Reason: fmt.Sprintf("invalid length %g", length)}
	case !isFinite(diameter) || diameter <= 0:
		return Coefficient{}, &InsufficientDataError{Pipe: p.ID, Reason: fmt.Sprintf("invalid diameter %g", diameter)}
	case !isFinite(friction) || friction < 0:
		return Coefficient{}, &InsufficientDataError{Pipe: p.ID, Reason: fmt.Sprintf("invalid friction factor %g", friction)}
	}

	c.K = Darcy(length, diameter, friction)
	if !isFinite(c.K) {
		return Coefficient{}, &InsufficientDataError{Pipe: p.ID, Reason: "resistance overflows for the given dimensions"}
	}
	return c, nil
}

// All resolves the coefficient of every pipe of the graph, by pipe index
func All(g *network.Graph) ([]Coefficient, error) {
	coeffs := make([]Coefficient, g.NumPipes())
	for i, p := range g.Pipes {
		c, err := For(p)
		if err != nil {
			return nil, err
		}
		coeffs[i] = c
	}
	return coeffs, nil
}

// Values extracts the K of each coefficient
func Values(coeffs []Coefficient) []float64 {
	ks := make([]float64, len(coeffs))
	for i, c := range coeffs {
		ks[i] = c.K
	}
	return ks
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
