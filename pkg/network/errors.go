package network

import (
	"errors"
	"fmt"
)

// ErrTopology classifies every error that rejects a network before any
// computation: dangling references, duplicate ids, non-finite values and
// unbalanced demand.
var ErrTopology = errors.New("invalid network topology")

// TopologyError is returned when a node or pipe cannot be placed in the graph
type TopologyError struct {
	Pipe   string // Offending pipe id
	Node   string // Referenced node id, if any
	Reason string
}

func (e *TopologyError) Error() string {
	switch {
	case e.Pipe != "" && e.Node != "":
		return fmt.Sprintf("pipe %q: %s %q", e.Pipe, e.Reason, e.Node)
	case e.Pipe != "":
		return fmt.Sprintf("pipe %q: %s", e.Pipe, e.Reason)
	default:
		return e.Reason
	}
}

func (e *TopologyError) Is(target error) bool {
	return target == ErrTopology
}

// DuplicateIDError is returned when two nodes or two pipes share an id
type DuplicateIDError struct {
	Kind string // "node" or "pipe"
	ID   string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate %s id %q", e.Kind, e.ID)
}

func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrTopology
}

// ValueError is returned when a demand or a given value is NaN or infinite
type ValueError struct {
	Kind  string // "node" or "pipe"
	ID    string
	Field string
	Value float64
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s %q: %s must be a finite number, got %g", e.Kind, e.ID, e.Field, e.Value)
}

func (e *ValueError) Is(target error) bool {
	return target == ErrTopology
}

// ImbalanceError is returned when the demands of a connected component do
// not sum to zero, so no flow distribution can satisfy continuity.
type ImbalanceError struct {
	Component []string // Node ids of the component
	Sum       float64
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("demands of component %v sum to %g, expected 0", e.Component, e.Sum)
}

func (e *ImbalanceError) Is(target error) bool {
	return target == ErrTopology
}
