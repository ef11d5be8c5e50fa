// Package pubsub fans solve progress and solutions out to live subscribers.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// Topics published by the watch-mode runner
const (
	TopicSolveStatus = "solve_status" // Progress of the current solve run
	TopicSolution    = "solution"     // Latest solution of the watched network
)

// ErrClosed is returned once the publisher has shut down
var ErrClosed = errors.New("publisher is closed")

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "solve_status", "solution")
	Type    string          `json:"type"`    // Event type (e.g., "loading", "solving", "solved", "failed")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Per-topic sequence number
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	Topic() string
	Events() <-chan Event
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic.
	// Context cancellation will close the subscription.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Latest returns the most recent buffered event of a topic
	Latest(topic string) (Event, bool)

	Close() error
}

// SolveStatus is the payload of solve_status events
type SolveStatus struct {
	RunID   string `json:"run_id"`  // Identifies one solve run across its events
	State   string `json:"state"`   // loading, solving, solved, failed
	File    string `json:"file"`    // Network file being solved
	Message string `json:"message"` // Human-readable status message
	Step    int    `json:"step"`    // Current step number (1-based)
	Total   int    `json:"total"`   // Total number of steps
}
