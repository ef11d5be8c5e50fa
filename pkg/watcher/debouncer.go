package watcher

import (
	"context"
	"time"

	"github.com/ritzau/hardy-cross/pkg/logging"
)

// Debouncer merges rapid change batches so a burst of saves triggers one
// re-solve. It flushes after quietPeriod without events, or after maxWait
// since the first unflushed event, whichever comes first.
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 4),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet    *time.Timer
		deadline *time.Timer
		paths    []string
		seen     = make(map[string]bool)
		batches  int
	)

	stop := func() {
		if quiet != nil {
			quiet.Stop()
			quiet = nil
		}
		if deadline != nil {
			deadline.Stop()
			deadline = nil
		}
	}

	flush := func() {
		stop()
		if len(paths) == 0 {
			return
		}
		logging.Debug("flushing debounced changes", "batches", batches, "files", len(paths))
		select {
		case d.output <- ChangeEvent{Paths: paths, Timestamp: time.Now()}:
		case <-ctx.Done():
		}
		paths = nil
		seen = make(map[string]bool)
		batches = 0
	}

	timerC := func(t *time.Timer) <-chan time.Time {
		if t == nil {
			return nil
		}
		return t.C
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			for _, p := range event.Paths {
				if !seen[p] {
					seen[p] = true
					paths = append(paths, p)
				}
			}
			batches++

			if quiet == nil {
				quiet = time.NewTimer(d.quietPeriod)
			} else {
				quiet.Reset(d.quietPeriod)
			}
			if deadline == nil {
				deadline = time.NewTimer(d.maxWait)
			}

		case <-timerC(quiet):
			flush()

		case <-timerC(deadline):
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
