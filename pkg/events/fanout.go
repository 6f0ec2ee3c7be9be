package events

import (
	"context"
	"log/slog"
)

// Sink is one parallel destination for lifecycle events.
type Sink interface {
	Deliver(ev Event)
}

// FanOut is the single ordered dispatcher task: events are delivered
// to every configured sink in the order the state machine observed them,
// and sinks are invoked sequentially so a slow sink cannot reorder a fast
// one's view relative to a third sink.
type FanOut struct {
	sinks  []Sink
	inbox  chan Event
	logger *slog.Logger
}

// NewFanOut wires a fixed sink list. nil/empty sinks are skipped.
func NewFanOut(logger *slog.Logger, sinks ...Sink) *FanOut {
	if logger == nil {
		logger = slog.Default()
	}
	var filtered []Sink
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &FanOut{sinks: filtered, inbox: make(chan Event, 256), logger: logger}
}

// Enqueue hands an event to the dispatcher without blocking the state
// machine on sink delivery. Order is preserved because inbox is a single
// channel with one reader.
func (f *FanOut) Enqueue(ev Event) {
	select {
	case f.inbox <- ev:
	default:
		f.logger.Warn("fan-out inbox full, event delivery order cannot be preserved further; dropping", "kind", ev.Kind)
	}
}

// Run drains the inbox and delivers each event to every sink in order
// until ctx is cancelled.
func (f *FanOut) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.inbox:
			for _, s := range f.sinks {
				s.Deliver(ev)
			}
		}
	}
}
