package timer

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/events"
)

type cmdKind int

const (
	cmdStarted cmdKind = iota
	cmdUpdated
	cmdCancelled
	cmdFire
)

type command struct {
	kind  cmdKind
	timer Timer
	id    string
	gen   int
}

type entry struct {
	timer  Timer
	gen    int
	cancel context.CancelFunc
}

// Registry is the single actor owning the id->Timer map. All mutation
// happens on its own goroutine via Run, so concurrent OnStarted/OnUpdated/
// OnCancelled calls from the main server listener are linearized.
type Registry struct {
	inbox  chan command
	emit   func(events.Event)
	logger *slog.Logger

	entries map[string]*entry
}

// NewRegistry builds a Registry. emit is called (from the registry's own
// goroutine, so synchronously relative to other registry events) for every
// TimerStarted/Updated/Cancelled/Finished transition.
func NewRegistry(emit func(events.Event), logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		inbox:   make(chan command, 64),
		emit:    emit,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// OnStarted inserts or replaces a timer and schedules its countdown.
func (r *Registry) OnStarted(t Timer) { r.inbox <- command{kind: cmdStarted, timer: t} }

// OnUpdated diffs against the stored timer and reschedules.
func (r *Registry) OnUpdated(t Timer) { r.inbox <- command{kind: cmdUpdated, timer: t} }

// OnCancelled removes a timer; a miss is logged at debug and is otherwise
// a no-op.
func (r *Registry) OnCancelled(id string) { r.inbox <- command{kind: cmdCancelled, id: id} }

// Run is the registry actor's main loop.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for _, e := range r.entries {
				e.cancel()
			}
			return nil
		case cmd := <-r.inbox:
			r.handle(ctx, cmd)
		}
	}
}

func (r *Registry) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStarted:
		r.handleStarted(ctx, cmd.timer)
	case cmdUpdated:
		r.handleUpdated(ctx, cmd.timer)
	case cmdCancelled:
		r.handleCancelled(cmd.id)
	case cmdFire:
		r.handleFire(cmd.id, cmd.gen)
	}
}

func (r *Registry) handleStarted(ctx context.Context, t Timer) {
	if prev, ok := r.entries[t.ID]; ok {
		prev.cancel()
	}
	r.schedule(ctx, t)
	r.emit(events.Event{Kind: events.TimerStarted, Timer: toInfo(t)})
}

func (r *Registry) handleUpdated(ctx context.Context, t Timer) {
	prev, ok := r.entries[t.ID]
	if !ok {
		// Update for an id we've never seen: treat as a fresh start so
		// OnUpdated is well-defined even without a prior OnStarted.
		r.schedule(ctx, t)
		r.emit(events.Event{Kind: events.TimerUpdated, Timer: toInfo(t)})
		return
	}
	if sameTimer(prev.timer, t) {
		// OnUpdated applied twice equals once applied.
		return
	}
	prev.cancel()
	r.schedule(ctx, t)
	r.emit(events.Event{Kind: events.TimerUpdated, Timer: toInfo(t)})
}

func (r *Registry) handleCancelled(id string) {
	e, ok := r.entries[id]
	if !ok {
		r.logger.Debug("timer-cancelled for unknown id, ignoring", "id", id)
		return
	}
	e.cancel()
	delete(r.entries, id)
	r.emit(events.Event{Kind: events.TimerCancelled, TimerID: id})
}

func (r *Registry) handleFire(id string, gen int) {
	e, ok := r.entries[id]
	if !ok || e.gen != gen {
		return // stale fire raced with a reschedule or cancellation
	}
	delete(r.entries, id)
	r.emit(events.Event{Kind: events.TimerFinished, TimerID: id})
}

func (r *Registry) schedule(ctx context.Context, t Timer) {
	entryCtx, cancel := context.WithCancel(ctx)
	gen := 0
	if prev, ok := r.entries[t.ID]; ok {
		gen = prev.gen + 1
	}
	r.entries[t.ID] = &entry{timer: t, gen: gen, cancel: cancel}

	if t.IsPaused {
		return
	}

	remaining := time.Duration(t.RemainingSeconds * float64(time.Second))
	if remaining < 0 {
		remaining = 0
	}
	go func(id string, gen int, d time.Duration) {
		select {
		case <-time.After(d):
			select {
			case r.inbox <- command{kind: cmdFire, id: id, gen: gen}:
			case <-entryCtx.Done():
			}
		case <-entryCtx.Done():
		}
	}(t.ID, gen, remaining)
}

func sameTimer(a, b Timer) bool {
	return a.ID == b.ID && a.Name == b.Name && a.TotalSeconds == b.TotalSeconds &&
		a.RemainingSeconds == b.RemainingSeconds && a.IsActive == b.IsActive && a.IsPaused == b.IsPaused
}

// toInfo projects the timer as of now so event consumers see the current
// remaining time, not the value the server announced at start.
func toInfo(t Timer) *events.TimerInfo {
	snap := t.Snapshot(time.Now())
	return &events.TimerInfo{
		ID: snap.ID, Name: snap.Name, TotalSeconds: snap.TotalSeconds,
		RemainingSeconds: snap.RemainingSeconds, RemainingDisplay: snap.FormatRemaining(),
		IsActive: snap.IsActive, IsPaused: snap.IsPaused,
	}
}
