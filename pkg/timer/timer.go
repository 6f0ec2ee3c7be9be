// Package timer implements the timer registry: a map of server-
// announced timers, each running its own countdown, emitting TimerFinished
// and notifying the event fan-out when it reaches zero.
package timer

import (
	"fmt"
	"time"
)

// Timer mirrors the server-announced timer state. RemainingSeconds is a
// derived projection: verbatim while paused, otherwise computed from
// StartedAt.
type Timer struct {
	ID               string
	Name             string
	TotalSeconds     float64
	RemainingSeconds float64
	IsActive         bool
	StartedAt        time.Time
	IsPaused         bool
	PausedAt         time.Time
}

// Snapshot projects RemainingSeconds as of now. A zero StartedAt means the
// stored value is already current and no elapsed time is subtracted.
func (t Timer) Snapshot(now time.Time) Timer {
	if !t.IsPaused && !t.StartedAt.IsZero() {
		elapsed := now.Sub(t.StartedAt).Seconds()
		t.RemainingSeconds -= elapsed
		t.StartedAt = now
	}
	return t
}

// FormatRemaining renders the timer's remaining time as "M:SS" for hook
// payloads and debug logging.
func (t Timer) FormatRemaining() string {
	remaining := t.RemainingSeconds
	if remaining < 0 {
		remaining = 0
	}
	minutes := int(remaining) / 60
	seconds := int(remaining) % 60
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
