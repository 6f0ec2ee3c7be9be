package events

import "github.com/rhasspy/wyoming-satellite/pkg/wyoming"

// EventPeerSink forwards every lifecycle event to an external event peer
// as a framed message carrying the event's canonical type and data.
// Delivery is best-effort: the peer's own outbound queue and reconnect
// logic apply.
type EventPeerSink struct {
	peer *wyoming.Peer
}

func NewEventPeerSink(peer *wyoming.Peer) *EventPeerSink {
	return &EventPeerSink{peer: peer}
}

func (s *EventPeerSink) Deliver(ev Event) {
	data := map[string]any{}
	if ev.Name != "" {
		data["name"] = ev.Name
	}
	if ev.Text != "" {
		data["text"] = ev.Text
	}
	if ev.TimerID != "" {
		data["id"] = ev.TimerID
	}
	if ev.Timer != nil {
		data["id"] = ev.Timer.ID
		data["name"] = ev.Timer.Name
		data["total_seconds"] = ev.Timer.TotalSeconds
		data["remaining_seconds"] = ev.Timer.RemainingSeconds
		data["remaining_display"] = ev.Timer.RemainingDisplay
		data["is_active"] = ev.Timer.IsActive
		data["is_paused"] = ev.Timer.IsPaused
	}
	for k, v := range ev.Raw {
		data[k] = v
	}

	s.peer.Publish(wyoming.Frame{Type: string(ev.Kind), Data: data})
}
