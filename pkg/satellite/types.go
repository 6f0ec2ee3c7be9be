// Package satellite implements the satellite state machine: the
// mode-dependent transition table that turns peer and server events into
// audio forwarding decisions and lifecycle events, keeping the event
// fan-out's observation order equal to the order the machine itself saw
// things happen.
package satellite

import (
	"github.com/rhasspy/wyoming-satellite/pkg/audio"
	"github.com/rhasspy/wyoming-satellite/pkg/events"
	"github.com/rhasspy/wyoming-satellite/pkg/timer"
	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

// Mode selects which of the three transition tables governs the machine.
type Mode int

const (
	Always Mode = iota
	VadGated
	LocalWake
)

func (m Mode) String() string {
	switch m {
	case Always:
		return "always"
	case VadGated:
		return "vad-gated"
	case LocalWake:
		return "local-wake"
	default:
		return "unknown"
	}
}

// State is one node of the per-mode transition table.
type State int

const (
	Idle State = iota
	WaitingForSpeech
	WaitingForWake
	Streaming
	AwaitingTts
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForSpeech:
		return "waiting-for-speech"
	case WaitingForWake:
		return "waiting-for-wake"
	case Streaming:
		return "streaming"
	case AwaitingTts:
		return "awaiting-tts"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// ServerSender is the subset of the active session the state machine
// needs: publish one frame upstream. Set via Satellite.SetSession on
// accept, cleared on disconnect.
type ServerSender interface {
	Send(f wyoming.Frame) error
}

// MicSource is the subset of MicPipeline the state machine consumes.
type MicSource interface {
	Subscribe(capacity int) (<-chan audio.Chunk, func())
	FlushPreRoll() []audio.Chunk
	VADEvents() <-chan audio.VADEvent
	ResetVAD()
}

// SndEnqueuer is the subset of SndPipeline used to forward TTS audio into
// the serial playback queue.
type SndEnqueuer interface {
	Enqueue(req *audio.PlaybackRequest) bool
}

// WakeController is the subset of wake.Coordinator the LocalWake table
// drives: arm/disarm relaying to the wake peer.
type WakeController interface {
	Enable()
	Disable()
}

// TimerRegistry is the subset of timer.Registry fed by server-announced
// timer-* frames, routed here since the state machine is already the
// single funnel for everything the active session sends.
type TimerRegistry interface {
	OnStarted(t timer.Timer)
	OnUpdated(t timer.Timer)
	OnCancelled(id string)
}

// EventSink is the subset of events.FanOut the state machine publishes to.
type EventSink interface {
	Enqueue(ev events.Event)
}
