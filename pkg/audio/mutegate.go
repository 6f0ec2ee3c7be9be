package audio

import (
	"sync"
	"time"
)

// MuteGate replaces samples with silence while muted. It is driven by the
// snd pipeline around feedback ("awake-wav") playback: muted immediately
// when a Feedback request starts, auto-unmuted mic_seconds_to_mute_after_awake_wav
// after playback ends, unless disabled entirely. This is a plain mute
// window, not echo cancellation; the cue sound is simply kept out of the
// upstream ASR audio.
type MuteGate struct {
	mu       sync.Mutex
	muted    bool
	disabled bool
	timer    *time.Timer
}

// NewMuteGate constructs an unmuted gate. If disabled is true, Mute/MuteFor
// are no-ops (mic_no_mute_during_awake_wav).
func NewMuteGate(disabled bool) *MuteGate {
	return &MuteGate{disabled: disabled}
}

// Mute silences the pipeline until Unmute or the next MuteFor deadline.
func (g *MuteGate) Mute() {
	if g.disabled {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.muted = true
}

// MuteFor mutes for d then auto-unmutes, used for the post-feedback
// window. Calling it again before it fires replaces the deadline.
func (g *MuteGate) MuteFor(d time.Duration) {
	if g.disabled {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.muted = true
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(d, func() {
		g.mu.Lock()
		g.muted = false
		g.mu.Unlock()
	})
}

// Unmute clears the mute state immediately, cancelling any pending timer.
func (g *MuteGate) Unmute() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.muted = false
}

// IsMuted reports the current state.
func (g *MuteGate) IsMuted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

// Process implements Stage: replace samples with silence while muted.
func (g *MuteGate) Process(c Chunk) (Chunk, error) {
	if g.IsMuted() {
		return c.Silence(), nil
	}
	return c, nil
}
