// Package wake implements the local wake-word coordinator: relay mic
// audio to a wake peer only while the state machine is waiting for a wake
// word, and debounce repeated detections behind a refractory window.
package wake

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/audio"
	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

// Detection is emitted once per debounced wake-word hit.
type Detection struct {
	Name        string
	TimestampMs int64
}

// MicSubscriber is the subset of MicPipeline the coordinator needs; kept
// as an interface so tests can stand in a fake source.
type MicSubscriber interface {
	Subscribe(capacity int) (<-chan audio.Chunk, func())
}

// Coordinator relays audio to the wake peer only while Enable has been
// called (the state machine is in WaitingForWake), and applies
// wake_refractory_seconds to the detections it forwards.
type Coordinator struct {
	peer       *wyoming.Peer
	sink       *audio.PeerSink
	mic        MicSubscriber
	names      []string
	refractory time.Duration
	logger     *slog.Logger

	enabled atomic.Bool

	mu            sync.Mutex
	lastDetection time.Time
	lastNames     []string
	utteranceOpen bool

	detections chan Detection
}

// NewCoordinator builds a Coordinator around a dialed wake peer.
func NewCoordinator(peer *wyoming.Peer, mic MicSubscriber, names []string, refractory time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		peer:       peer,
		sink:       audio.NewPeerSink(peer),
		mic:        mic,
		names:      names,
		refractory: refractory,
		logger:     logger,
		detections: make(chan Detection, 8),
	}
}

// Detections returns the debounced detection stream.
func (c *Coordinator) Detections() <-chan Detection { return c.detections }

// Enable starts relaying mic audio to the wake peer (entering
// WaitingForWake). Idempotent.
func (c *Coordinator) Enable() {
	if c.enabled.CompareAndSwap(false, true) {
		c.mu.Lock()
		c.utteranceOpen = false
		c.mu.Unlock()
	}
}

// Disable stops relaying audio (left WaitingForWake) without tearing down
// the peer connection itself.
func (c *Coordinator) Disable() {
	if c.enabled.CompareAndSwap(true, false) {
		c.mu.Lock()
		open := c.utteranceOpen
		c.utteranceOpen = false
		c.mu.Unlock()
		if open {
			c.sink.EndUtterance()
		}
	}
}

// SetNames updates the configured wake-word model set, re-issuing
// detect{names} immediately if the peer is connected.
func (c *Coordinator) SetNames(names []string) {
	c.mu.Lock()
	c.names = names
	c.mu.Unlock()
	if c.peer.IsConnected() {
		c.sendDetect()
	}
}

// Run subscribes to the mic broadcast and the wake peer's event stream
// until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.peer.Start(ctx)

	sub, unsub := c.mic.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-c.peer.Events():
			if !ok {
				return nil
			}
			c.handlePeerEvent(evt)

		case chunk, ok := <-sub:
			if !ok {
				return nil
			}
			if c.enabled.Load() {
				c.relay(chunk)
			}
		}
	}
}

func (c *Coordinator) handlePeerEvent(f wyoming.Frame) {
	switch f.Type {
	case wyoming.TypeConnected:
		c.sendDetect()
	case "detection":
		name, _ := f.Data["name"].(string)
		c.onDetection(name)
	}
}

func (c *Coordinator) sendDetect() {
	c.mu.Lock()
	names := append([]string(nil), c.names...)
	c.mu.Unlock()

	anyNames := make([]any, len(names))
	for i, n := range names {
		anyNames[i] = n
	}
	c.peer.Publish(wyoming.Frame{Type: "detect", Data: map[string]any{"names": anyNames}})
}

func (c *Coordinator) relay(chunk audio.Chunk) {
	c.mu.Lock()
	if !c.utteranceOpen {
		c.utteranceOpen = true
		c.mu.Unlock()
		c.sink.StartUtterance(chunk.Format)
	} else {
		c.mu.Unlock()
	}
	c.sink.Play(chunk)
}

func (c *Coordinator) onDetection(name string) {
	now := time.Now()

	c.mu.Lock()
	since := now.Sub(c.lastDetection)
	if !c.lastDetection.IsZero() && since < c.refractory {
		c.mu.Unlock()
		c.logger.Debug("wake detection suppressed by refractory window", "name", name, "since", since)
		return
	}
	c.lastDetection = now
	c.mu.Unlock()

	select {
	case c.detections <- Detection{Name: name, TimestampMs: now.UnixMilli()}:
	default:
		c.logger.Warn("wake detection channel full, dropping event")
	}
}
