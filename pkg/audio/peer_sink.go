package audio

import (
	"context"

	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

// PeerSink adapts a wyoming.Peer (snd-uri) into a Sink: bracket each
// utterance with audio-start/audio-stop and publish audio-chunk frames for
// each chunk.
type PeerSink struct {
	peer *wyoming.Peer
}

func NewPeerSink(peer *wyoming.Peer) *PeerSink {
	return &PeerSink{peer: peer}
}

func (s *PeerSink) Start(ctx context.Context) error {
	s.peer.Start(ctx)
	return nil
}

func (s *PeerSink) Stop() { s.peer.Stop() }

func (s *PeerSink) Framed() bool { return true }

func (s *PeerSink) StartUtterance(format Format) error {
	s.peer.Publish(wyoming.Frame{Type: "audio-start", Data: map[string]any{
		"rate": format.Rate, "width": format.Width, "channels": format.Channels,
	}})
	return nil
}

func (s *PeerSink) Play(c Chunk) error {
	s.peer.Publish(wyoming.Frame{
		Type: "audio-chunk",
		Data: map[string]any{
			"rate": c.Format.Rate, "width": c.Format.Width, "channels": c.Format.Channels,
			"timestamp": c.TimestampMs,
		},
		Payload: c.Samples,
	})
	return nil
}

func (s *PeerSink) EndUtterance() error {
	s.peer.Publish(wyoming.Frame{Type: "audio-stop"})
	return nil
}
