package audio

import (
	"context"

	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

// PeerSource adapts a wyoming.Peer (mic-uri) into a Source by decoding
// audio-start (format) and audio-chunk (payload) frames.
type PeerSource struct {
	peer   *wyoming.Peer
	out    chan Chunk
	format Format
	done   chan struct{}
}

// NewPeerSource wraps peer. Start must be called before chunks flow.
func NewPeerSource(peer *wyoming.Peer) *PeerSource {
	return &PeerSource{peer: peer, out: make(chan Chunk, 64), done: make(chan struct{})}
}

func (s *PeerSource) Start(ctx context.Context) error {
	s.peer.Start(ctx)
	go s.pump(ctx)
	return nil
}

func (s *PeerSource) Stop() {
	s.peer.Stop()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *PeerSource) Chunks() <-chan Chunk { return s.out }

func (s *PeerSource) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case f, ok := <-s.peer.Events():
			if !ok {
				return
			}
			switch f.Type {
			case "audio-start":
				s.format = formatFromData(f.Data, s.format)
			case "audio-chunk":
				format := formatFromData(f.Data, s.format)
				c := Chunk{Format: format, Samples: f.Payload, TimestampMs: timestampFromData(f.Data)}
				select {
				case s.out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func formatFromData(data map[string]any, fallback Format) Format {
	f := fallback
	if v, ok := numFromData(data, "rate"); ok {
		f.Rate = v
	}
	if v, ok := numFromData(data, "width"); ok {
		f.Width = v
	}
	if v, ok := numFromData(data, "channels"); ok {
		f.Channels = v
	}
	return f
}

func numFromData(data map[string]any, key string) (int, bool) {
	if data == nil {
		return 0, false
	}
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func timestampFromData(data map[string]any) int64 {
	v, ok := numFromData(data, "timestamp")
	if !ok {
		return 0
	}
	return int64(v)
}
