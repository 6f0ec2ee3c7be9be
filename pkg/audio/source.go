package audio

import "context"

// Source produces a stream of captured chunks. PeerSource (mic-uri),
// CommandSource (mic-command) and DeviceSource (used when neither is set)
// are the three concrete backends; the mic pipeline is written against this interface
// only.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	Chunks() <-chan Chunk
}

// Sink accepts playback. PeerSink, CommandSink and DeviceSink are the
// three concrete backends.
type Sink interface {
	Start(ctx context.Context) error
	Stop()
	// Framed reports whether StartUtterance/EndUtterance emit
	// audio-start/audio-stop. Raw subprocess and device sinks are not
	// framed: only the audio bytes are written.
	Framed() bool
	StartUtterance(format Format) error
	Play(c Chunk) error
	EndUtterance() error
}
