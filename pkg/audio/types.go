// Package audio implements the mic capture pipeline and the snd playback
// pipeline: DSP stage ordering, mute gating, VAD scoring,
// broadcast fan-out with pre-roll, and the WAV container used by feedback
// sounds.
package audio

import (
	"fmt"
	"time"
)

// Format describes the PCM shape of a stream: sample rate in Hz, sample
// width in bytes, and channel count. Negotiated per peer via
// describe/info.
type Format struct {
	Rate     int
	Width    int
	Channels int
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.Rate, f.Width*8, f.Channels)
}

// BytesPerSecond returns the format's byte rate, used to estimate
// playback duration on write-only sinks.
func (f Format) BytesPerSecond() int {
	return f.Rate * f.Width * f.Channels
}

// Chunk is one immutable slice of captured or playback audio. Invariant:
// len(Samples) == frames * Width * Channels.
type Chunk struct {
	Format      Format
	Samples     []byte
	TimestampMs int64
}

// NewChunk validates and constructs a Chunk.
func NewChunk(format Format, samples []byte, timestampMs int64) (Chunk, error) {
	frameSize := format.Width * format.Channels
	if frameSize <= 0 {
		return Chunk{}, fmt.Errorf("audio: invalid format %+v", format)
	}
	if len(samples)%frameSize != 0 {
		return Chunk{}, fmt.Errorf("audio: samples length %d not a multiple of frame size %d", len(samples), frameSize)
	}
	return Chunk{Format: format, Samples: samples, TimestampMs: timestampMs}, nil
}

// Frames returns the number of sample frames in the chunk.
func (c Chunk) Frames() int {
	frameSize := c.Format.Width * c.Format.Channels
	if frameSize == 0 {
		return 0
	}
	return len(c.Samples) / frameSize
}

// Duration returns the playback duration of the chunk given its format.
func (c Chunk) Duration() time.Duration {
	bps := c.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(bps) * float64(time.Second))
}

// Silence returns a chunk of identical shape to c with all samples zeroed,
// used by the mute gate.
func (c Chunk) Silence() Chunk {
	return Chunk{Format: c.Format, Samples: make([]byte, len(c.Samples)), TimestampMs: c.TimestampMs}
}
