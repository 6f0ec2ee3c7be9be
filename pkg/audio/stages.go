package audio

import "fmt"

// Stage transforms one chunk as it flows through the mic pipeline. Stages
// are applied in a fixed order: channel select, volume, auto-gain, noise
// suppression, mute gate, VAD scorer.
type Stage interface {
	Process(c Chunk) (Chunk, error)
}

// StageFunc adapts a plain function to Stage.
type StageFunc func(Chunk) (Chunk, error)

func (f StageFunc) Process(c Chunk) (Chunk, error) { return f(c) }

// ChannelSelector picks a single channel out of an N-channel frame by
// slicing samples on byte stride.
type ChannelSelector struct {
	Index int
}

func (s ChannelSelector) Process(c Chunk) (Chunk, error) {
	if c.Format.Channels <= 1 {
		return c, nil
	}
	if s.Index < 0 || s.Index >= c.Format.Channels {
		return Chunk{}, fmt.Errorf("audio: channel index %d out of range [0,%d)", s.Index, c.Format.Channels)
	}
	frameSize := c.Format.Width * c.Format.Channels
	frames := len(c.Samples) / frameSize
	out := make([]byte, frames*c.Format.Width)
	for i := 0; i < frames; i++ {
		src := c.Samples[i*frameSize+s.Index*c.Format.Width : i*frameSize+(s.Index+1)*c.Format.Width]
		copy(out[i*c.Format.Width:(i+1)*c.Format.Width], src)
	}
	newFormat := c.Format
	newFormat.Channels = 1
	return Chunk{Format: newFormat, Samples: out, TimestampMs: c.TimestampMs}, nil
}

// VolumeMultiplier applies a per-sample floating multiply and saturates to
// the signed 16-bit range.
type VolumeMultiplier struct {
	Factor float64
}

func (v VolumeMultiplier) Process(c Chunk) (Chunk, error) {
	if v.Factor == 1 || c.Format.Width != 2 {
		return c, nil
	}
	samples := bytesToSamples(c.Samples)
	for i := range samples {
		samples[i] *= v.Factor
	}
	return Chunk{Format: c.Format, Samples: samplesToBytes(samples), TimestampMs: c.TimestampMs}, nil
}

// DSPProcessor is the interface external auto-gain/noise-suppression
// implementations satisfy. The DSP itself is an external capability;
// NoopDSP is the default when no implementation is configured.
type DSPProcessor interface {
	Name() string
	Process(c Chunk, level int) (Chunk, error)
}

// NoopDSP passes chunks through unchanged. Used when a level is configured
// but no real DSP implementation has been wired in.
type NoopDSP struct{ NameStr string }

func (n NoopDSP) Name() string                            { return n.NameStr }
func (n NoopDSP) Process(c Chunk, level int) (Chunk, error) { return c, nil }

// dspStage wraps a DSPProcessor at a fixed level, skipping the stage on
// error per ErrDsp policy: log, skip, continue.
type dspStage struct {
	proc    DSPProcessor
	level   int
	onError func(stage string, err error)
}

func (d dspStage) Process(c Chunk) (Chunk, error) {
	if d.proc == nil || d.level <= 0 {
		return c, nil
	}
	out, err := d.proc.Process(c, d.level)
	if err != nil {
		if d.onError != nil {
			d.onError(d.proc.Name(), err)
		}
		return c, nil
	}
	return out, nil
}
