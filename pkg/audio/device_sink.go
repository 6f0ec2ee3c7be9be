package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// DeviceSink plays audio directly to a local sound card via malgo, the
// symmetric counterpart to DeviceSource. Not framed: a sound card has no
// concept of audio-start/audio-stop, only bytes.
type DeviceSink struct {
	Format Format

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu  sync.Mutex
	buf []byte
}

func NewDeviceSink(format Format) *DeviceSink {
	return &DeviceSink{Format: format}
}

func (s *DeviceSink) Framed() bool { return false }

func (s *DeviceSink) Start(ctx context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: malgo.InitContext: %v", ErrDeviceBusy, err)
	}
	s.mctx = mctx

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(s.Format.Channels)
	cfg.SampleRate = uint32(s.Format.Rate)
	cfg.Alsa.NoMMap = 1

	onSamples := func(output, _ []byte, _ uint32) {
		s.mu.Lock()
		n := copy(output, s.buf)
		s.buf = s.buf[n:]
		s.mu.Unlock()
		for i := n; i < len(output); i++ {
			output[i] = 0
		}
	}

	device, err := malgo.InitDevice(s.mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		s.mctx.Uninit()
		return fmt.Errorf("%w: malgo.InitDevice: %v", ErrDeviceBusy, err)
	}
	s.device = device

	if err := s.device.Start(); err != nil {
		s.device.Uninit()
		s.mctx.Uninit()
		return fmt.Errorf("%w: starting playback device: %v", ErrDeviceBusy, err)
	}
	return nil
}

func (s *DeviceSink) Stop() {
	if s.device != nil {
		s.device.Uninit()
	}
	if s.mctx != nil {
		s.mctx.Uninit()
	}
}

func (s *DeviceSink) StartUtterance(Format) error {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
	return nil
}

func (s *DeviceSink) Play(c Chunk) error {
	s.mu.Lock()
	s.buf = append(s.buf, c.Samples...)
	s.mu.Unlock()
	return nil
}

func (s *DeviceSink) EndUtterance() error { return nil }
