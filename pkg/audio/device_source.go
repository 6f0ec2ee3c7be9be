package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/gen2brain/malgo"
)

// DeviceSource captures audio directly from a local sound card via malgo,
// the builtin backend used when neither mic-uri nor mic-command is
// configured. It implements the same Source interface as
// PeerSource/CommandSource, so the mic pipeline never knows the
// difference; DeviceSink is its playback counterpart.
type DeviceSource struct {
	Format Format

	mctx   *malgo.AllocatedContext
	device *malgo.Device
	out    chan Chunk
}

func NewDeviceSource(format Format) *DeviceSource {
	return &DeviceSource{Format: format, out: make(chan Chunk, 64)}
}

func (s *DeviceSource) Chunks() <-chan Chunk { return s.out }

func (s *DeviceSource) Start(ctx context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: malgo.InitContext: %v", ErrDeviceBusy, err)
	}
	s.mctx = mctx

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.Format.Channels)
	cfg.SampleRate = uint32(s.Format.Rate)
	cfg.Alsa.NoMMap = 1

	onSamples := func(_, input []byte, _ uint32) {
		if len(input) == 0 {
			return
		}
		c := Chunk{Format: s.Format, Samples: append([]byte(nil), input...), TimestampMs: time.Now().UnixMilli()}
		select {
		case s.out <- c:
		default:
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
		return fmt.Errorf("%w: starting capture device: %v", ErrDeviceBusy, err)
	}
	return nil
}

func (s *DeviceSource) Stop() {
	if s.device != nil {
		s.device.Uninit()
	}
	if s.mctx != nil {
		s.mctx.Uninit()
	}
}
