package audio

import "errors"

var (
	// ErrDsp marks a failure raised by an external auto-gain/noise-suppression
	// stage. The mic pipeline logs and passes the chunk through unmodified
	// rather than treating it as fatal.
	ErrDsp = errors.New("audio: dsp stage error")

	// ErrDeviceBusy is returned by a Source/Sink when the local capture or
	// playback device or subprocess cannot be started (device already
	// claimed, binary missing at the configured path). The owning pipeline
	// retries Start with the same capped exponential backoff a peer uses
	// for transport errors.
	ErrDeviceBusy = errors.New("audio: device busy")
)
