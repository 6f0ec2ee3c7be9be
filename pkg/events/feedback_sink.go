package events

import (
	"log/slog"
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/audio"
)

// FeedbackConfig carries the cue WAVs and timer-finished repeat policy.
type FeedbackConfig struct {
	AwakeWav         []byte
	DoneWav          []byte
	TimerFinishedWav []byte
	TimerRepeat      int
	TimerDelay       time.Duration
}

// FeedbackSink queues the configured cue sound on Detection, TtsStop,
// and TimerFinished.
type FeedbackSink struct {
	snd    *audio.SndPipeline
	cfg    FeedbackConfig
	logger *slog.Logger
}

func NewFeedbackSink(snd *audio.SndPipeline, cfg FeedbackConfig, logger *slog.Logger) *FeedbackSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackSink{snd: snd, cfg: cfg, logger: logger}
}

func (s *FeedbackSink) Deliver(ev Event) {
	switch ev.Kind {
	case Detection:
		s.enqueue(s.cfg.AwakeWav, audio.ReasonFeedback, true, 1, 0)
	case TtsStop:
		s.enqueue(s.cfg.DoneWav, audio.ReasonFeedback, false, 1, 0)
	case TimerFinished:
		s.enqueue(s.cfg.TimerFinishedWav, audio.ReasonTimerFinished, false, s.cfg.TimerRepeat, s.cfg.TimerDelay)
	}
}

func (s *FeedbackSink) enqueue(wav []byte, reason audio.PlaybackReason, muteMic bool, repeat int, delay time.Duration) {
	if len(wav) == 0 || s.snd == nil {
		return
	}
	dropped := s.snd.Enqueue(&audio.PlaybackRequest{
		Reason:  reason,
		MuteMic: muteMic,
		Wav:     &audio.LocalWav{Bytes: wav, Repeat: repeat, Delay: delay},
	})
	if dropped {
		s.logger.Debug("feedback wav queued with an overflow eviction", "reason", reason)
	}
}
