package audio

import (
	"context"
	"log/slog"
	"time"
)

// MicPipelineConfig configures the fixed transform chain applied to every
// captured chunk. AutoGain/NoiseSuppression are optional external DSP
// implementations; nil disables that stage regardless of level.
type MicPipelineConfig struct {
	ChannelIndex             *int
	VolumeMultiplier         float64
	AutoGain                 DSPProcessor
	AutoGainLevel            int
	NoiseSuppression         DSPProcessor
	NoiseSuppressionLevel    int
	MuteSecondsAfterAwakeWav time.Duration
	NoMuteDuringAwakeWav     bool
	PreRoll                  time.Duration

	// VAD fields are only consulted when Mode is VAD-gated; VADEnabled
	// toggles whether the scorer stage runs at all.
	VADEnabled       bool
	VADThreshold     float64
	VADTriggerLevel  int
	VADWindowFrames  int
	VADSilenceFrames int
}

// MicPipeline is the capture half of the daemon: pull chunks from a Source, run them through
// the fixed stage chain, and broadcast the result to subscribers, keeping
// a pre-roll buffer and (in VAD-gated mode) scoring speech activity.
type MicPipeline struct {
	source      Source
	stages      []Stage
	mute        *MuteGate
	vad         *Scorer
	broadcaster *Broadcaster
	preroll     *PreRoll
	cfg         MicPipelineConfig
	logger      *slog.Logger

	vadEvents chan VADEvent
	errLogged func(stage string, err error)
}

// NewMicPipeline wires a Source and config into a runnable pipeline.
func NewMicPipeline(source Source, cfg MicPipelineConfig, logger *slog.Logger) *MicPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VolumeMultiplier == 0 {
		cfg.VolumeMultiplier = 1
	}

	mute := NewMuteGate(cfg.NoMuteDuringAwakeWav)

	p := &MicPipeline{
		source:      source,
		mute:        mute,
		broadcaster: NewBroadcaster(logger),
		preroll:     NewPreRoll(cfg.PreRoll),
		cfg:         cfg,
		logger:      logger,
		vadEvents:   make(chan VADEvent, 16),
	}
	p.errLogged = func(stage string, err error) {
		logger.Warn("dsp stage error, skipping for this chunk", "stage", stage, "error", err)
	}

	var stages []Stage
	if cfg.ChannelIndex != nil {
		stages = append(stages, ChannelSelector{Index: *cfg.ChannelIndex})
	}
	stages = append(stages, VolumeMultiplier{Factor: cfg.VolumeMultiplier})
	if cfg.AutoGain != nil {
		stages = append(stages, dspStage{proc: cfg.AutoGain, level: cfg.AutoGainLevel, onError: p.errLogged})
	}
	if cfg.NoiseSuppression != nil {
		stages = append(stages, dspStage{proc: cfg.NoiseSuppression, level: cfg.NoiseSuppressionLevel, onError: p.errLogged})
	}
	stages = append(stages, mute)
	p.stages = stages

	if cfg.VADEnabled {
		p.vad = NewScorer(cfg.VADThreshold, cfg.VADTriggerLevel, cfg.VADWindowFrames, cfg.VADSilenceFrames)
	}

	return p
}

// Mute gate accessors, driven by the snd pipeline around Feedback playback.
func (p *MicPipeline) MuteFor(d time.Duration) { p.mute.MuteFor(d) }
func (p *MicPipeline) Mute()                   { p.mute.Mute() }
func (p *MicPipeline) Unmute()                 { p.mute.Unmute() }
func (p *MicPipeline) IsMuted() bool           { return p.mute.IsMuted() }

// Subscribe registers a broadcast subscriber (wake coordinator, session
// streamer).
func (p *MicPipeline) Subscribe(capacity int) (<-chan Chunk, func()) {
	return p.broadcaster.Subscribe(capacity)
}

// VADEvents returns the VAD trigger/silence edge stream. The channel is
// never closed; when VAD is disabled nothing is sent on it.
func (p *MicPipeline) VADEvents() <-chan VADEvent { return p.vadEvents }

// FlushPreRoll returns and clears the buffered pre-speech audio.
func (p *MicPipeline) FlushPreRoll() []Chunk { return p.preroll.Flush() }

// ResetVAD clears scorer state, used on re-entry to WaitingForSpeech.
func (p *MicPipeline) ResetVAD() {
	if p.vad != nil {
		p.vad.Reset()
	}
}

// Run starts the source and processes chunks until ctx is cancelled or the
// source closes its channel. A busy capture device is retried with backoff
// rather than treated as fatal.
func (p *MicPipeline) Run(ctx context.Context) error {
	if err := startWithRetry(ctx, p.logger, "mic source", p.source.Start); err != nil {
		return err
	}
	defer p.source.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-p.source.Chunks():
			if !ok {
				return nil
			}
			p.processOne(c)
		}
	}
}

func (p *MicPipeline) processOne(c Chunk) {
	for _, stage := range p.stages {
		out, err := stage.Process(c)
		if err != nil {
			p.logger.Warn("mic pipeline stage error, chunk dropped", "error", err)
			return
		}
		c = out
	}

	p.preroll.Add(c)
	p.broadcaster.Publish(c)

	if p.vad != nil {
		if ev := p.vad.Process(c); ev != nil {
			select {
			case p.vadEvents <- *ev:
			default:
				p.logger.Warn("vad event channel full, dropping edge")
			}
		}
	}
}
