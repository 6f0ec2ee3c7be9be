package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PlaybackReason classifies a queued request so the overflow policy and
// mic-mute gating can treat them differently.
type PlaybackReason int

const (
	ReasonFeedback PlaybackReason = iota
	ReasonTts
	ReasonTimerFinished
)

func (r PlaybackReason) String() string {
	switch r {
	case ReasonFeedback:
		return "feedback"
	case ReasonTts:
		return "tts"
	case ReasonTimerFinished:
		return "timer-finished"
	default:
		return "unknown"
	}
}

// LocalWav is a pre-encoded cue sound played from bytes rather than
// streamed from the server (awake-wav, done-wav, timer-finished-wav).
type LocalWav struct {
	Bytes  []byte
	Repeat int // 0 plays zero times; matches "(0,*) plays zero times" for timer-finished-wav
	Delay  time.Duration
}

// MicMuter is the subset of MicPipeline a PlaybackRequest needs to
// coordinate the mute window around awake-wav playback.
type MicMuter interface {
	Mute()
	MuteFor(d time.Duration)
}

// PlaybackRequest is one entry in the serial playback queue: ServerAudio
// (Chunks/Done driven by the caller as audio-chunk/audio-stop arrive) or a
// LocalWav cue. Callback fields fire lifecycle events without this package
// depending on the state machine's event types directly.
type PlaybackRequest struct {
	Reason PlaybackReason
	Format Format

	// ServerAudio fields. Chunks is nil for a LocalWav request.
	Chunks <-chan Chunk
	Done   <-chan struct{}

	Wav *LocalWav

	// MuteMic is set only for the awake-wav Feedback request; other
	// Feedback-reason requests (done-wav) do not gate the mic.
	MuteMic bool

	ExpectedDuration time.Duration
	GraceMs          time.Duration

	OnStart   func()
	OnTtsStop func()
	OnPlayed  func()
}

// SndPipeline is the playback half of the daemon: a serial queue bracketing every
// request with StartUtterance/Play/EndUtterance, coordinating the mic mute
// window around awake-wav playback, and enforcing snd_queue_max overflow
// policy (oldest feedback/timer-finished dropped first; an in-flight TTS
// segment is aborted, never silently dropped).
type SndPipeline struct {
	sink     Sink
	queueMax int
	mic      MicMuter
	muteFor  time.Duration
	noMute   bool
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []*PlaybackRequest
	active  *PlaybackRequest
	notify  chan struct{}
	cancel  context.CancelFunc
	abortCh chan struct{}
}

// NewSndPipeline wires a Sink into a runnable serial queue. mic may be nil
// when no mute coordination is configured (e.g. a headless server peer
// with no local capture device).
func NewSndPipeline(sink Sink, queueMax int, mic MicMuter, muteFor time.Duration, noMute bool, logger *slog.Logger) *SndPipeline {
	if queueMax <= 0 {
		queueMax = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SndPipeline{
		sink:     sink,
		queueMax: queueMax,
		mic:      mic,
		muteFor:  muteFor,
		noMute:   noMute,
		logger:   logger,
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the tail of the queue, applying the overflow
// policy when at capacity. Returns true if an existing queued request was
// dropped to make room, or if the in-flight TTS segment was aborted.
func (p *SndPipeline) Enqueue(req *PlaybackRequest) bool {
	p.mu.Lock()
	dropped := false
	if len(p.queue) >= p.queueMax {
		if idx := p.indexOfDroppable(); idx >= 0 {
			p.queue = append(p.queue[:idx], p.queue[idx+1:]...)
			dropped = true
		} else if p.active != nil && p.active.Reason == ReasonTts {
			p.abortActiveLocked()
			dropped = true
		}
	}
	p.queue = append(p.queue, req)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return dropped
}

// indexOfDroppable finds the oldest queued (not yet playing) Feedback or
// TimerFinished request, never a Tts segment.
func (p *SndPipeline) indexOfDroppable() int {
	for i, r := range p.queue {
		if r.Reason != ReasonTts {
			return i
		}
	}
	return -1
}

// abortActiveLocked signals the currently playing TTS request to stop
// immediately; its own OnTtsStop/OnPlayed still fire so the state machine
// observes a clean TtsStop+TtsPlayed pair even for an aborted segment.
func (p *SndPipeline) abortActiveLocked() {
	if p.abortCh != nil {
		close(p.abortCh)
		p.abortCh = nil
	}
}

// Run drains the queue serially until ctx is cancelled. A busy playback
// device is retried with backoff rather than treated as fatal.
func (p *SndPipeline) Run(ctx context.Context) error {
	if err := startWithRetry(ctx, p.logger, "snd sink", p.sink.Start); err != nil {
		return err
	}
	defer p.sink.Stop()

	for {
		req := p.dequeue()
		if req == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-p.notify:
				continue
			}
		}

		abortCh := make(chan struct{})
		p.mu.Lock()
		p.active = req
		p.abortCh = abortCh
		p.mu.Unlock()

		p.play(ctx, req, abortCh)

		p.mu.Lock()
		p.active = nil
		p.abortCh = nil
		p.mu.Unlock()
	}
}

func (p *SndPipeline) dequeue() *PlaybackRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	req := p.queue[0]
	p.queue = p.queue[1:]
	return req
}

func (p *SndPipeline) play(ctx context.Context, req *PlaybackRequest, abortCh <-chan struct{}) {
	if req.MuteMic && p.mic != nil && !p.noMute {
		p.mic.Mute()
	}

	if req.Wav != nil {
		p.playLocalWav(ctx, req, abortCh)
	} else {
		p.playServerAudio(ctx, req, abortCh)
	}

	if req.MuteMic && p.mic != nil && !p.noMute {
		p.mic.MuteFor(p.muteFor)
	}
}

func (p *SndPipeline) playServerAudio(ctx context.Context, req *PlaybackRequest, abortCh <-chan struct{}) {
	if err := p.sink.StartUtterance(req.Format); err != nil {
		p.logger.Warn("snd pipeline: StartUtterance failed", "error", err)
	}
	if req.OnStart != nil {
		req.OnStart()
	}

	start := time.Now()
	var played time.Duration
	aborted := false

loop:
	for {
		select {
		case c, ok := <-req.Chunks:
			if !ok {
				break loop
			}
			if err := p.sink.Play(c); err != nil {
				p.logger.Warn("snd pipeline: Play failed", "error", err)
			}
			played += c.Duration()
		case <-req.Done:
			break loop
		case <-abortCh:
			aborted = true
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if err := p.sink.EndUtterance(); err != nil {
		p.logger.Warn("snd pipeline: EndUtterance failed", "error", err)
	}
	if req.OnTtsStop != nil {
		req.OnTtsStop()
	}

	if !aborted && !p.sink.Framed() {
		expected := req.ExpectedDuration
		if expected < played {
			expected = played
		}
		wait := expected + req.GraceMs - time.Since(start)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			case <-abortCh:
			}
		}
	}

	if req.OnPlayed != nil {
		req.OnPlayed()
	}
}

func (p *SndPipeline) playLocalWav(ctx context.Context, req *PlaybackRequest, abortCh <-chan struct{}) {
	format, pcm, err := DecodeWAV(req.Wav.Bytes)
	if err != nil {
		p.logger.Warn("snd pipeline: decoding local wav failed", "reason", req.Reason, "error", err)
		return
	}

	repeat := req.Wav.Repeat
	for i := 0; i < repeat; i++ {
		select {
		case <-ctx.Done():
			return
		case <-abortCh:
			return
		default:
		}

		chunk, cErr := NewChunk(format, pcm, 0)
		if cErr != nil {
			p.logger.Warn("snd pipeline: local wav chunk invalid", "error", cErr)
			return
		}

		if err := p.sink.StartUtterance(format); err != nil {
			p.logger.Warn("snd pipeline: StartUtterance failed", "error", err)
		}
		if i == 0 && req.OnStart != nil {
			req.OnStart()
		}
		if err := p.sink.Play(chunk); err != nil {
			p.logger.Warn("snd pipeline: Play failed", "error", err)
		}
		if err := p.sink.EndUtterance(); err != nil {
			p.logger.Warn("snd pipeline: EndUtterance failed", "error", err)
		}
		if !p.sink.Framed() {
			select {
			case <-time.After(chunk.Duration()):
			case <-ctx.Done():
				return
			case <-abortCh:
				return
			}
		}

		if i < repeat-1 && req.Wav.Delay > 0 {
			select {
			case <-time.After(req.Wav.Delay):
			case <-ctx.Done():
				return
			case <-abortCh:
				return
			}
		}
	}

	if req.OnPlayed != nil {
		req.OnPlayed()
	}
}
