package satellite

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/audio"
	"github.com/rhasspy/wyoming-satellite/pkg/events"
	"github.com/rhasspy/wyoming-satellite/pkg/wake"
	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

// Config configures a Satellite actor. WakeWordPipelines maps an armed
// wake-word name to the pipeline name sent in run-pipeline's
// wake_word_name/pipeline fields; a name absent from the map is sent with
// an empty pipeline (server default).
type Config struct {
	Mode                       Mode
	Name                       string
	Area                       string
	SupportsTrigger            bool
	WakeWordNames              []string
	WakeWordPipelines          map[string]string
	VadWakeWordTimeout         time.Duration
	MicFormat                  audio.Format
	SndFormat                  audio.Format
	TtsExpectedDurationGraceMs time.Duration
}

// command is the tagged union of external inputs the actor's inbox
// carries. Server frames and wake detections also arrive through the same
// Run select loop but are read directly off their own channels rather
// than funneled through here, preserving the single-threaded-over-its-
// own-inbox invariant without an extra hop.
type cmdKind int

const (
	cmdServerConnected cmdKind = iota
	cmdServerDisconnected
	cmdPause
	cmdResume
	cmdServerFrame
	cmdSetSession
	cmdTtsStopObserved
	cmdTtsPlayedObserved
)

type command struct {
	kind    cmdKind
	frame   wyoming.Frame
	session ServerSender
	gen     int
}

// Satellite is the state machine actor: one goroutine owns state, the session
// sender, and the open-TTS-request bookkeeping; every external caller
// only ever pushes onto inbox.
type Satellite struct {
	cfg     Config
	mic     MicSource
	snd     SndEnqueuer
	wakeCtl WakeController
	wakeDet <-chan wake.Detection
	timers  TimerRegistry
	fanout  EventSink
	logger  *slog.Logger

	inbox chan command

	// actor-confined state; touched only from Run's goroutine.
	state      State
	session    ServerSender
	micSub     <-chan audio.Chunk
	micUnsub   func()
	forwarding bool

	ttsChunks          chan audio.Chunk
	ttsGen             int
	gotTranscriptNoTts bool
	lastErrorEmit      time.Time
	unknownFrames      int

	mu sync.Mutex // guards CurrentState() snapshot reads only
}

// New builds a Satellite bound to its collaborators. wakeDet may be nil
// outside LocalWake mode.
func New(cfg Config, mic MicSource, snd SndEnqueuer, wakeCtl WakeController, wakeDet <-chan wake.Detection, timers TimerRegistry, fanout EventSink, logger *slog.Logger) *Satellite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Satellite{
		cfg:     cfg,
		mic:     mic,
		snd:     snd,
		wakeCtl: wakeCtl,
		wakeDet: wakeDet,
		timers:  timers,
		fanout:  fanout,
		logger:  logger,
		inbox:   make(chan command, 64),
		state:   Idle,
	}
}

// SetSession installs or clears (nil) the active session sender, firing
// the ServerConnected/ServerDisconnected common edges.
func (s *Satellite) SetSession(sender ServerSender) {
	if sender == nil {
		s.inbox <- command{kind: cmdServerDisconnected}
		return
	}
	s.inbox <- command{kind: cmdSetSession, session: sender}
	s.inbox <- command{kind: cmdServerConnected}
}

// HandleServerFrame feeds one inbound frame from the active session into
// the machine.
func (s *Satellite) HandleServerFrame(f wyoming.Frame) {
	s.inbox <- command{kind: cmdServerFrame, frame: f}
}

// Pause/Resume implement the pause-satellite/resume-satellite passthrough
// forwarded by the main listener.
func (s *Satellite) Pause()  { s.inbox <- command{kind: cmdPause} }
func (s *Satellite) Resume() { s.inbox <- command{kind: cmdResume} }

// CurrentState reports the machine's state for diagnostics; safe to call
// from any goroutine but may be stale by one transition.
func (s *Satellite) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Satellite) setState(v State) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
}

// Run is the actor's main loop: subscribes once to the mic broadcast and
// (in LocalWake mode) the wake coordinator's detection stream, then
// dispatches every input in arrival order until ctx is cancelled.
func (s *Satellite) Run(ctx context.Context) error {
	s.micSub, s.micUnsub = s.mic.Subscribe(64)
	defer s.micUnsub()

	vadEvents := s.mic.VADEvents()
	wakeDet := s.wakeDet

	var silenceFire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-s.inbox:
			s.handleCommand(ctx, cmd)

		case chunk, ok := <-s.micSub:
			if !ok {
				return nil
			}
			s.maybeForward(chunk)

		case ev, ok := <-vadEvents:
			if !ok {
				vadEvents = nil
				continue
			}
			silenceFire = s.handleVADEvent(ev, silenceFire)

		case det, ok := <-wakeDet:
			if !ok {
				wakeDet = nil
				continue
			}
			s.handleDetection(det)

		case <-silenceFire:
			silenceFire = nil
			s.handleVadSilenceTimeout()
		}
	}
}

func (s *Satellite) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSetSession:
		s.session = cmd.session
	case cmdServerConnected:
		s.onServerConnected()
	case cmdServerDisconnected:
		s.onServerDisconnected()
	case cmdPause:
		s.onPause()
	case cmdResume:
		s.onResume()
	case cmdServerFrame:
		s.onServerFrame(cmd.frame)
	case cmdTtsStopObserved:
		s.onTtsStopObserved(cmd.gen)
	case cmdTtsPlayedObserved:
		s.onTtsPlayedObserved(cmd.gen)
	}
}

func (s *Satellite) emit(ev events.Event) { s.fanout.Enqueue(ev) }

func (s *Satellite) send(f wyoming.Frame) {
	if s.session == nil {
		return
	}
	if err := s.session.Send(f); err != nil {
		s.logger.Warn("satellite: failed sending frame upstream", "type", f.Type, "error", err)
	}
}
