package satellite

import (
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/audio"
	"github.com/rhasspy/wyoming-satellite/pkg/events"
	"github.com/rhasspy/wyoming-satellite/pkg/timer"
	"github.com/rhasspy/wyoming-satellite/pkg/wake"
	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

// modeInitialState is the entry state for Resume and for a fresh
// ServerConnected with no prior state to return to.
func (s *Satellite) modeInitialState() State {
	switch s.cfg.Mode {
	case VadGated:
		return WaitingForSpeech
	case LocalWake:
		return WaitingForWake
	default:
		return Streaming
	}
}

// --- common edges ---------------------------------------------------------

func (s *Satellite) onServerConnected() {
	s.emit(events.Event{Kind: events.Connected})
	s.send(wyoming.Frame{Type: "info", Data: s.infoData()})

	if s.state == Idle {
		s.enterState(s.modeInitialState())
	}
}

func (s *Satellite) onServerDisconnected() {
	wasStreaming := s.forwarding
	s.stopForwarding()
	if s.ttsChunks != nil {
		// Settle the in-flight TTS segment synchronously so TtsStop and
		// TtsPlayed precede Disconnected. Closing the chunk channel makes
		// the snd pipeline abort its drain; its own callbacks for this
		// segment then arrive with a stale generation and are dropped.
		s.closeTtsChunks()
		s.ttsGen++
		s.emit(events.Event{Kind: events.TtsStop})
		s.emit(events.Event{Kind: events.TtsPlayed})
	}
	if s.cfg.Mode == LocalWake && s.wakeCtl != nil {
		s.wakeCtl.Disable()
	}
	if wasStreaming {
		s.emit(events.Event{Kind: events.StreamingStop})
	}
	s.session = nil
	s.setState(Idle)
	s.emit(events.Event{Kind: events.Disconnected})
}

func (s *Satellite) onPause() {
	if s.state == Paused {
		return
	}
	if s.forwarding {
		s.emit(events.Event{Kind: events.StreamingStop})
	}
	s.stopForwarding()
	if s.wakeCtl != nil {
		// Paused means no audio leaves the process, including to the wake
		// peer; the peer connection itself is retained.
		s.wakeCtl.Disable()
	}
	s.setState(Paused)
}

func (s *Satellite) onResume() {
	if s.state != Paused {
		return
	}
	s.enterState(s.modeInitialState())
}

// enterState applies the side effects for arriving at a target state,
// used by Resume and by every mode's own transitions below.
func (s *Satellite) enterState(target State) {
	switch target {
	case Streaming:
		s.enterStreaming()
	case WaitingForSpeech:
		s.setState(WaitingForSpeech)
		s.mic.ResetVAD()
	case WaitingForWake:
		s.setState(WaitingForWake)
		if s.wakeCtl != nil {
			s.wakeCtl.Enable()
		}
	default:
		s.setState(target)
	}
}

func (s *Satellite) enterStreaming() {
	if s.cfg.Mode == LocalWake && s.wakeCtl != nil {
		s.wakeCtl.Disable()
	}

	var preroll []audio.Chunk
	switch s.cfg.Mode {
	case VadGated:
		preroll = s.mic.FlushPreRoll()
		s.send(wyoming.Frame{Type: "run-pipeline", Data: map[string]any{"start_stage": "asr"}})
	case LocalWake:
		// run-pipeline is sent by handleDetection with the wake-word name,
		// not here.
	default:
		s.send(wyoming.Frame{Type: "run-pipeline", Data: map[string]any{"start_stage": "asr", "end_stage": "tts"}})
	}

	// audio-start always precedes the first chunk, so any flushed
	// pre-roll is sent as ordinary chunks right after it.
	s.send(wyoming.Frame{Type: "audio-start", Data: formatData(s.cfg.MicFormat)})
	for _, c := range preroll {
		s.sendAudioChunk(c)
	}
	s.startForwarding()
	s.setState(Streaming)
	s.emit(events.Event{Kind: events.StreamingStart})
}

// --- mic audio forwarding -------------------------------------------------

func (s *Satellite) startForwarding() { s.forwarding = true }

func (s *Satellite) stopForwarding() {
	if s.forwarding {
		s.send(wyoming.Frame{Type: "audio-stop"})
	}
	s.forwarding = false
}

func (s *Satellite) maybeForward(c audio.Chunk) {
	if s.forwarding {
		s.sendAudioChunk(c)
	}
}

func (s *Satellite) sendAudioChunk(c audio.Chunk) {
	s.send(wyoming.Frame{Type: "audio-chunk", Data: formatData(c.Format), Payload: c.Samples})
}

func formatData(f audio.Format) map[string]any {
	return map[string]any{"rate": f.Rate, "width": f.Width, "channels": f.Channels}
}

// --- VAD-gated mode --------------------------------------------------------

func (s *Satellite) handleVADEvent(ev audio.VADEvent, prevTimer <-chan time.Time) <-chan time.Time {
	if s.cfg.Mode != VadGated {
		return prevTimer
	}
	switch ev.Type {
	case audio.SpeechDetected:
		if s.state == WaitingForSpeech {
			s.emit(events.Event{Kind: events.VoiceStarted})
			s.enterState(Streaming)
		}
		return nil // cancel any pending silence timeout
	case audio.SpeechEnded:
		if s.state == Streaming && s.cfg.VadWakeWordTimeout > 0 {
			return time.After(s.cfg.VadWakeWordTimeout)
		}
	}
	return prevTimer
}

func (s *Satellite) handleVadSilenceTimeout() {
	if s.cfg.Mode == VadGated && s.state == Streaming {
		s.stopForwarding()
		s.setState(WaitingForSpeech)
		s.mic.ResetVAD()
		s.emit(events.Event{Kind: events.VoiceStopped})
		s.emit(events.Event{Kind: events.StreamingStop})
	}
}

// --- local-wake mode --------------------------------------------------------

func (s *Satellite) handleDetection(det wake.Detection) {
	if s.cfg.Mode != LocalWake || s.state != WaitingForWake {
		return
	}

	if s.wakeCtl != nil {
		s.wakeCtl.Disable()
	}

	pipeline := s.cfg.WakeWordPipelines[det.Name]
	s.send(wyoming.Frame{Type: "run-pipeline", Data: map[string]any{
		"start_stage":    "asr",
		"wake_word_name": det.Name,
		"pipeline":       pipeline,
	}})
	s.send(wyoming.Frame{Type: "detection", Data: map[string]any{"name": det.Name}})

	s.send(wyoming.Frame{Type: "audio-start", Data: formatData(s.cfg.MicFormat)})
	s.startForwarding()
	s.setState(Streaming)
	s.gotTranscriptNoTts = false

	s.emit(events.Event{Kind: events.Detection, Name: det.Name})
	s.emit(events.Event{Kind: events.StreamingStart})
}

// --- server frame dispatch --------------------------------------------------

func (s *Satellite) onServerFrame(f wyoming.Frame) {
	switch f.Type {
	case "describe":
		s.send(wyoming.Frame{Type: "info", Data: s.infoData()})
	case "ping":
		s.send(wyoming.Frame{Type: "pong"})
	case "detect":
		s.emit(events.Event{Kind: events.Detect})
	case "transcription", "transcript":
		s.emit(events.Event{Kind: events.Transcript, Text: stringField(f.Data, "text")})
		if s.cfg.Mode == LocalWake {
			s.gotTranscriptNoTts = true
		}
	case "synthesize":
		s.emit(events.Event{Kind: events.Synthesize, Text: stringField(f.Data, "text")})
	case "voice-started":
		if s.cfg.Mode == LocalWake {
			s.emit(events.Event{Kind: events.VoiceStarted})
		}
	case "voice-stopped":
		if s.cfg.Mode == LocalWake {
			s.emit(events.Event{Kind: events.VoiceStopped})
		}
	case "audio-start":
		s.onTtsAudioStart(f)
	case "audio-chunk":
		s.onTtsAudioChunk(f)
	case "audio-stop":
		s.onTtsAudioStop()
	case "run-end":
		s.onRunEnd()
	case "run-satellite":
		// Server-initiated start, bypassing local wake/VAD detection
		// (push-to-talk style). Only meaningful while idle-for-input.
		if s.state == WaitingForWake || s.state == WaitingForSpeech {
			s.enterState(Streaming)
		}
	case "error":
		// Error events are rate-limited to one per second so a
		// misbehaving session can't flood every hook and sink.
		if time.Since(s.lastErrorEmit) >= time.Second {
			s.lastErrorEmit = time.Now()
			s.emit(events.Event{Kind: events.Error, Text: stringField(f.Data, "text")})
		} else {
			s.logger.Debug("suppressed error event", "text", stringField(f.Data, "text"))
		}
	case "timer-started":
		if s.timers != nil {
			s.timers.OnStarted(parseTimer(f.Data))
		}
	case "timer-updated":
		if s.timers != nil {
			s.timers.OnUpdated(parseTimer(f.Data))
		}
	case "timer-cancelled":
		if s.timers != nil {
			s.timers.OnCancelled(stringField(f.Data, "id"))
		}
	case "pong":
		// Traffic accounting happens at the transport layer; nothing to do.
	default:
		s.unknownFrames++
		s.logger.Debug("ignoring unknown frame", "type", f.Type, "seen", s.unknownFrames)
	}
}

func (s *Satellite) onRunEnd() {
	if s.cfg.Mode == LocalWake && s.state == Streaming && s.gotTranscriptNoTts {
		// Transcript arrived with no TTS segment: return straight to
		// WaitingForWake instead of waiting in Streaming forever.
		s.stopForwarding()
		s.emit(events.Event{Kind: events.StreamingStop})
		s.enterState(WaitingForWake)
	}
}

// --- TTS audio (shared by Always/VadGated/LocalWake) ------------------------

func (s *Satellite) onTtsAudioStart(f wyoming.Frame) {
	if s.ttsChunks != nil {
		return // already forwarding one TTS segment
	}
	// In VAD-gated and local-wake modes the utterance is over once TTS
	// begins: close out the mic stream so the next run's audio-start pairs
	// cleanly. Always mode keeps its single open-ended stream running.
	if s.cfg.Mode != Always && s.forwarding {
		s.stopForwarding()
		s.emit(events.Event{Kind: events.StreamingStop})
	}
	s.setState(AwaitingTts)
	s.emit(events.Event{Kind: events.TtsStart})

	format := parseFormat(f.Data, s.cfg.SndFormat)
	chunks := make(chan audio.Chunk, 64)
	s.ttsChunks = chunks
	s.ttsGen++
	gen := s.ttsGen

	s.snd.Enqueue(&audio.PlaybackRequest{
		Reason: audio.ReasonTts,
		Format: format,
		Chunks: chunks,
		OnTtsStop: func() {
			s.inbox <- command{kind: cmdTtsStopObserved, gen: gen}
		},
		OnPlayed: func() {
			s.inbox <- command{kind: cmdTtsPlayedObserved, gen: gen}
		},
		GraceMs: s.cfg.TtsExpectedDurationGraceMs,
	})
}

func (s *Satellite) onTtsAudioChunk(f wyoming.Frame) {
	if s.ttsChunks == nil {
		return
	}
	c, err := audio.NewChunk(parseFormat(f.Data, s.cfg.SndFormat), f.Payload, 0)
	if err != nil {
		return
	}
	select {
	case s.ttsChunks <- c:
	default:
	}
}

func (s *Satellite) onTtsAudioStop() {
	s.closeTtsChunks()
}

func (s *Satellite) closeTtsChunks() {
	if s.ttsChunks != nil {
		close(s.ttsChunks)
		s.ttsChunks = nil
	}
}

// onTtsStopObserved/onTtsPlayedObserved fire once the snd pipeline's own
// goroutine has called the OnTtsStop/OnPlayed callbacks; those callbacks
// only push a command onto the inbox so the actual state mutation still
// happens on the actor's own goroutine. gen discards callbacks for a
// segment the disconnect path already settled.
func (s *Satellite) onTtsStopObserved(gen int) {
	if gen != s.ttsGen {
		return
	}
	s.emit(events.Event{Kind: events.TtsStop})
	if s.state != AwaitingTts {
		// Disconnected or paused while the segment was draining; the
		// common edge already decided where the machine goes.
		return
	}
	switch s.cfg.Mode {
	case VadGated:
		s.enterState(WaitingForSpeech)
	case LocalWake:
		s.enterState(WaitingForWake)
	default:
		s.setState(Streaming)
	}
}

func (s *Satellite) onTtsPlayedObserved(gen int) {
	if gen != s.ttsGen {
		return
	}
	s.send(wyoming.Frame{Type: "played"})
	s.emit(events.Event{Kind: events.TtsPlayed})
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func floatField(data map[string]any, key string) float64 {
	if data == nil {
		return 0
	}
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func boolField(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	b, _ := data[key].(bool)
	return b
}

func intField(data map[string]any, key string, fallback int) int {
	if data == nil {
		return fallback
	}
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func parseFormat(data map[string]any, fallback audio.Format) audio.Format {
	if data == nil {
		return fallback
	}
	return audio.Format{
		Rate:     intField(data, "rate", fallback.Rate),
		Width:    intField(data, "width", fallback.Width),
		Channels: intField(data, "channels", fallback.Channels),
	}
}

func parseTimer(data map[string]any) timer.Timer {
	return timer.Timer{
		ID:               stringField(data, "id"),
		Name:             stringField(data, "name"),
		TotalSeconds:     floatField(data, "total_seconds"),
		RemainingSeconds: floatField(data, "remaining_seconds"),
		IsActive:         boolField(data, "is_active"),
		IsPaused:         boolField(data, "is_paused"),
		StartedAt:        time.Now(),
	}
}

// infoData builds the satellite{...}+software{...} payload of the
// outbound info message.
func (s *Satellite) infoData() map[string]any {
	sat := map[string]any{
		"name":                   s.cfg.Name,
		"area":                   s.cfg.Area,
		"supports_trigger":       s.cfg.SupportsTrigger,
		"active_wake_word_names": s.cfg.WakeWordNames,
	}
	if s.cfg.SndFormat.Rate > 0 {
		sat["snd_format"] = formatData(s.cfg.SndFormat)
	}
	return map[string]any{
		"satellite": sat,
		"software": map[string]any{
			"name":    "wyoming-satellite",
			"version": "1.0.0",
		},
	}
}
