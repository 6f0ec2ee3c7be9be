package satellite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/audio"
	"github.com/rhasspy/wyoming-satellite/pkg/events"
	"github.com/rhasspy/wyoming-satellite/pkg/timer"
	"github.com/rhasspy/wyoming-satellite/pkg/wake"
	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []wyoming.Frame
}

func (f *fakeSender) Send(fr wyoming.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSender) snapshot() []wyoming.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wyoming.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeSender) waitForType(t *testing.T, typ string, timeout time.Duration) wyoming.Frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		for _, fr := range f.snapshot() {
			if fr.Type == typ {
				return fr
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %q frame", typ)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fakeMic struct {
	sub       chan audio.Chunk
	preroll   []audio.Chunk
	vadEvents chan audio.VADEvent
}

func newFakeMic() *fakeMic {
	return &fakeMic{sub: make(chan audio.Chunk, 16), vadEvents: make(chan audio.VADEvent, 16)}
}

func (m *fakeMic) Subscribe(int) (<-chan audio.Chunk, func()) { return m.sub, func() {} }
func (m *fakeMic) FlushPreRoll() []audio.Chunk                { return m.preroll }
func (m *fakeMic) VADEvents() <-chan audio.VADEvent           { return m.vadEvents }
func (m *fakeMic) ResetVAD()                                  {}

type fakeSnd struct {
	mu    sync.Mutex
	drain bool
	reqs  []*audio.PlaybackRequest
}

func (s *fakeSnd) Enqueue(req *audio.PlaybackRequest) bool {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	drain := s.drain
	s.mu.Unlock()

	if drain && req.Chunks != nil {
		// Mimic the real pipeline: drain the segment on its own goroutine
		// until the chunk channel closes, then fire the callbacks in order.
		go func() {
			for range req.Chunks {
			}
			if req.OnTtsStop != nil {
				req.OnTtsStop()
			}
			if req.OnPlayed != nil {
				req.OnPlayed()
			}
		}()
	}
	return false
}

func (s *fakeSnd) last() *audio.PlaybackRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reqs) == 0 {
		return nil
	}
	return s.reqs[len(s.reqs)-1]
}

type fakeWakeCtl struct {
	mu      sync.Mutex
	enabled bool
}

func (w *fakeWakeCtl) Enable()  { w.mu.Lock(); w.enabled = true; w.mu.Unlock() }
func (w *fakeWakeCtl) Disable() { w.mu.Lock(); w.enabled = false; w.mu.Unlock() }
func (w *fakeWakeCtl) isEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

type fakeTimers struct {
	mu      sync.Mutex
	started []timer.Timer
}

func (t *fakeTimers) OnStarted(tm timer.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = append(t.started, tm)
}
func (t *fakeTimers) OnUpdated(timer.Timer) {}
func (t *fakeTimers) OnCancelled(string)    {}

type fakeFanout struct {
	mu   sync.Mutex
	evts []events.Event
}

func (f *fakeFanout) Enqueue(ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evts = append(f.evts, ev)
}

func (f *fakeFanout) snapshot() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Event, len(f.evts))
	copy(out, f.evts)
	return out
}

func (f *fakeFanout) waitFor(t *testing.T, kind events.Kind, timeout time.Duration) events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		for _, ev := range f.snapshot() {
			if ev.Kind == kind {
				return ev
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %v event", kind)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func testFormat() audio.Format { return audio.Format{Rate: 16000, Width: 2, Channels: 1} }

func waitForState(t *testing.T, sat *Satellite, want State) {
	t.Helper()
	deadline := time.After(time.Second)
	for sat.CurrentState() != want {
		select {
		case <-deadline:
			t.Fatalf("expected state %v, still %v", want, sat.CurrentState())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAlwaysModeStreamsOnConnectAndBracketsTts(t *testing.T) {
	mic := newFakeMic()
	snd := &fakeSnd{}
	sender := &fakeSender{}
	fanout := &fakeFanout{}

	sat := New(Config{Mode: Always, MicFormat: testFormat(), SndFormat: testFormat()},
		mic, snd, nil, nil, &fakeTimers{}, fanout, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sat.Run(ctx)

	sat.SetSession(sender)
	sender.waitForType(t, "run-pipeline", time.Second)
	sender.waitForType(t, "audio-start", time.Second)
	fanout.waitFor(t, events.StreamingStart, time.Second)

	if sat.CurrentState() != Streaming {
		t.Fatalf("expected Streaming after connect, got %v", sat.CurrentState())
	}

	mic.sub <- audio.Chunk{Format: testFormat(), Samples: []byte{1, 2, 3, 4}}
	sender.waitForType(t, "audio-chunk", time.Second)

	sat.HandleServerFrame(wyoming.Frame{Type: "audio-start", Data: map[string]any{"rate": 22050, "width": 2, "channels": 1}})
	fanout.waitFor(t, events.TtsStart, time.Second)

	req := snd.last()
	if req == nil {
		t.Fatal("expected a PlaybackRequest enqueued for TTS audio")
	}

	sat.HandleServerFrame(wyoming.Frame{Type: "audio-chunk", Data: map[string]any{"rate": 22050, "width": 2, "channels": 1}, Payload: []byte{5, 6}})
	sat.HandleServerFrame(wyoming.Frame{Type: "audio-stop"})

	select {
	case _, ok := <-req.Chunks:
		if !ok {
			t.Fatal("expected one buffered chunk before close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out reading forwarded tts chunk")
	}
	select {
	case _, ok := <-req.Chunks:
		if ok {
			t.Fatal("expected channel closed after audio-stop")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tts chunk channel to close")
	}

	if req.OnTtsStop != nil {
		req.OnTtsStop()
	}
	fanout.waitFor(t, events.TtsStop, time.Second)
	if req.OnPlayed != nil {
		req.OnPlayed()
	}
	fanout.waitFor(t, events.TtsPlayed, time.Second)

	if sat.CurrentState() != Streaming {
		t.Fatalf("expected back to Streaming after tts-played, got %v", sat.CurrentState())
	}
}

func TestLocalWakeModeDetectionStartsRun(t *testing.T) {
	mic := newFakeMic()
	snd := &fakeSnd{}
	sender := &fakeSender{}
	fanout := &fakeFanout{}
	wakeCtl := &fakeWakeCtl{}
	wakeDet := make(chan wake.Detection, 1)

	sat := New(Config{
		Mode:              LocalWake,
		MicFormat:         testFormat(),
		WakeWordPipelines: map[string]string{"ok_nabu": "assist"},
	}, mic, snd, wakeCtl, wakeDet, &fakeTimers{}, fanout, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sat.Run(ctx)

	sat.SetSession(sender)
	fanout.waitFor(t, events.Connected, time.Second)
	waitForState(t, sat, WaitingForWake)

	wakeDet <- wake.Detection{Name: "ok_nabu", TimestampMs: 1}

	rp := sender.waitForType(t, "run-pipeline", time.Second)
	if rp.Data["wake_word_name"] != "ok_nabu" || rp.Data["pipeline"] != "assist" {
		t.Fatalf("unexpected run-pipeline data: %+v", rp.Data)
	}
	sender.waitForType(t, "detection", time.Second)
	sender.waitForType(t, "audio-start", time.Second)
	fanout.waitFor(t, events.Detection, time.Second)
	fanout.waitFor(t, events.StreamingStart, time.Second)

	if sat.CurrentState() != Streaming {
		t.Fatalf("expected Streaming after detection, got %v", sat.CurrentState())
	}
}

func TestVadGatedModeFlushesPrerollOnSpeechDetected(t *testing.T) {
	mic := newFakeMic()
	mic.preroll = []audio.Chunk{{Format: testFormat(), Samples: []byte{9, 9}}}
	snd := &fakeSnd{}
	sender := &fakeSender{}
	fanout := &fakeFanout{}

	sat := New(Config{Mode: VadGated, MicFormat: testFormat(), VadWakeWordTimeout: 50 * time.Millisecond},
		mic, snd, nil, nil, &fakeTimers{}, fanout, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sat.Run(ctx)

	sat.SetSession(sender)
	fanout.waitFor(t, events.Connected, time.Second)
	waitForState(t, sat, WaitingForSpeech)

	mic.vadEvents <- audio.VADEvent{Type: audio.SpeechDetected}
	sender.waitForType(t, "run-pipeline", time.Second)
	sender.waitForType(t, "audio-chunk", time.Second) // the flushed pre-roll chunk
	fanout.waitFor(t, events.StreamingStart, time.Second)

	mic.vadEvents <- audio.VADEvent{Type: audio.SpeechEnded}
	fanout.waitFor(t, events.VoiceStopped, time.Second)

	deadline := time.After(time.Second)
	for sat.CurrentState() != WaitingForSpeech {
		select {
		case <-deadline:
			t.Fatalf("expected WaitingForSpeech after silence timeout, still %v", sat.CurrentState())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPauseStopsForwardingAndResumeReentersMode(t *testing.T) {
	mic := newFakeMic()
	snd := &fakeSnd{}
	sender := &fakeSender{}
	fanout := &fakeFanout{}

	sat := New(Config{Mode: Always, MicFormat: testFormat()}, mic, snd, nil, nil, &fakeTimers{}, fanout, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sat.Run(ctx)

	sat.SetSession(sender)
	fanout.waitFor(t, events.StreamingStart, time.Second)

	sat.Pause()
	fanout.waitFor(t, events.StreamingStop, time.Second)
	deadline := time.After(time.Second)
	for sat.CurrentState() != Paused {
		select {
		case <-deadline:
			t.Fatalf("expected Paused, still %v", sat.CurrentState())
		case <-time.After(5 * time.Millisecond):
		}
	}

	sat.Resume()
	deadline = time.After(time.Second)
	for sat.CurrentState() != Streaming {
		select {
		case <-deadline:
			t.Fatalf("expected Streaming after resume, still %v", sat.CurrentState())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServerDisconnectMidTtsResetsToIdle(t *testing.T) {
	mic := newFakeMic()
	snd := &fakeSnd{drain: true}
	sender := &fakeSender{}
	fanout := &fakeFanout{}

	sat := New(Config{Mode: Always, MicFormat: testFormat(), SndFormat: testFormat()},
		mic, snd, nil, nil, &fakeTimers{}, fanout, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sat.Run(ctx)

	sat.SetSession(sender)
	fanout.waitFor(t, events.StreamingStart, time.Second)

	sat.HandleServerFrame(wyoming.Frame{Type: "audio-start", Data: map[string]any{"rate": 22050, "width": 2, "channels": 1}})
	fanout.waitFor(t, events.TtsStart, time.Second)

	sat.SetSession(nil)
	fanout.waitFor(t, events.Disconnected, time.Second)

	waitForState(t, sat, Idle)

	// The aborted segment must settle before the session edge: TtsStop,
	// TtsPlayed, then Disconnected, exactly once each.
	idxStop, idxPlayed, idxDisc := -1, -1, -1
	var kinds []events.Kind
	for i, ev := range fanout.snapshot() {
		kinds = append(kinds, ev.Kind)
		switch ev.Kind {
		case events.TtsStop:
			if idxStop >= 0 {
				t.Fatalf("duplicate TtsStop in %v", kinds)
			}
			idxStop = i
		case events.TtsPlayed:
			if idxPlayed >= 0 {
				t.Fatalf("duplicate TtsPlayed in %v", kinds)
			}
			idxPlayed = i
		case events.Disconnected:
			idxDisc = i
		}
	}
	if idxStop < 0 || idxPlayed < 0 || idxDisc < 0 {
		t.Fatalf("missing TtsStop/TtsPlayed/Disconnected in %v", kinds)
	}
	if !(idxStop < idxPlayed && idxPlayed < idxDisc) {
		t.Fatalf("expected TtsStop < TtsPlayed < Disconnected, got %v", kinds)
	}
}
