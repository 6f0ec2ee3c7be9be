package audio

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordedCall struct {
	kind string // "start", "play", "end"
}

type fakeSink struct {
	mu      sync.Mutex
	framed  bool
	calls   []recordedCall
	playSum int
}

func (f *fakeSink) Start(context.Context) error { return nil }
func (f *fakeSink) Stop()                       {}
func (f *fakeSink) Framed() bool                { return f.framed }

func (f *fakeSink) StartUtterance(Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"start"})
	return nil
}

func (f *fakeSink) Play(c Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"play"})
	f.playSum += len(c.Samples)
	return nil
}

func (f *fakeSink) EndUtterance() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{"end"})
	return nil
}

func (f *fakeSink) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.kind
	}
	return out
}

type fakeMuter struct {
	mu        sync.Mutex
	muted     bool
	mutedFors []time.Duration
}

func (m *fakeMuter) Mute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = true
}

func (m *fakeMuter) MuteFor(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutedFors = append(m.mutedFors, d)
}

func TestSndPipelineBracketsServerAudio(t *testing.T) {
	sink := &fakeSink{framed: true}
	p := NewSndPipeline(sink, 4, nil, 0, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	format := Format{Rate: 16000, Width: 2, Channels: 1}
	chunks := make(chan Chunk, 4)
	done := make(chan struct{})
	played := make(chan struct{})

	c, _ := NewChunk(format, make([]byte, 320), 0)
	chunks <- c
	close(chunks)

	p.Enqueue(&PlaybackRequest{
		Reason: ReasonTts,
		Format: format,
		Chunks:   chunks,
		Done:     done,
		OnPlayed: func() { close(played) },
	})

	select {
	case <-played:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnPlayed")
	}

	kinds := sink.kinds()
	if len(kinds) < 3 || kinds[0] != "start" || kinds[len(kinds)-1] != "end" {
		t.Fatalf("expected bracketed start/.../end, got %v", kinds)
	}
}

func TestSndPipelineMutesMicAroundAwakeWav(t *testing.T) {
	sink := &fakeSink{framed: false}
	muter := &fakeMuter{}
	p := NewSndPipeline(sink, 4, muter, 2*time.Second, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	wav := EncodeWAV(Format{Rate: 16000, Width: 2, Channels: 1}, make([]byte, 320))
	played := make(chan struct{})

	p.Enqueue(&PlaybackRequest{
		Reason:   ReasonFeedback,
		MuteMic:  true,
		Wav:      &LocalWav{Bytes: wav, Repeat: 1},
		OnPlayed: func() { close(played) },
	})

	select {
	case <-played:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnPlayed")
	}

	muter.mu.Lock()
	defer muter.mu.Unlock()
	if !muter.muted {
		t.Fatal("expected mic to be muted during awake-wav playback")
	}
	if len(muter.mutedFors) != 1 || muter.mutedFors[0] != 2*time.Second {
		t.Fatalf("expected one MuteFor(2s) call after playback, got %v", muter.mutedFors)
	}
}

func TestSndPipelineOverflowDropsOldestFeedbackBeforeTts(t *testing.T) {
	sink := &fakeSink{framed: true}
	p := NewSndPipeline(sink, 1, nil, 0, false, nil)
	// Queue is never drained (Run not started) so Enqueue exercises the
	// overflow path directly against the pending queue.

	wav := EncodeWAV(Format{Rate: 16000, Width: 2, Channels: 1}, make([]byte, 16))
	first := &PlaybackRequest{Reason: ReasonFeedback, Wav: &LocalWav{Bytes: wav, Repeat: 1}}
	p.mu.Lock()
	p.queue = append(p.queue, first)
	p.mu.Unlock()

	second := &PlaybackRequest{Reason: ReasonTimerFinished, Wav: &LocalWav{Bytes: wav, Repeat: 1}}
	dropped := p.Enqueue(second)
	if !dropped {
		t.Fatal("expected overflow to report a drop")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) != 1 || p.queue[0] != second {
		t.Fatalf("expected oldest feedback request evicted in favor of the new one, queue=%v", p.queue)
	}
}

func TestSndPipelineOverflowAbortsActiveTtsNotFeedback(t *testing.T) {
	sink := &fakeSink{framed: true}
	p := NewSndPipeline(sink, 1, nil, 0, false, nil)
	p.queueMax = 0

	abortCh := make(chan struct{})
	p.mu.Lock()
	p.active = &PlaybackRequest{Reason: ReasonTts}
	p.abortCh = abortCh
	p.mu.Unlock()

	wav := EncodeWAV(Format{Rate: 16000, Width: 2, Channels: 1}, make([]byte, 16))
	req := &PlaybackRequest{Reason: ReasonFeedback, Wav: &LocalWav{Bytes: wav, Repeat: 1}}
	p.Enqueue(req)

	select {
	case <-abortCh:
	default:
		t.Fatal("expected active TTS segment to be aborted to make room")
	}
}
