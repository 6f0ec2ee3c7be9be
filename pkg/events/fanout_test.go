package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu   sync.Mutex
	kind []Kind
	wait time.Duration
}

func (r *recordingSink) Deliver(ev Event) {
	if r.wait > 0 {
		time.Sleep(r.wait)
	}
	r.mu.Lock()
	r.kind = append(r.kind, ev.Kind)
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.kind))
	copy(out, r.kind)
	return out
}

func TestFanOutDeliversInObservationOrderToEverySink(t *testing.T) {
	slow := &recordingSink{wait: 10 * time.Millisecond}
	fast := &recordingSink{}
	fo := NewFanOut(nil, slow, fast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx)

	order := []Kind{Connected, Detection, StreamingStart, Transcript, TtsStop}
	for _, k := range order {
		fo.Enqueue(Event{Kind: k})
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(fast.snapshot()) == len(order) && len(slow.snapshot()) == len(order) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out: slow=%v fast=%v", slow.snapshot(), fast.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}

	for i, k := range order {
		if fast.snapshot()[i] != k || slow.snapshot()[i] != k {
			t.Fatalf("expected both sinks to observe %v in order, got fast=%v slow=%v", order, fast.snapshot(), slow.snapshot())
		}
	}
}

func TestFanOutSkipsNilSinks(t *testing.T) {
	fo := NewFanOut(nil, nil, &recordingSink{})
	if len(fo.sinks) != 1 {
		t.Fatalf("expected nil sinks filtered out, got %d", len(fo.sinks))
	}
}
