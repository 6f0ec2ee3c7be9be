package audio

import (
	"testing"
	"time"
)

func tenMsChunk(ts int64) Chunk {
	format := Format{Rate: 16000, Width: 2, Channels: 1}
	// 160 frames at 16kHz = 10ms.
	samples := make([]byte, 160*2)
	c, _ := NewChunk(format, samples, ts)
	return c
}

func TestPreRollTrimsToWindow(t *testing.T) {
	p := NewPreRoll(25 * time.Millisecond)
	for i := int64(0); i < 10; i++ {
		p.Add(tenMsChunk(i))
	}
	got := p.Flush()
	// 25ms window at 10ms/chunk retains at most 3 chunks worth once over budget.
	if len(got) == 0 || len(got) > 3 {
		t.Fatalf("expected preroll trimmed to roughly the window, got %d chunks", len(got))
	}
	if got[len(got)-1].TimestampMs != 9 {
		t.Fatalf("expected most recent chunk retained, got last timestamp %d", got[len(got)-1].TimestampMs)
	}
}

func TestPreRollFlushClearsBuffer(t *testing.T) {
	p := NewPreRoll(time.Second)
	p.Add(tenMsChunk(0))
	if len(p.Flush()) != 1 {
		t.Fatal("expected one chunk on first flush")
	}
	if len(p.Flush()) != 0 {
		t.Fatal("expected buffer cleared after flush")
	}
}
