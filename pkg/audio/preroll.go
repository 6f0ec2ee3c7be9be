package audio

import (
	"sync"
	"time"
)

// PreRoll keeps a rolling buffer of the last `window` worth of audio so
// that when VAD fires, the session streamer can flush pre-speech audio to
// the server immediately after audio-start and the ASR sees the
// utterance's onset.
type PreRoll struct {
	mu     sync.Mutex
	chunks []Chunk
	window time.Duration
	total  time.Duration
}

// NewPreRoll builds a buffer that retains roughly `window` of audio.
func NewPreRoll(window time.Duration) *PreRoll {
	return &PreRoll{window: window}
}

// Add appends c, trimming from the head once the retained duration
// exceeds the configured window.
func (p *PreRoll) Add(c Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, c)
	p.total += c.Duration()
	for p.total > p.window && len(p.chunks) > 1 {
		p.total -= p.chunks[0].Duration()
		p.chunks = p.chunks[1:]
	}
}

// Flush returns the buffered chunks in capture order and clears the
// buffer. The caller is expected to stream these immediately after
// audio-start.
func (p *PreRoll) Flush() []Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Chunk, len(p.chunks))
	copy(out, p.chunks)
	p.chunks = nil
	p.total = 0
	return out
}
