package audio

import (
	"log/slog"
	"sync"
)

// Broadcaster fans processed chunks out to subscribers, each of whom sees
// every chunk exactly once per subscription. A slow subscriber has chunks
// dropped from its own channel; the producer (Publish) never blocks.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Chunk
	nextID int
	logger *slog.Logger
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{subs: make(map[int]chan Chunk), logger: logger}
}

// Subscribe registers a new subscriber with the given channel capacity and
// returns its channel plus an unsubscribe function.
func (b *Broadcaster) Subscribe(capacity int) (<-chan Chunk, func()) {
	if capacity <= 0 {
		capacity = 32
	}
	ch := make(chan Chunk, capacity)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers c to every current subscriber, never blocking.
func (b *Broadcaster) Publish(c Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- c:
		default:
			b.logger.Warn("broadcaster dropping chunk for slow subscriber", "subscriber", id)
		}
	}
}
