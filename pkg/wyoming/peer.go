package wyoming

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Dialer opens a fresh duplex stream to a peer's endpoint. Implementations
// dial a TCP/unix socket or spawn a subprocess and return its combined
// stdin/stdout; Peer doesn't care which.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// PeerConfig configures a durable, reconnecting Peer.
type PeerConfig struct {
	// Name identifies the peer in logs ("mic", "snd", "wake", "event").
	Name string
	// Dial opens the underlying stream. Required.
	Dial Dialer
	// Describe, if true, sends a describe frame on connect and blocks the
	// connect sequence until an info frame arrives.
	Describe bool
	// PingInterval, if non-zero and the peer's info says ping_supported,
	// sends a ping at this cadence and forces a reconnect if no traffic at
	// all is seen for 2x this interval.
	PingInterval time.Duration
	// QueueSize bounds the outbound frame queue.
	QueueSize int
	// EventsSize bounds the inbound (delivered-to-caller) frame channel.
	EventsSize int
}

// Peer is a durable client connection speaking Wyoming framing: connect,
// optional describe/info handshake, ping, reconnect with backoff,
// cancellation. It is the single implementation behind mic, snd, wake and
// event peers; the difference between them is only their Dialer and
// PeerConfig.
type Peer struct {
	cfg    PeerConfig
	logger *slog.Logger

	out    *outboundQueue
	events chan Frame

	mu        sync.Mutex
	connected bool
	info      map[string]any

	lastTraffic atomic.Int64 // unix nanos of the last inbound frame

	cancel    context.CancelFunc
	loopDone  chan struct{}
	closeOnce sync.Once
}

// NewPeer constructs a Peer; call Start to begin the connect/reconnect
// loop.
func NewPeer(cfg PeerConfig, logger *slog.Logger) *Peer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.EventsSize <= 0 {
		cfg.EventsSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Peer{
		cfg:      cfg,
		logger:   logger.With("peer", cfg.Name),
		out:      newOutboundQueue(cfg.QueueSize),
		events:   make(chan Frame, cfg.EventsSize),
		loopDone: make(chan struct{}),
	}
}

// Events returns the inbound frame stream, including the synthetic
// TypeConnected/TypeDisconnected lifecycle edges.
func (p *Peer) Events() <-chan Frame { return p.events }

// DropCount reports how many outbound frames have been dropped by the
// queue's overflow policy so far.
func (p *Peer) DropCount() int64 { return p.out.dropCount() }

// IsConnected reports the current transport state.
func (p *Peer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Info returns the data object of the last info frame received, or nil if
// none has arrived yet.
func (p *Peer) Info() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Publish enqueues f for delivery, applying the drop policy on overflow.
// Never blocks except for the deliberate 50ms backpressure pause applied
// to audio-chunk frames that had to evict something.
func (p *Peer) Publish(f Frame) {
	dropped := p.out.push(f)
	if dropped && f.Type == "audio-chunk" {
		time.Sleep(50 * time.Millisecond)
	}
}

// Start begins the supervised connect/reconnect loop. It returns
// immediately; the loop runs until ctx is cancelled or Stop is called.
func (p *Peer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	go p.run(ctx)
}

// Stop cancels the loop and waits briefly for it to finish releasing its
// socket.
func (p *Peer) Stop() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		select {
		case <-p.loopDone:
		case <-time.After(2 * time.Second):
		}
	})
}

func (p *Peer) run(ctx context.Context) {
	defer close(p.loopDone)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := p.cfg.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			p.logger.Warn("dial failed, backing off", "error", err, "wait", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		started := time.Now()
		if err := p.serveConn(ctx, conn); err != nil && ctx.Err() == nil {
			p.logger.Warn("peer connection ended", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		// A connection that lived for a while earns a fresh backoff; one
		// that died straight after the handshake keeps climbing so a
		// flapping peer can't turn this into a tight dial loop.
		if time.Since(started) > time.Minute {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (p *Peer) serveConn(ctx context.Context, rw io.ReadWriteCloser) error {
	c := NewConn(rw)
	defer c.Close()

	if p.cfg.Describe {
		if err := c.WriteFrame(Frame{Type: "describe"}); err != nil {
			return fmt.Errorf("%w: sending describe: %v", ErrTransport, err)
		}
		info, err := p.awaitInfo(c)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.info = info
		p.mu.Unlock()
	}

	p.setConnected(true)
	defer p.setConnected(false)
	p.lastTraffic.Store(time.Now().UnixNano())

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	errCh := make(chan error, 2)
	go p.writePump(connCtx, c, errCh)
	go p.readPump(connCtx, c, errCh)

	if p.cfg.PingInterval > 0 && p.pingSupported() {
		go p.pingLoop(connCtx, errCh)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (p *Peer) pingSupported() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info == nil {
		return false
	}
	v, ok := p.info["ping_supported"].(bool)
	return ok && v
}

func (p *Peer) awaitInfo(c *Conn) (map[string]any, error) {
	type result struct {
		frame Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		for {
			f, err := c.ReadFrame()
			if err != nil {
				done <- result{err: err}
				return
			}
			if f.Type == "info" {
				done <- result{frame: f}
				return
			}
			// Anything before info is discarded; the handshake hasn't
			// completed yet.
		}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: awaiting info: %v", ErrTransport, r.err)
		}
		return r.frame.Data, nil
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("%w: timed out awaiting info", ErrProtocol)
	}
}

func (p *Peer) writePump(ctx context.Context, c *Conn, errCh chan<- error) {
	for {
		f, ok := p.out.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.out.wait():
				continue
			}
		}
		if err := c.WriteFrame(f); err != nil {
			select {
			case errCh <- fmt.Errorf("%w: write: %v", ErrTransport, err):
			default:
			}
			return
		}
	}
}

func (p *Peer) readPump(ctx context.Context, c *Conn, errCh chan<- error) {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		p.lastTraffic.Store(time.Now().UnixNano())
		if f.Type == "info" {
			p.mu.Lock()
			p.info = f.Data
			p.mu.Unlock()
		}
		if f.Type == "ping" {
			p.Publish(Frame{Type: "pong"})
			continue
		}
		select {
		case p.events <- f:
		case <-ctx.Done():
			return
		default:
			p.logger.Warn("events channel full, dropping inbound frame", "type", f.Type)
		}
	}
}

func (p *Peer) pingLoop(ctx context.Context, errCh chan<- error) {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, p.lastTraffic.Load()))
			if idle > 2*p.cfg.PingInterval {
				select {
				case errCh <- fmt.Errorf("%w: no traffic for %s, forcing reconnect", ErrTransport, idle.Round(time.Second)):
				default:
				}
				return
			}
			p.Publish(Frame{Type: "ping"})
		}
	}
}

func (p *Peer) setConnected(v bool) {
	p.mu.Lock()
	changed := p.connected != v
	p.connected = v
	p.mu.Unlock()
	if !changed {
		return
	}
	typ := TypeDisconnected
	if v {
		typ = TypeConnected
	}
	// Connected/Disconnected are lifecycle edges and must never be
	// silently dropped, so this send is allowed to wait briefly for room
	// rather than falling back to default like other inbound frames.
	select {
	case p.events <- Frame{Type: typ}:
	case <-time.After(time.Second):
		p.logger.Error("events channel full, dropped lifecycle edge", "type", typ)
	}
}
