// Package server implements the main server listener: accept
// inbound connections on the configured bind URI, keep at most one
// session active at a time, and bridge it to the satellite state machine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rhasspy/wyoming-satellite/pkg/satellite"
	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

// SatelliteHandler is the subset of satellite.Satellite the listener
// drives: install/clear the active session, hand it every inbound frame,
// and honor the pause-satellite/resume-satellite control messages.
type SatelliteHandler interface {
	SetSession(sender satellite.ServerSender)
	HandleServerFrame(f wyoming.Frame)
	Pause()
	Resume()
}

// ParseBindURI splits a "tcp://host:port" or "unix://path" URI into the
// (network, address) pair net.Listen expects.
func ParseBindURI(uri string) (network, address string, err error) {
	switch {
	case strings.HasPrefix(uri, "tcp://"):
		return "tcp", strings.TrimPrefix(uri, "tcp://"), nil
	case strings.HasPrefix(uri, "unix://"):
		return "unix", strings.TrimPrefix(uri, "unix://"), nil
	default:
		return "", "", fmt.Errorf("server: unsupported bind uri %q (want tcp:// or unix://)", uri)
	}
}

// Listener accepts connections on a bind URI and keeps exactly one
// Session active, closing the previous one when a new connection lands.
type Listener struct {
	uri     string
	handler SatelliteHandler
	logger  *slog.Logger

	mu     sync.Mutex
	active *Session
}

// NewListener builds a Listener; call Run to bind and start accepting.
func NewListener(uri string, handler SatelliteHandler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{uri: uri, handler: handler, logger: logger}
}

// Run binds the listener and accepts connections until ctx is cancelled.
// A bind failure is fatal and returned directly rather than retried,
// unlike a Peer's reconnect loop.
func (l *Listener) Run(ctx context.Context) error {
	network, address, err := ParseBindURI(l.uri)
	if err != nil {
		return err
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("server: listening on %s %s: %w", network, address, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	l.logger.Info("listening for satellite sessions", "network", network, "address", address)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("accept failed", "error", err)
			continue
		}
		l.adopt(ctx, conn)
	}
}

// adopt makes conn the new active session, gracefully closing whichever
// session (if any) was previously active.
func (l *Listener) adopt(ctx context.Context, conn net.Conn) {
	session := newSession(conn, l.logger)

	l.mu.Lock()
	prev := l.active
	l.active = session
	l.mu.Unlock()

	if prev != nil {
		l.logger.Info("replacing active session", "previous_session_id", prev.id, "session_id", session.id)
		prev.Close()
		// The prior session's Disconnected edge must land before the new
		// session's Connected edge; its own serve goroutine will see it is
		// no longer active and skip clearing the handler itself.
		l.handler.SetSession(nil)
	}

	l.logger.Info("accepted session", "session_id", session.id, "remote_addr", conn.RemoteAddr())
	l.handler.SetSession(session)
	go l.serve(ctx, session)
}

func (l *Listener) serve(ctx context.Context, session *Session) {
	defer func() {
		session.Close()
		l.mu.Lock()
		wasActive := l.active == session
		if wasActive {
			l.active = nil
		}
		l.mu.Unlock()
		if wasActive {
			l.handler.SetSession(nil)
		}
	}()

	for {
		f, err := session.conn.ReadFrame()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Debug("session read ended", "error", err)
			}
			return
		}
		switch f.Type {
		case "pause-satellite":
			l.handler.Pause()
		case "resume-satellite":
			l.handler.Resume()
		default:
			l.handler.HandleServerFrame(f)
		}
	}
}

// Session wraps one accepted connection, satisfying satellite.ServerSender
// so the state machine can publish frames back without knowing about
// net.Conn or the listener's bookkeeping.
type Session struct {
	id     string
	conn   *wyoming.Conn
	raw    net.Conn
	logger *slog.Logger

	mu        sync.Mutex
	closeOnce sync.Once
}

func newSession(raw net.Conn, logger *slog.Logger) *Session {
	return &Session{id: uuid.NewString(), conn: wyoming.NewConn(raw), raw: raw, logger: logger}
}

// ID uniquely identifies this session for logging.
func (s *Session) ID() string {
	return s.id
}

// Send writes one frame to the session. Safe for concurrent callers; the
// state machine is single-threaded but fan-out/timer sinks may also hold
// a reference via the event peer configuration in some deployments.
func (s *Session) Send(f wyoming.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteFrame(f)
}

// Close releases the underlying connection exactly once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.raw.Close()
	})
	return err
}
