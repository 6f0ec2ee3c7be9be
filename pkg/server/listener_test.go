package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/satellite"
	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

type fakeHandler struct {
	mu       sync.Mutex
	sessions []satellite.ServerSender
	frames   []wyoming.Frame
	paused   int
	resumed  int
}

func (h *fakeHandler) SetSession(s satellite.ServerSender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, s)
}

func (h *fakeHandler) HandleServerFrame(f wyoming.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, f)
}

func (h *fakeHandler) Pause()  { h.mu.Lock(); h.paused++; h.mu.Unlock() }
func (h *fakeHandler) Resume() { h.mu.Lock(); h.resumed++; h.mu.Unlock() }

func (h *fakeHandler) activeSessionCount(t *testing.T) int {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	// Each non-nil SetSession installs a session and each nil clears one,
	// so the running balance is the number of sessions currently active.
	n := 0
	for _, s := range h.sessions {
		if s != nil {
			n++
		} else if n > 0 {
			n--
		}
	}
	return n
}

func startTestListener(t *testing.T) (addr string, handler *fakeHandler, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr = ln.Addr().String()
	ln.Close()

	handler = &fakeHandler{}
	l := NewListener("tcp://"+addr, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	// Give the listener a moment to bind before the test dials it.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return addr, handler, func() {
		cancel()
		<-done
	}
}

func TestListenerAcceptsAndRoutesFrames(t *testing.T) {
	addr, handler, stop := startTestListener(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	c := wyoming.NewConn(conn)
	if err := c.WriteFrame(wyoming.Frame{Type: "transcription", Data: map[string]any{"text": "hello"}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		handler.mu.Lock()
		n := len(handler.frames)
		handler.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for frame to reach handler")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestListenerKeepsOnlyOneActiveSession(t *testing.T) {
	addr, handler, stop := startTestListener(t)
	defer stop()

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	deadline := time.After(time.Second)
	for handler.activeSessionCount(t) != 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for first session to become active")
		case <-time.After(5 * time.Millisecond):
		}
	}

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	// The first connection should be closed by the server once the second
	// is adopted as active.
	first.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := first.Read(buf); err == nil {
		t.Fatal("expected the previous session's connection to be closed")
	}
}

func TestListenerForwardsPauseResumeControlFrames(t *testing.T) {
	addr, handler, stop := startTestListener(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	c := wyoming.NewConn(conn)
	c.WriteFrame(wyoming.Frame{Type: "pause-satellite"})
	c.WriteFrame(wyoming.Frame{Type: "resume-satellite"})

	deadline := time.After(time.Second)
	for {
		handler.mu.Lock()
		p, r := handler.paused, handler.resumed
		handler.mu.Unlock()
		if p == 1 && r == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for pause/resume, got paused=%d resumed=%d", p, r)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
