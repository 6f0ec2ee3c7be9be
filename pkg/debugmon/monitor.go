// Package debugmon implements the loopback-only debug event monitor: a
// WebSocket endpoint that mirrors every lifecycle event to whatever is
// watching at http://127.0.0.1:<port>/events, active only when the daemon
// is started with --debug. It never binds beyond loopback and has no
// effect on the satellite's own control flow; a client disconnecting or
// never connecting at all must not slow down event delivery.
package debugmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rhasspy/wyoming-satellite/pkg/events"
)

// wireEvent is the JSON shape pushed to connected debug clients. It mirrors
// EventPeerSink's flattening of Event so both surfaces read the same way.
type wireEvent struct {
	Kind string         `json:"kind"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// Monitor is an events.Sink that fans lifecycle events out to any number of
// connected WebSocket clients. A slow or stalled client only ever drops its
// own messages; it never blocks the fan-out dispatcher.
type Monitor struct {
	port   int
	logger *slog.Logger
	server *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	out  chan wireEvent
}

// NewMonitor builds a Monitor bound to 127.0.0.1:port. Port 0 picks an
// ephemeral port; callers needing to know it should use a fixed port.
func NewMonitor(port int, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{port: port, logger: logger, clients: make(map[*client]struct{})}
}

// Deliver implements events.Sink, broadcasting ev to every connected client.
func (m *Monitor) Deliver(ev events.Event) {
	we := wireEvent{Kind: string(ev.Kind), At: time.Now()}
	data := map[string]any{}
	if ev.Name != "" {
		data["name"] = ev.Name
	}
	if ev.Text != "" {
		data["text"] = ev.Text
	}
	if ev.TimerID != "" {
		data["id"] = ev.TimerID
	}
	if ev.Timer != nil {
		data["id"] = ev.Timer.ID
		data["name"] = ev.Timer.Name
		data["total_seconds"] = ev.Timer.TotalSeconds
		data["remaining_seconds"] = ev.Timer.RemainingSeconds
		data["remaining_display"] = ev.Timer.RemainingDisplay
		data["is_active"] = ev.Timer.IsActive
		data["is_paused"] = ev.Timer.IsPaused
	}
	for k, v := range ev.Raw {
		data[k] = v
	}
	if len(data) > 0 {
		we.Data = data
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.clients {
		select {
		case c.out <- we:
		default:
			m.logger.Warn("debug monitor client too slow, dropping event")
		}
	}
}

// Run starts the loopback HTTP/WebSocket server and blocks until ctx is
// cancelled, then shuts it down.
func (m *Monitor) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", m.handleEvents)

	m.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", m.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.logger.Info("debug monitor listening", "addr", m.server.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = m.server.Shutdown(shutdownCtx)
	}()

	if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("debugmon: %w", err)
	}
	return nil
}

func (m *Monitor) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	c := &client{conn: conn, out: make(chan wireEvent, 64)}
	m.register(c)
	defer m.unregister(c)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case we := <-c.out:
			if err := wsjson.Write(ctx, conn, we); err != nil {
				return
			}
		}
	}
}

func (m *Monitor) register(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c] = struct{}{}
}

func (m *Monitor) unregister(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c)
}
