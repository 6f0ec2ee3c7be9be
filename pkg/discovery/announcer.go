// Package discovery implements the zeroconf/mDNS advertisement: publish
// `_wyoming._tcp.local.` so voice-assistant servers can find this
// satellite without a configured address.
package discovery

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"net"

	"github.com/grandcat/zeroconf"
)

// Config configures one mDNS announcement.
type Config struct {
	// Name is the instance name; if empty, DefaultName derives one from
	// the first non-loopback hardware address.
	Name string
	// Host overrides the advertised address; if empty, the OS default
	// outbound-interface address is used (zeroconf's own behavior).
	Host string
	Port int
}

// Announcer wraps a zeroconf.Server for the satellite's lifetime.
type Announcer struct {
	cfg    Config
	logger *slog.Logger
	server *zeroconf.Server
}

// NewAnnouncer builds an Announcer; call Start to publish.
func NewAnnouncer(cfg Config, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName()
	}
	return &Announcer{cfg: cfg, logger: logger}
}

// Start registers the `_wyoming._tcp` service. Call Stop (or cancel ctx
// passed to Run) to withdraw it.
func (a *Announcer) Start() error {
	var (
		server *zeroconf.Server
		err    error
	)

	if a.cfg.Host != "" {
		// RegisterProxy pins the advertised address instead of letting
		// zeroconf enumerate local interfaces itself.
		server, err = zeroconf.RegisterProxy(a.cfg.Name, "_wyoming._tcp", "local.", a.cfg.Port, a.cfg.Name, []string{a.cfg.Host}, nil, nil)
	} else {
		server, err = zeroconf.Register(a.cfg.Name, "_wyoming._tcp", "local.", a.cfg.Port, nil, nil)
	}
	if err != nil {
		return fmt.Errorf("discovery: registering zeroconf service: %w", err)
	}
	a.server = server
	a.logger.Info("announcing via zeroconf", "name", a.cfg.Name, "port", a.cfg.Port, "host", a.cfg.Host)
	return nil
}

// Stop withdraws the announcement.
func (a *Announcer) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Run starts the announcement and blocks until ctx is cancelled, then
// withdraws it. Convenient for wiring into the same task-per-component
// shape as the rest of the satellite's long-lived components.
func (a *Announcer) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	a.Stop()
	return nil
}

// DefaultName derives a stable identifier from the first non-loopback
// interface's hardware address, so the advertised name survives restarts
// without any persisted state.
func DefaultName() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "wyoming-satellite"
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		sum := md5.Sum(iface.HardwareAddr)
		return fmt.Sprintf("wyoming-satellite-%x", sum[:4])
	}
	return "wyoming-satellite"
}
