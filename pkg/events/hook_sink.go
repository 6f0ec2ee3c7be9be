package events

import (
	"log/slog"
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/hook"
)

// HookConfig binds one event kind to a subprocess and a stdin policy
// (the `<kind>-command` options).
type HookConfig struct {
	Argv    []string
	Stdin   hook.StdinPolicy
	Timeout time.Duration
}

// HookSink spawns a configured subprocess per event kind. Spawn failures
// and timeouts are ErrHook: logged, never surfaced as satellite state.
type HookSink struct {
	configs map[Kind]HookConfig
	logger  *slog.Logger
}

func NewHookSink(configs map[Kind]HookConfig, logger *slog.Logger) *HookSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &HookSink{configs: configs, logger: logger}
}

func (s *HookSink) Deliver(ev Event) {
	cfg, ok := s.configs[ev.Kind]
	if !ok {
		return
	}

	payload := hookPayload(ev)
	if err := hook.Run(cfg.Argv, cfg.Stdin, payload, cfg.Timeout, s.logger); err != nil {
		s.logger.Warn("hook invocation failed", "kind", ev.Kind, "command", cfg.Argv, "error", err)
	}
}

func hookPayload(ev Event) any {
	switch {
	case ev.Timer != nil:
		return map[string]any{
			"id": ev.Timer.ID, "name": ev.Timer.Name,
			"total_seconds": ev.Timer.TotalSeconds, "remaining_seconds": ev.Timer.RemainingSeconds,
			"remaining_display": ev.Timer.RemainingDisplay,
			"is_active":         ev.Timer.IsActive, "is_paused": ev.Timer.IsPaused,
		}
	case ev.TimerID != "":
		return ev.TimerID
	case ev.Name != "":
		return ev.Name
	case ev.Text != "":
		return ev.Text
	default:
		return string(ev.Kind)
	}
}
