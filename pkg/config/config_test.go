package config

import (
	"errors"
	"testing"
)

func TestLoadParsesCoreAndWakeWordOptions(t *testing.T) {
	cfg, err := Load([]string{
		"--uri", "tcp://0.0.0.0:10700",
		"--name", "kitchen",
		"--wake-word-name", "hey_jarvis porcupine",
		"--wake-word-name", "alexa",
		"--mic-uri", "tcp://127.0.0.1:10600",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.URI != "tcp://0.0.0.0:10700" || cfg.Name != "kitchen" {
		t.Fatalf("unexpected core fields: %+v", cfg)
	}
	if len(cfg.WakeWordNames) != 2 {
		t.Fatalf("wake word names = %+v, want 2 entries", cfg.WakeWordNames)
	}
	if cfg.WakeWordNames[0].Name != "hey_jarvis" || cfg.WakeWordNames[0].Pipeline != "porcupine" {
		t.Fatalf("first wake word = %+v", cfg.WakeWordNames[0])
	}
	if cfg.WakeWordNames[1].Name != "alexa" || cfg.WakeWordNames[1].Pipeline != "" {
		t.Fatalf("second wake word = %+v", cfg.WakeWordNames[1])
	}
}

func TestLoadCollectsEventHookCommands(t *testing.T) {
	cfg, err := Load([]string{
		"--uri", "tcp://0.0.0.0:10700",
		"--detection-command", "/bin/echo",
		"--detection-command", "detected",
		"--timer-finished-command", "/bin/echo",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.EventCommands["detection"]; len(got) != 2 || got[0] != "/bin/echo" || got[1] != "detected" {
		t.Fatalf("detection command = %+v", got)
	}
	if got := cfg.EventCommands["timer-finished"]; len(got) != 1 {
		t.Fatalf("timer-finished command = %+v", got)
	}
	if _, ok := cfg.EventCommands["voice-started"]; ok {
		t.Fatal("expected no entry for an unconfigured hook kind")
	}
}

func TestValidateRequiresURI(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("Validate() = %v, want ErrConfig", err)
	}
}

func TestValidateRejectsConflictingMicOptions(t *testing.T) {
	cfg, err := Load([]string{
		"--uri", "tcp://0.0.0.0:10700",
		"--mic-uri", "tcp://127.0.0.1:10600",
		"--mic-command", "arecord",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("Validate() = %v, want ErrConfig", err)
	}
}

func TestValidateRequiresWakeWordNameWhenWakePeerConfigured(t *testing.T) {
	cfg, err := Load([]string{
		"--uri", "tcp://0.0.0.0:10700",
		"--wake-uri", "tcp://127.0.0.1:10400",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("Validate() = %v, want ErrConfig", err)
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg, err := Load([]string{
		"--uri", "tcp://0.0.0.0:10700",
		"--wake-uri", "tcp://127.0.0.1:10400",
		"--wake-word-name", "hey_jarvis",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg, err := Load([]string{
		"--uri", "tcp://0.0.0.0:10700",
		"--log-format", "xml",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("Validate() = %v, want ErrConfig", err)
	}
}
