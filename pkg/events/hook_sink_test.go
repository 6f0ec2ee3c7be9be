package events

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/hook"
)

func TestHookSinkInvokesConfiguredCommandWithNamePayload(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	sink := NewHookSink(map[Kind]HookConfig{
		TimerFinished: {Argv: []string{"sh", "-c", "cat > " + out}, Stdin: hook.StdinName, Timeout: time.Second},
	}, nil)

	sink.Deliver(Event{Kind: TimerFinished, TimerID: "T1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b, err := os.ReadFile(out); err == nil && string(b) == "T1" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for hook to receive timer id on stdin")
}

func TestHookSinkIgnoresUnconfiguredKind(t *testing.T) {
	sink := NewHookSink(map[Kind]HookConfig{}, nil)
	sink.Deliver(Event{Kind: Detection, Name: "ok_nabu"}) // must not panic or block
}
