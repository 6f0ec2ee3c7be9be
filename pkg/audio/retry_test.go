package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStartWithRetryReturnsMisconfigurationImmediately(t *testing.T) {
	wantErr := errors.New("bad argv")
	calls := 0
	err := startWithRetry(context.Background(), nil, "test", func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the misconfiguration error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt for a non-busy error, got %d", calls)
	}
}

func TestStartWithRetryRetriesBusyDevice(t *testing.T) {
	calls := 0
	err := startWithRetry(context.Background(), nil, "test", func(context.Context) error {
		calls++
		if calls == 1 {
			return ErrDeviceBusy
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after the device came free, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a second attempt after the busy failure, got %d", calls)
	}
}

func TestStartWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- startWithRetry(ctx, nil, "test", func(context.Context) error {
			return ErrDeviceBusy
		})
	}()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancellation, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("startWithRetry did not stop after cancellation")
	}
}
