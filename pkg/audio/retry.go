package audio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// startWithRetry runs start, retrying ErrDeviceBusy failures with capped
// exponential backoff until the device comes free or ctx is cancelled. Any
// other error is a misconfiguration and is returned immediately.
func startWithRetry(ctx context.Context, logger *slog.Logger, what string, start func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		err := start(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDeviceBusy) {
			return err
		}
		wait := bo.NextBackOff()
		logger.Warn("device busy, retrying", "component", what, "error", err, "wait", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
