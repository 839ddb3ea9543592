package database

import (
	"context"
	"time"

	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
)

// Retry calls connect until it succeeds, doubling the delay between
// attempts up to maxDelay. It returns the last error.
func Retry(ctx context.Context, name string, attempts int, baseDelay, maxDelay time.Duration, connect func(context.Context) error) error {
	delay := baseDelay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = connect(ctx); err == nil {
			if attempt > 1 {
				logger.Info("Connected after retry", zap.String("backend", name), zap.Int("attempt", attempt))
			}
			return nil
		}
		if attempt == attempts {
			break
		}

		logger.Warn("Connection attempt failed, retrying",
			zap.String("backend", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}
