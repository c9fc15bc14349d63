// Package retry runs capability calls with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBase is the delay before the second attempt.
const DefaultBase = 500 * time.Millisecond

// Executor holds the backoff policy. The zero value uses DefaultBase, real
// sleeps and a no-op logger.
type Executor struct {
	Base   time.Duration
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger zerolog.Logger
}

// New returns an Executor with the default base delay.
func New(logger zerolog.Logger) *Executor {
	return &Executor{Base: DefaultBase, Logger: logger}
}

// Do calls op up to maxAttempts times, sleeping Base*2^attempt after each
// failure. It never returns an error: exhaustion (including a cancelled
// context) yields the zero value and false.
func Do[T any](ctx context.Context, ex *Executor, maxAttempts int, op func(ctx context.Context) (T, error)) (T, bool) {
	var zero T
	if ex == nil {
		ex = &Executor{}
	}
	base := ex.Base
	if base <= 0 {
		base = DefaultBase
	}
	sleep := ex.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, false
		}
		res, err := op(ctx)
		if err == nil {
			return res, true
		}
		ex.Logger.Error().Err(err).Int("attempt", attempt+1).Msgf("Attempt %d failed", attempt+1)

		if err := sleep(ctx, base*time.Duration(1<<attempt)); err != nil {
			return zero, false
		}
	}
	return zero, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
