package core

import (
	"context"
	"fmt"
	"time"
)

const (
	// defaultBackoffMultiplier doubles the delay on every attempt.
	defaultBackoffMultiplier = 2.0
)

// Backoff is an exponential delay schedule.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before the given retry (1 is the first retry).
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 || b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult <= 1 {
		mult = defaultBackoffMultiplier
	}

	d := float64(b.Initial)
	for i := 1; i < retry; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Retry calls fn up to attempts times, sleeping per the backoff between calls.
// It stops early on success, on a Permanent error or when ctx is done. The
// returned error wraps the last failure.
func Retry(ctx context.Context, attempts int, b Backoff, fn func(ctx context.Context, attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(b.Delay(attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt-1, lastErr)
			}
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || ctx.Err() != nil {
			return fmt.Errorf("failed after %d attempts: %w", attempt, lastErr)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
