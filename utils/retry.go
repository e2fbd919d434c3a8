package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExponentialBackoff doubles (or multiplies) the delay per consecutive
// failure and never exceeds Max.
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before retry number attempt (1-based). A positive
// floor, such as a server-supplied Retry-After, raises the delay but the cap
// still applies.
func (b ExponentialBackoff) Delay(attempt int, floor time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	delay := time.Duration(d)
	if floor > delay {
		delay = floor
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// LinearBackoff grows the delay by Step per attempt, capped at Max.
type LinearBackoff struct {
	Step time.Duration
	Max  time.Duration
}

func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Step * time.Duration(attempt)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	Backoff     ExponentialBackoff
	Logger      arbor.ILogger
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	Sleep     SleepFunc
}

// Do executes fn with capped exponential back-off. It stops early on a
// non-retryable error or when ctx is cancelled.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := r.Backoff.Delay(attempt, 0)
		if r.Logger != nil {
			r.Logger.Warn().
				Str("operation", operationName).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Operation failed, retrying")
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s interrupted: %w", operationName, err)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}
