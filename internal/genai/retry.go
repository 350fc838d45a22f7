package genai

import (
	"context"
	"math/rand/v2"
	"time"
)

// CalculateBackoff returns the delay before retry number attempt using
// full jitter: random(0, min(max, initial * 2^(attempt-1))).
func CalculateBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 || initial <= 0 {
		return 0
	}
	delay := initial
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	if delay <= 0 {
		return 0
	}
	return rand.N(delay + 1)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs fn up to cfg.MaxAttempts times while its error classifies as
// ActionRetry. onRetry, when set, is called before each backoff.
func Retry[T any](ctx context.Context, cfg RetryConfig, onRetry func(attempt int, err error), fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ClassifyError(err) != ActionRetry || attempt == attempts-1 {
			break
		}

		backoff := CalculateBackoff(attempt+1, cfg.InitialDelay, cfg.MaxDelay)
		if !HasSufficientBudget(ctx, backoff) {
			break
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
		if err := Sleep(ctx, backoff); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// RemainingBudget returns the time left before ctx's deadline, or 0 when
// there is none.
func RemainingBudget(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}

// HasSufficientBudget reports whether ctx leaves at least required.
func HasSufficientBudget(ctx context.Context, required time.Duration) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) >= required
}
