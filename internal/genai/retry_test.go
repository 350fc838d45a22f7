package genai

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		attempt     int
		initial     time.Duration
		max         time.Duration
		maxExpected time.Duration
	}{
		{"first attempt has no delay", 0, time.Second, 10 * time.Second, 0},
		{"negative attempt", -1, time.Second, 10 * time.Second, 0},
		{"first retry", 1, time.Second, 10 * time.Second, time.Second},
		{"second retry doubles", 2, time.Second, 10 * time.Second, 2 * time.Second},
		{"capped at max", 10, time.Second, 5 * time.Second, 5 * time.Second},
		{"zero initial delay", 1, 0, 10 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for range 20 {
				result := CalculateBackoff(tt.attempt, tt.initial, tt.max)
				if result < 0 || result > tt.maxExpected {
					t.Errorf("CalculateBackoff(%d, %v, %v) = %v, want in [0, %v]",
						tt.attempt, tt.initial, tt.max, result, tt.maxExpected)
				}
			}
		})
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()

	t.Run("normal sleep", func(t *testing.T) {
		t.Parallel()
		start := time.Now()
		if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
			t.Errorf("Sleep returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
			t.Errorf("Sleep returned too early: %v", elapsed)
		}
	})

	t.Run("non-positive duration", func(t *testing.T) {
		t.Parallel()
		if err := Sleep(context.Background(), -time.Second); err != nil {
			t.Errorf("Sleep(-1s) returned error: %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
			t.Errorf("want context.Canceled, got %v", err)
		}
	})
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("success on first attempt", func(t *testing.T) {
		t.Parallel()
		calls := 0
		got, err := Retry(context.Background(), fastRetry(3), nil, func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})
		if err != nil || got != "ok" || calls != 1 {
			t.Errorf("got (%q, %v) after %d calls", got, err, calls)
		}
	})

	t.Run("retries transient errors", func(t *testing.T) {
		t.Parallel()
		calls, retries := 0, 0
		got, err := Retry(context.Background(), fastRetry(3),
			func(int, error) { retries++ },
			func(context.Context) (int, error) {
				calls++
				if calls < 3 {
					return 0, errors.New("service unavailable")
				}
				return 42, nil
			})
		if err != nil || got != 42 {
			t.Errorf("got (%d, %v)", got, err)
		}
		if calls != 3 || retries != 2 {
			t.Errorf("calls = %d, retries = %d", calls, retries)
		}
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_, err := Retry(context.Background(), fastRetry(5), nil, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("invalid api key")
		})
		if err == nil || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("stops on fallback error", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_, err := Retry(context.Background(), fastRetry(5), nil, func(context.Context) (int, error) {
			calls++
			return 0, ErrMalformedOutput
		})
		if !errors.Is(err, ErrMalformedOutput) || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_, err := Retry(context.Background(), fastRetry(2), nil, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("503")
		})
		if err == nil || calls != 2 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Retry(ctx, fastRetry(3), nil, func(context.Context) (int, error) {
			t.Error("fn must not run")
			return 0, nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("want context.Canceled, got %v", err)
		}
	})
}

func TestBudget(t *testing.T) {
	t.Parallel()
	if RemainingBudget(context.Background()) != 0 {
		t.Error("no deadline should report 0")
	}
	if !HasSufficientBudget(context.Background(), time.Hour) {
		t.Error("no deadline means unlimited budget")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if RemainingBudget(ctx) <= 0 {
		t.Error("expected positive budget")
	}
	if HasSufficientBudget(ctx, time.Hour) {
		t.Error("an hour does not fit in 50ms")
	}
}
