package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}

	for _, tt := range tests {
		if got := b.Delay(tt.retry); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestBackoff_DefaultMultiplier(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond}
	if got := b.Delay(3); got != 40*time.Millisecond {
		t.Errorf("Delay(3) = %v, want 40ms", got)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, Backoff{Initial: time.Millisecond}, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, Backoff{Initial: time.Millisecond}, func(context.Context, int) error {
		calls++
		return ErrStreamError
	})
	if !errors.Is(err, ErrStreamError) {
		t.Errorf("Retry() error = %v, want wrapping %v", err, ErrStreamError)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_PermanentStopsEarly(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, Backoff{Initial: time.Millisecond}, func(context.Context, int) error {
		calls++
		return Permanent(ErrNotFound)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Retry() error = %v, want wrapping %v", err, ErrNotFound)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, Backoff{Initial: time.Hour}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("Retry() error = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
