package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		Name:       "test",
		MaxRetries: retries,
		InitDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestNoRetryRunsOnce(t *testing.T) {
	calls := 0
	expected := NewStatusError("download", 503)
	err := NoRetry.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return expected
	}, nil)

	if err != expected {
		t.Errorf("expected %v, got %v", expected, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDownloadPolicy(t *testing.T) {
	if p := DownloadPolicy(0); p.Name != NoRetry.Name {
		t.Errorf("expected no-retry policy for 0 retries, got %s", p.Name)
	}
	if p := DownloadPolicy(3); p.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", p.MaxRetries)
	}
}

func TestDoEventualSuccess(t *testing.T) {
	calls := 0
	attempts := []int{}
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewStatusError("download", 502)
		}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		attempts = append(attempts, attempt)
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected retry attempts %v", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewStatusError("download", 404)
	}, nil)

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for a permanent error, got %d", calls)
	}
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fastPolicy(3).Do(ctx, func(ctx context.Context) error {
		return errors.New("unreachable")
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
