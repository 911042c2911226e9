package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy describes how a user-triggered transfer is retried. The run
// controller itself never retries; only downloads consult a policy.
type RetryPolicy struct {
	Name       string
	MaxRetries int // 0 = no retries
	InitDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64 // 0.0 to 1.0
}

// NoRetry disables retries entirely.
var NoRetry = RetryPolicy{Name: "no-retry"}

// DownloadPolicy returns the policy used for result downloads with the
// given retry budget.
func DownloadPolicy(retries int) RetryPolicy {
	if retries <= 0 {
		return NoRetry
	}
	return RetryPolicy{
		Name:       "download",
		MaxRetries: retries,
		InitDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryFunc is the function signature for operations that can be retried.
type RetryFunc func(ctx context.Context) error

// RetryCallback is called before each retry attempt.
type RetryCallback func(attempt int, err error, nextDelay time.Duration)

// Do runs fn, retrying transient failures according to the policy.
// Returns the last error if all attempts fail.
func (p RetryPolicy) Do(ctx context.Context, fn RetryFunc, callback RetryCallback) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanentError(err) || attempt >= p.MaxRetries {
			break
		}

		delay := p.delay(attempt)
		if callback != nil {
			callback(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		span := d * p.Jitter
		d = d - span + (rand.Float64() * 2 * span)
	}
	return time.Duration(d)
}
