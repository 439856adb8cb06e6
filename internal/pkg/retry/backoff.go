// Package retry provides bounded exponential backoff with jitter, used for
// ledger write conflicts, tenant lock contention and outbound webhooks.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff computes the wait before a retry attempt.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Floor is the smallest delay ever returned, to avoid busy-looping.
	Floor time.Duration
}

// Delay returns the backoff duration for the given retry attempt (1-based).
// Uses exponential backoff with full jitter: random(0, min(Max, Base * 2^(attempt-1))).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	expDelay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && expDelay > float64(b.Max) {
		expDelay = float64(b.Max)
	}

	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < b.Floor {
		jittered = b.Floor
	}
	return jittered
}

// Do runs fn until it succeeds, returns a non-retryable error, the context is
// done, or maxRetries retries have been spent. The last error is returned.
func Do(ctx context.Context, maxRetries int, b Backoff, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(b.Delay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return err
			}
		}
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
