// Package retry provides the explicit backoff policy object passed to every
// network boundary of the engine (session connect, session invoke, model
// generate). Policies are plain values so tests can substitute deterministic
// ones.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, first try included.
	// Values < 1 are treated as 1.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; each further attempt
	// doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the per-attempt wait. Zero means uncapped.
	MaxDelay time.Duration
	// Jitter adds up to the given fraction (0..1) of the computed delay as
	// random noise. Zero keeps the schedule deterministic for tests.
	Jitter float64
}

// DefaultPolicy mirrors the classic 3-attempt 1s/2s/4s ladder.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Delay returns the wait before the given retry attempt (attempt 1 is the
// first retry).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}

// Do runs op under the policy. A nil retryable predicate retries every error.
// Context cancellation is honored between attempts and returned as-is so
// callers can tell cancellation apart from exhaustion; exhaustion returns the
// last error from op.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt)):
			}
		}

		if err := op(ctx); err != nil {
			lastErr = err
			if retryable != nil && !retryable(err) {
				return err
			}
			continue
		}
		return nil
	}
	return lastErr
}
