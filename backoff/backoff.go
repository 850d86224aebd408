// Package backoff provides pluggable retry delay strategies.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retrying after attempt n
	// (1-indexed: attempt 1 is the first execution that failed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (additive jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter adds bounded random jitter on top of an
// exponential envelope.
// Delay = min(Initial * 2^(attempt-1), Max) + random in [0, Jitter).
// The envelope is monotonically non-decreasing and never undershot;
// the jitter de-synchronizes retries that would otherwise land on a
// failing dependency simultaneously.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with additive
// jitter drawn from [0, jitter).
func NewExponentialWithJitter(initial, maxDelay, jitter time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay, Jitter: jitter}
}

// Delay returns the capped exponential envelope plus random jitter.
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	if e.Jitter > 0 {
		d += rand.N(e.Jitter) //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	return d
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the engine:
// ExponentialWithJitter with 100ms initial, 30s cap, 50ms jitter.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(100*time.Millisecond, 30*time.Second, 50*time.Millisecond)
}
