// Package retry decides whether a failed task runs again and how long
// to wait first. The decision is a pure function of the attempt count
// and budget; the delay comes from a backoff.Strategy.
package retry

import (
	"time"

	"github.com/kilnworks/kiln/backoff"
)

// Decision is the outcome of consulting the policy after a failure:
// either give up, or retry after a delay.
type Decision struct {
	Give  bool
	Delay time.Duration
}

// GiveUp returns the terminal decision.
func GiveUp() Decision {
	return Decision{Give: true}
}

// After returns a retry decision with the given delay.
func After(d time.Duration) Decision {
	return Decision{Delay: d}
}

// Policy decides retries for failed tasks.
type Policy struct {
	// Strategy computes the backoff delay for a given attempt.
	// Nil means backoff.DefaultStrategy().
	Strategy backoff.Strategy
}

// NewPolicy creates a Policy with the given backoff strategy.
func NewPolicy(s backoff.Strategy) *Policy {
	if s == nil {
		s = backoff.DefaultStrategy()
	}
	return &Policy{Strategy: s}
}

// Decide returns GiveUp once the attempt budget is spent, otherwise a
// retry after the strategy's delay for this attempt. attempt is the
// 1-indexed execution that just failed; a task with maxAttempts=N
// executes exactly N times before the policy gives up.
func (p *Policy) Decide(attempt, maxAttempts int) Decision {
	if attempt >= maxAttempts {
		return GiveUp()
	}
	return After(p.Strategy.Delay(attempt))
}
