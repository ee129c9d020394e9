// Package retry implements the exponential-backoff-with-jitter retry
// policy: a pure function from attempt count to next-attempt delay, and
// the retry-eligibility predicate the dispatcher uses to decide
// retry-vs-dead-letter.
package retry

import (
	"math/rand/v2"
	"time"
)

// Policy holds the backoff parameters. The zero value is not usable;
// construct with DefaultPolicy or NewPolicy.
type Policy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // in [0,1]
}

// DefaultPolicy returns the stock parameters: base 5s, max 300s,
// jitter 0.3.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:    5 * time.Second,
		MaxDelay:     300 * time.Second,
		JitterFactor: 0.3,
	}
}

// NewPolicy constructs a Policy from explicit seconds, clamping
// jitterFactor into [0,1].
func NewPolicy(baseDelaySeconds, maxDelaySeconds int, jitterFactor float64) Policy {
	if jitterFactor < 0 {
		jitterFactor = 0
	}
	if jitterFactor > 1 {
		jitterFactor = 1
	}
	return Policy{
		BaseDelay:    time.Duration(baseDelaySeconds) * time.Second,
		MaxDelay:     time.Duration(maxDelaySeconds) * time.Second,
		JitterFactor: jitterFactor,
	}
}

// Delay returns the delay before the next attempt after retryCount
// completed attempts: clamp(base * 2^retryCount, 1s, max) plus bounded
// jitter, truncated to an integer number of seconds ≥1.
//
// With JitterFactor = 0 and the documented defaults the sequence is
// exact: 5, 10, 20, 40, 80, 160, 300, 300, ...
//
// math/rand/v2's package-level Float64 is safe for concurrent use, so no
// explicit *rand.Rand guarded by a mutex is needed here.
func (p Policy) Delay(retryCount int) time.Duration {
	exp := float64(p.BaseDelay) * pow2(retryCount)
	if exp > float64(p.MaxDelay) {
		exp = float64(p.MaxDelay)
	}
	if exp < float64(time.Second) {
		exp = float64(time.Second)
	}

	jitter := exp * p.JitterFactor * (rand.Float64() - 0.5)
	total := exp + jitter

	d := time.Duration(total)
	if d < time.Second {
		d = time.Second
	}
	return d.Truncate(time.Second)
}

func pow2(n int) float64 {
	if n < 0 {
		return 1
	}
	if n > 62 {
		n = 62 // guards against overflow; MaxDelay clamps well before this matters
	}
	return float64(uint64(1) << uint(n))
}

// ShouldRetry reports whether a row with retryCount completed attempts is
// still within its retry budget.
func ShouldRetry(retryCount, maxRetries int) bool {
	return retryCount < maxRetries
}
