package worker

import (
	"math"
	"time"
)

// RetryPolicy decides when a failed row is attempted again and when it is
// parked as failed. Attempts are 1-based and count the one that just failed.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

func newRetryPolicy(maxAttempts int, initial, maxDelay time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, InitialDelay: initial, MaxDelay: maxDelay, Factor: 2}
}

// Delay is InitialDelay * Factor^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2
	}

	d := float64(initial) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// NextAttempt is the earliest time the row may be picked up again.
func (p RetryPolicy) NextAttempt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}

// Exhausted reports whether attempts has reached the ceiling.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
