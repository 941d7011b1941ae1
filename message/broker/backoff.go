package broker

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffFunc returns the wait before redelivering a message.
// The attempt parameter is the one-based delivery that failed.
type BackoffFunc func(attempt int) time.Duration

// ConstantBackoff waits delay before every redelivery.
// The jitter parameter controls randomization: 0.0 = no jitter, 0.2 = ±20% variation.
func ConstantBackoff(delay time.Duration, jitter float64) BackoffFunc {
	applyJitter := newApplyJitterFunc(jitter)
	return func(int) time.Duration {
		return applyJitter(delay)
	}
}

// ExponentialBackoff waits initialDelay * factor^(attempt-1), capped at
// maxDelay (0 = no limit), with jitter applied after capping.
func ExponentialBackoff(initialDelay time.Duration, factor float64, maxDelay time.Duration, jitter float64) BackoffFunc {
	applyJitter := newApplyJitterFunc(jitter)
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		backoff := time.Duration(float64(initialDelay) * math.Pow(factor, float64(attempt-1)))
		if maxDelay > 0 && backoff > maxDelay {
			backoff = maxDelay
		}
		return applyJitter(backoff)
	}
}

func newApplyJitterFunc(jitter float64) func(d time.Duration) time.Duration {
	jitter = min(max(jitter, 0), 1)
	if jitter == 0 {
		return func(d time.Duration) time.Duration { return d }
	}
	return func(d time.Duration) time.Duration {
		factor := 1.0 + (rand.Float64()*2*jitter - jitter)
		return time.Duration(float64(d) * factor)
	}
}
