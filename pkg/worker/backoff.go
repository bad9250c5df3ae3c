package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// retryDelay computes the deterministic exponential component of the
// backoff: min(base * 2^attempt, limit), with overflow protection.
func retryDelay(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return limit
	}

	delay := time.Duration(int64(base) * multiplier)
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

// jitter returns a random duration in [0, base). Bounding jitter by the
// base rather than the full delay keeps successive backoffs monotonically
// non-decreasing while still spreading a mass failure across time.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(base)))
}

// nextRetryDelay is the full backoff for an entry that failed with the
// given number of prior attempts.
func nextRetryDelay(base, limit time.Duration, priorAttempts int) time.Duration {
	return retryDelay(base, limit, priorAttempts) + jitter(base)
}
