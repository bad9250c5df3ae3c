package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayDoubles(t *testing.T) {
	base := 30 * time.Second
	limit := 30 * time.Minute

	assert.Equal(t, 30*time.Second, retryDelay(base, limit, 0))
	assert.Equal(t, 60*time.Second, retryDelay(base, limit, 1))
	assert.Equal(t, 120*time.Second, retryDelay(base, limit, 2))
	assert.Equal(t, 240*time.Second, retryDelay(base, limit, 3))
}

func TestRetryDelayCapped(t *testing.T) {
	base := 30 * time.Second
	limit := 30 * time.Minute

	assert.Equal(t, limit, retryDelay(base, limit, 6))
	assert.Equal(t, limit, retryDelay(base, limit, 20))
	// huge attempt counts must not overflow
	assert.Equal(t, limit, retryDelay(base, limit, 100000))
}

func TestRetryDelayMonotonic(t *testing.T) {
	base := 30 * time.Second
	limit := 30 * time.Minute

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := retryDelay(base, limit, attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestJitterBounds(t *testing.T) {
	base := 30 * time.Second
	for i := 0; i < 1000; i++ {
		j := jitter(base)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, base)
	}
}

func TestNextRetryDelayBounds(t *testing.T) {
	base := 30 * time.Second
	limit := 30 * time.Minute

	// With jitter bounded by the base, the delay for attempt k never
	// exceeds the un-jittered delay for attempt k+1, so successive
	// backoffs cannot move a retry earlier.
	for attempt := 0; attempt < 10; attempt++ {
		d := nextRetryDelay(base, limit, attempt)
		assert.GreaterOrEqual(t, d, retryDelay(base, limit, attempt))
		assert.Less(t, d, retryDelay(base, limit, attempt)+base)
	}
}

func TestRetryDelayZeroBase(t *testing.T) {
	assert.Equal(t, time.Duration(0), retryDelay(0, time.Minute, 3))
	assert.Equal(t, time.Duration(0), jitter(0))
}
