package store

import (
	"math"
	"math/rand"
	"time"
)

// RetryBackoff computes the delay before an event's next attempt:
// min(maxSeconds, 2^attempts) seconds, plus up to 25% full jitter. attempts
// is the 1-indexed attempt count just completed (the first retry after
// attempt 1 uses 2^1=2s).
func RetryBackoff(attempts, maxSeconds int) time.Duration {
	return retryBackoff(attempts, maxSeconds, rand.Float64)
}

func retryBackoff(attempts, maxSeconds int, jitterSource func() float64) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	base := math.Pow(2, float64(attempts))
	if base > float64(maxSeconds) {
		base = float64(maxSeconds)
	}
	jitter := base * 0.25 * jitterSource()
	return time.Duration((base + jitter) * float64(time.Second))
}
