// internal/app/backoff.go
package app

import (
	"math/rand"
	"time"
)

// NextRetryAt computes the next retry time using exponential backoff with full jitter.
// attempt is 1-based (1 => base).
func NextRetryAt(now time.Time, attempt int, base, max time.Duration, rng *rand.Rand) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Minute
	}
	if max <= 0 {
		max = time.Hour
	}

	delay := base
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}

	var jitter time.Duration
	if rng == nil {
		jitter = time.Duration(rand.Int63n(int64(delay) + 1))
	} else {
		jitter = time.Duration(rng.Int63n(int64(delay) + 1))
	}
	return now.Add(jitter)
}
