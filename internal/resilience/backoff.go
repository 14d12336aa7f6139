package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

const maxDelay = time.Duration(math.MaxInt64)

// Backoff is the delay before retry attempt (1-based): base doubled per
// attempt, spread by ±jitter (0.2 == 20%). Saturates instead of overflowing.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	shift := min(max(attempt, 1), 63) - 1
	d := maxDelay
	if base <= maxDelay>>shift {
		d = base << shift
	}
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	out := float64(d) + (rand.Float64()*2-1)*spread
	if out >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(out)
}
