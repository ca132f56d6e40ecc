package utils

import "time"

// Backoff returns the exponential delay for the given zero-based attempt,
// capped so repeated transient failures never stall a run indefinitely.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 25 * time.Millisecond
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
