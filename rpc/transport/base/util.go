package base

import (
	"time"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// nextAcceptBackoff returns the delay before the next Accept call after an
// accept error. It doubles on every consecutive error and is capped at maxAcceptBackoff.
func nextAcceptBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return minAcceptBackoff
	}
	if next := current * 2; next < maxAcceptBackoff {
		return next
	}
	return maxAcceptBackoff
}
