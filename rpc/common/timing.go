package common

import (
	"math"
	"time"
)

// RoundMs rounds a millisecond value to two decimal places
func RoundMs(ms float64) float64 {
	return math.Round(ms*100) / 100
}

// DurationMs converts a duration to milliseconds rounded to two decimal places
func DurationMs(d time.Duration) float64 {
	return RoundMs(float64(d.Nanoseconds()) / 1e6)
}

// SinceMs returns the milliseconds elapsed since start, rounded to two decimal places
func SinceMs(start time.Time) float64 {
	return DurationMs(time.Since(start))
}
