package executor

import (
	"time"
)

// helper functions to read loosely typed JSON params

// StringParam returns params[key] if it is a string
func StringParam(params map[string]any, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok
}

// BoolParam returns params[key] if it is a bool, def otherwise
func BoolParam(params map[string]any, key string, def bool) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return def
}

// NumberParam returns params[key] if it is a number. JSON numbers decode to
// float64, Go callers may also pass ints.
func NumberParam(params map[string]any, key string) (float64, bool) {
	switch n := params[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// MillisParam reads a millisecond value as duration, def if absent or not positive
func MillisParam(params map[string]any, key string, def time.Duration) time.Duration {
	if ms, ok := NumberParam(params, key); ok && ms > 0 {
		return time.Duration(ms * float64(time.Millisecond))
	}
	return def
}
