package infra

import (
	"time"
)

const (
	// Reconnect backoff defaults, overridable via configuration.
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second

	// The doubling stops at 2^8 regardless of how long the venue stays
	// unreachable; max caps the result on top of that.
	maxBackoffExponent = 8
)

// CalculateBackoff returns the reconnect delay for a given attempt count.
// Logic: base * 2^min(attempt, 8), capped at max.
// If attempt is negative, it returns base.
func CalculateBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if attempt < 0 {
		return base
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}

	backoff := base * time.Duration(1<<attempt)

	if backoff > max {
		return max
	}

	return backoff
}
