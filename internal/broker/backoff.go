package broker

import "time"

const (
	baseDelay = 500 * time.Millisecond
	maxDelay  = 30 * time.Second
)

// Backoff returns the exponential backoff duration for a given attempt:
// baseDelay * 2^attempt, capped at maxDelay.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return baseDelay
	}
	if attempt > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Sleeper abstracts the retry delay so tests can run deterministically.
type Sleeper func(time.Duration)
