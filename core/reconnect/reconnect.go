package reconnect

import (
	"math/rand"
	"time"
)

// Schedule defines the base backoff durations for successive reconnect
// attempts. Attempts beyond the schedule cap at 30 seconds.
var Schedule = []time.Duration{
	time.Second, time.Second, time.Second,
	5 * time.Second, 5 * time.Second, 5 * time.Second,
	15 * time.Second, 15 * time.Second, 15 * time.Second,
}

const maxDelay = 30 * time.Second

// jitterFrac is the maximum fraction of the base delay added or removed
// as jitter, so simultaneous clients do not reconnect in lockstep.
const jitterFrac = 0.2

// Base returns the un-jittered backoff duration for the given attempt.
func Base(attempt int) time.Duration {
	if attempt < len(Schedule) {
		return Schedule[attempt]
	}
	return maxDelay
}

// Delay returns the backoff duration for the given attempt with jitter
// applied. The result stays within ±20% of the base duration.
func Delay(attempt int) time.Duration {
	base := Base(attempt)
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterFrac * float64(base))
	return base + jitter
}
