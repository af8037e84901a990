package session

import (
	"math/rand/v2"
	"time"
)

// backoffDelay computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt > 20 {
		attempt = 20
	}
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}

	return delay
}
