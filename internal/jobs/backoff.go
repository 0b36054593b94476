package jobs

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 2 * time.Second
	backoffCap  = 5 * time.Minute
)

// Backoff returns the next retry delay: exponential with full jitter, base
// 2s, capped at 5 minutes. The tighter schedule suits a database-
// contention-prone job queue better than a longer, jitter-free backoff.
func Backoff(retryCount int) time.Duration {
	delay := backoffBase * time.Duration(1<<uint(retryCount))
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	return time.Duration(rand.Int63n(int64(delay)))
}
