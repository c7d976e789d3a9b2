package orchestrator

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 10 * time.Second
)

// backoffDelay returns the delay before the given retry attempt (1-based):
// exponential growth from backoffBase, capped at backoffCap, with half jitter
// so concurrent retries against the same provider spread out.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// retryDelay picks the larger of the standard backoff and a provider-suggested
// delay (Retry-After on rate limits).
func retryDelay(attempt int, providerSuggested time.Duration) time.Duration {
	d := backoffDelay(attempt)
	if providerSuggested > d {
		return providerSuggested
	}
	return d
}
