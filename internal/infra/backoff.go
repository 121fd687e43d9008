package infra

import (
	"math/rand"
	"time"
)

// CalculateBackoff returns an exponential backoff duration with jitter for
// the given retry count, capped at maxSeconds. Used by the stream
// client's reconnect loop; the REST client does not use it, and retries a
// 429 with the same fixed delays as a 5xx.
func CalculateBackoff(retryCount, maxSeconds int) time.Duration {
	seconds := 1 << retryCount
	if seconds > maxSeconds {
		seconds = maxSeconds
	}
	jitter := time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
	return time.Duration(seconds)*time.Second + jitter
}
