package kalshi

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter enforces the venue's separate read/write rate limits using
// two independent token buckets.
type RateLimiter struct {
	read  *rate.Limiter
	write *rate.Limiter
}

// NewRateLimiter constructs a limiter with the given read/write rates
// (requests per second) and matching burst sizes.
func NewRateLimiter(readPerSec, writePerSec float64, readBurst, writeBurst int) *RateLimiter {
	return &RateLimiter{
		read:  rate.NewLimiter(rate.Limit(readPerSec), readBurst),
		write: rate.NewLimiter(rate.Limit(writePerSec), writeBurst),
	}
}

// WaitRead blocks until a read-bucket token is available or ctx is done.
func (r *RateLimiter) WaitRead(ctx context.Context) error {
	return r.read.Wait(ctx)
}

// WaitWrite blocks until a write-bucket token is available or ctx is done.
func (r *RateLimiter) WaitWrite(ctx context.Context) error {
	return r.write.Wait(ctx)
}

// Snapshot reports the tokens currently available in each bucket, for the
// metrics surface.
type Snapshot struct {
	ReadTokens  float64
	WriteTokens float64
}

func (r *RateLimiter) Snapshot() Snapshot {
	return Snapshot{
		ReadTokens:  r.read.Tokens(),
		WriteTokens: r.write.Tokens(),
	}
}
