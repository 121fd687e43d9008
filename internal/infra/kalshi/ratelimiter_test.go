package kalshi

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterBurstIsImmediate(t *testing.T) {
	rl := NewRateLimiter(20, 10, 20, 10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 20; i++ {
		if err := rl.WaitRead(ctx); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("burst of 20 reads took %s, should be immediate", elapsed)
	}
}

func TestRateLimiterBucketsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(20, 10, 20, 10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Drain the write bucket entirely; reads must still pass immediately.
	for i := 0; i < 10; i++ {
		if err := rl.WaitWrite(ctx); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	start := time.Now()
	if err := rl.WaitRead(ctx); err != nil {
		t.Fatalf("read after write drain: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("read blocked %s behind the write bucket", elapsed)
	}
}

func TestRateLimiterSnapshot(t *testing.T) {
	rl := NewRateLimiter(20, 10, 20, 10)
	ctx := context.Background()

	before := rl.Snapshot()
	_ = rl.WaitRead(ctx)
	after := rl.Snapshot()
	if after.ReadTokens >= before.ReadTokens {
		t.Fatalf("read tokens should drop after acquire: %f -> %f", before.ReadTokens, after.ReadTokens)
	}
	if after.WriteTokens < before.WriteTokens-0.01 {
		t.Fatalf("write tokens should be untouched: %f -> %f", before.WriteTokens, after.WriteTokens)
	}
}
