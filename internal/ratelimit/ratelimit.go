// Package ratelimit provides the deterministic token bucket used to bound the
// rate of inbound signaling messages per connection.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so tests can drive the bucket deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

const nanoTokensPerToken int64 = int64(time.Second) // 1e9

const maxInt64 = int64(^uint64(0) >> 1)

// Bucket is a token bucket that refills at an integer rate (tokens/sec).
//
// It uses fixed-point "nano-tokens" (1 token = 1e9 nano-tokens) so refill
// arithmetic stays exact: a rate of X tokens/sec adds X nano-tokens per
// elapsed nanosecond.
type Bucket struct {
	mu sync.Mutex

	clock Clock

	burst    int64 // capacity in tokens
	fillRate int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

// NewBucket returns a full bucket holding burst tokens that refills at
// perSecond tokens/sec. Negative values are clamped to zero.
func NewBucket(clock Clock, burst, perSecond int64) *Bucket {
	if clock == nil {
		clock = RealClock{}
	}
	if burst < 0 {
		burst = 0
	}
	if perSecond < 0 {
		perSecond = 0
	}
	return &Bucket{
		clock:     clock,
		burst:     burst,
		fillRate:  perSecond,
		available: tokensToNano(burst),
		last:      clock.Now(),
	}
}

// Allow consumes n tokens if available. n <= 0 always succeeds.
func (b *Bucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}

	cost := tokensToNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *Bucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards. Skip the refill and move the reference point.
		b.last = now
		return
	}

	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.burst <= 0 {
		return
	}

	capacity := tokensToNano(b.burst)
	if b.available >= capacity {
		b.available = capacity
		return
	}

	need := capacity - b.available
	elapsedNanos := elapsed.Nanoseconds()

	// fillRate is tokens/sec, which is exactly nano-tokens per nanosecond in
	// the fixed-point representation. Clamp instead of overflowing when the
	// elapsed time is enough to fill the bucket outright.
	maxElapsedToFill := need / b.fillRate
	if maxElapsedToFill <= 0 || elapsedNanos >= maxElapsedToFill {
		b.available = capacity
		return
	}

	b.available += elapsedNanos * b.fillRate
	if b.available > capacity {
		b.available = capacity
	}
}

func tokensToNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
