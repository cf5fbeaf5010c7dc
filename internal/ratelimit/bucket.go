package ratelimit

import (
	"math/bits"
	"sync"
	"time"
)

// Bucket is a token bucket with greedy refill. Token counts are integral;
// the fractional part of a refill carries over through lastRefill so no
// time is lost between calls.
type Bucket struct {
	mu           sync.Mutex
	capacity     int64
	refillTokens int64
	refillPeriod time.Duration

	tokens     int64
	lastRefill time.Time
	lastSeen   time.Time
	evicted    bool
}

// NewBucket returns a full bucket. It panics on a non-positive policy.
func NewBucket(p Policy, now time.Time) *Bucket {
	if !p.valid() {
		panic("ratelimit: bucket policy needs positive capacity, refill tokens and period")
	}
	return &Bucket{
		capacity:     p.Capacity,
		refillTokens: p.RefillTokens,
		refillPeriod: p.RefillPeriod,
		tokens:       p.Capacity,
		lastRefill:   now,
		lastSeen:     now,
	}
}

// TryConsume refills the bucket for the time elapsed up to now and then
// takes cost tokens if that many are available. Refill, test and decrement
// happen under one lock.
func (b *Bucket) TryConsume(now time.Time, cost int64) (allowed bool, remaining int64) {
	res, _ := b.consume(now, cost)
	return res.Allowed, res.Remaining
}

// Available reports the token count at now without consuming.
func (b *Bucket) Available(now time.Time) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	return b.tokens
}

// consume returns ok=false when the bucket was evicted from its registry
// and must not be used any more.
func (b *Bucket) consume(now time.Time, cost int64) (Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted {
		return Result{}, false
	}

	b.refill(now)
	b.lastSeen = now

	res := Result{Limit: b.capacity}
	if cost <= 0 {
		res.Allowed = true
		res.Remaining = b.tokens
		return res, true
	}

	if b.tokens >= cost {
		b.tokens -= cost
		res.Allowed = true
		res.Remaining = b.tokens
		return res, true
	}

	res.Remaining = b.tokens
	if cost <= b.capacity {
		wait := b.durationFor(cost-b.tokens, true) - now.Sub(b.lastRefill)
		if wait > 0 {
			res.RetryAfter = wait
		}
	}
	return res, true
}

// evictIfIdle marks the bucket evicted when it has been untouched for
// maxIdle and is back at full capacity, so that dropping it grants nothing
// a fresh bucket would not.
func (b *Bucket) evictIfIdle(now time.Time, maxIdle time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted {
		return true
	}
	b.refill(now)
	if now.Sub(b.lastSeen) < maxIdle || b.tokens < b.capacity {
		return false
	}
	b.evicted = true
	return true
}

func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	if b.tokens >= b.capacity {
		b.lastRefill = now
		return
	}

	missing := b.capacity - b.tokens
	periods := int64(elapsed / b.refillPeriod)
	if periods >= (missing+b.refillTokens-1)/b.refillTokens {
		b.tokens = b.capacity
		b.lastRefill = now
		return
	}

	rem := elapsed % b.refillPeriod
	hi, lo := bits.Mul64(uint64(rem), uint64(b.refillTokens))
	partial, _ := bits.Div64(hi, lo, uint64(b.refillPeriod))
	add := periods*b.refillTokens + int64(partial)
	if add == 0 {
		return
	}

	b.tokens += add
	if b.tokens >= b.capacity {
		b.tokens = b.capacity
		b.lastRefill = now
		return
	}
	b.lastRefill = b.lastRefill.Add(b.durationFor(add, false))
}

// durationFor is the time it takes to accrue n tokens.
func (b *Bucket) durationFor(n int64, roundUp bool) time.Duration {
	hi, lo := bits.Mul64(uint64(n), uint64(b.refillPeriod))
	if roundUp {
		var carry uint64
		lo, carry = bits.Add64(lo, uint64(b.refillTokens-1), 0)
		hi += carry
	}
	if hi >= uint64(b.refillTokens) {
		return time.Duration(1<<63 - 1)
	}
	q, _ := bits.Div64(hi, lo, uint64(b.refillTokens))
	if q > 1<<63-1 {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(q)
}
