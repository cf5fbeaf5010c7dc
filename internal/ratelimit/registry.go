package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Registry maps (class, key) to exactly one Bucket. Buckets are created on
// first use; concurrent first requests for a key share the winner of a
// single LoadOrStore.
type Registry struct {
	policies map[Class]Policy
	buckets  map[Class]*sync.Map
	now      func() time.Time
	logger   *logrus.Logger
}

type RegistryOption func(*Registry)

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(policies []Policy, logger *logrus.Logger, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		policies: make(map[Class]Policy, len(policies)),
		buckets:  make(map[Class]*sync.Map, len(policies)),
		now:      time.Now,
		logger:   logger,
	}
	for _, p := range policies {
		if p.Class == ClassNone {
			return nil, fmt.Errorf("policy for unclassified requests is not allowed")
		}
		if !p.valid() {
			return nil, fmt.Errorf("policy %s: capacity, refill tokens and period must be positive", p.Class)
		}
		if _, dup := r.policies[p.Class]; dup {
			return nil, fmt.Errorf("duplicate policy for class %s", p.Class)
		}
		r.policies[p.Class] = p
		r.buckets[p.Class] = &sync.Map{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the bucket for (class, key), creating it if needed. The
// second result is false for classes without a policy.
func (r *Registry) Resolve(class Class, key string) (*Bucket, bool) {
	m, ok := r.buckets[class]
	if !ok {
		return nil, false
	}
	if b, ok := m.Load(key); ok {
		return b.(*Bucket), true
	}
	b, loaded := m.LoadOrStore(key, NewBucket(r.policies[class], r.now()))
	if !loaded {
		bucketsActive.WithLabelValues(string(class)).Inc()
	}
	return b.(*Bucket), true
}

// Consume takes cost tokens from the (class, key) bucket. Classes without a
// policy are unlimited. A denial is reported as ErrQuotaExceeded alongside
// the Result.
func (r *Registry) Consume(class Class, key string, cost int64) (Result, error) {
	if _, ok := r.policies[class]; !ok {
		return Result{Allowed: true}, nil
	}

	for {
		b, _ := r.Resolve(class, key)
		res, ok := b.consume(r.now(), cost)
		if !ok {
			// lost a race with eviction; drop the stale entry so the next
			// Resolve creates a fresh bucket
			if r.buckets[class].CompareAndDelete(key, b) {
				bucketsActive.WithLabelValues(string(class)).Dec()
			}
			continue
		}

		if !res.Allowed {
			decisionsTotal.WithLabelValues(string(class), "rejected").Inc()
			return res, fmt.Errorf("%s bucket for %s: %w", class, key, ErrQuotaExceeded)
		}
		decisionsTotal.WithLabelValues(string(class), "admitted").Inc()
		return res, nil
	}
}

func (r *Registry) Policy(class Class) (Policy, bool) {
	p, ok := r.policies[class]
	return p, ok
}

// Len returns the number of live buckets of a class.
func (r *Registry) Len(class Class) int {
	m, ok := r.buckets[class]
	if !ok {
		return 0
	}
	n := 0
	m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// EvictIdle drops buckets that have been idle for maxIdle and have refilled
// to capacity. It returns the number of buckets removed.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	now := r.now()
	removed := 0
	for class, m := range r.buckets {
		m.Range(func(key, value any) bool {
			b := value.(*Bucket)
			if b.evictIfIdle(now, maxIdle) && m.CompareAndDelete(key, b) {
				bucketsActive.WithLabelValues(string(class)).Dec()
				removed++
			}
			return true
		})
	}
	return removed
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.EvictIdle(maxIdle); n > 0 {
				r.logger.WithField("evicted", n).Debug("Evicted idle rate limit buckets")
			}
		case <-ctx.Done():
			return
		}
	}
}
