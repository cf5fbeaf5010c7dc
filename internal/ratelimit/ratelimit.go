// Package ratelimit provides per-key token bucket quotas partitioned by
// endpoint class. State lives in process memory only.
package ratelimit

import (
	"errors"
	"time"

	"github.com/qcom/taskmanager/internal/config"
)

var ErrQuotaExceeded = errors.New("quota exceeded")

// Class is an endpoint class with its own quota parameters.
type Class string

const (
	ClassAuth Class = "auth"
	ClassAPI  Class = "api"
	// ClassNone marks unclassified requests, which are never bucketed.
	ClassNone Class = ""
)

// Policy configures the buckets of one class: Capacity tokens at most,
// RefillTokens added greedily over every RefillPeriod.
type Policy struct {
	Class        Class
	Capacity     int64
	RefillTokens int64
	RefillPeriod time.Duration
}

func (p Policy) valid() bool {
	return p.Capacity > 0 && p.RefillTokens > 0 && p.RefillPeriod > 0
}

func DefaultPolicies() []Policy {
	return []Policy{
		{Class: ClassAuth, Capacity: 10, RefillTokens: 10, RefillPeriod: time.Minute},
		{Class: ClassAPI, Capacity: 100, RefillTokens: 100, RefillPeriod: time.Minute},
	}
}

// PoliciesFromConfig refills each class to full capacity once per window.
func PoliciesFromConfig(cfg config.RateLimitConfig) []Policy {
	return []Policy{
		{Class: ClassAuth, Capacity: cfg.Auth.Capacity, RefillTokens: cfg.Auth.Capacity, RefillPeriod: cfg.Auth.Window},
		{Class: ClassAPI, Capacity: cfg.API.Capacity, RefillTokens: cfg.API.Capacity, RefillPeriod: cfg.API.Window},
	}
}

// Result is the outcome of a consumption attempt.
type Result struct {
	Allowed bool
	// Limit is the bucket capacity; zero for unlimited requests.
	Limit int64
	// Remaining is the token count after the attempt.
	Remaining int64
	// RetryAfter is how long until the denied cost becomes available.
	RetryAfter time.Duration
}
