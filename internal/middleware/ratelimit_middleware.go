package middleware

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/qcom/taskmanager/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

const RemainingHeader = "X-Rate-Limit-Remaining"

type RateLimitErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var tooManyRequests = RateLimitErrorResponse{
	Error:   "Too many requests",
	Message: "Rate limit exceeded. Please try again later.",
}

// RateLimitMiddleware admits or rejects each request before any handler
// runs, using one bucket per endpoint class and caller key.
type RateLimitMiddleware struct {
	registry   *ratelimit.Registry
	classifier ratelimit.Classifier
	logger     *logrus.Logger
}

func NewRateLimitMiddleware(registry *ratelimit.Registry, classifier ratelimit.Classifier, logger *logrus.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		registry:   registry,
		classifier: classifier,
		logger:     logger,
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := m.classifier.Classify(r.URL.Path)
		if class == ratelimit.ClassNone {
			next.ServeHTTP(w, r)
			return
		}

		key := ratelimit.KeyFor(class, r)
		res, err := m.registry.Consume(class, key, 1)
		if errors.Is(err, ratelimit.ErrQuotaExceeded) {
			m.logger.WithFields(logrus.Fields{
				"class": class,
				"key":   key,
				"path":  r.URL.Path,
			}).Warn("Rate limit exceeded")
			m.respondTooManyRequests(w, res.RetryAfter)
			return
		}

		w.Header().Set(RemainingHeader, strconv.FormatInt(res.Remaining, 10))
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) respondTooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RemainingHeader, "0")
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(retryAfter.Seconds())), 10))
	}
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(tooManyRequests)
}
