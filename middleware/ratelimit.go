package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/upb/model-control-plane/internal/observability"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL     = 10 * time.Minute
	limiterSweepPeriod = time.Minute
)

type principalLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies one token bucket per principal. A non-positive rate disables it.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	metrics observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	limiters  map[string]*principalLimiter
	lastSweep time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second with the given burst
func NewRateLimiter(rps float64, burst int, metrics observability.Metrics, logger *zap.Logger) *RateLimiter {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		limiters: make(map[string]*principalLimiter),
	}
}

// Enabled reports whether requests are limited at all
func (l *RateLimiter) Enabled() bool {
	return l.limit > 0
}

// Allow consumes one token for key
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= limiterSweepPeriod {
		for k, pl := range l.limiters {
			if now.Sub(pl.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	pl, ok := l.limiters[key]
	if !ok {
		pl = &principalLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = pl
	}
	pl.lastSeen = now

	r := pl.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Limit rejects requests of a principal that exceeded its bucket. It runs after authentication.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := GetPrincipalFromContext(r.Context())
		if principal == nil || !l.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ok, retryAfter := l.Allow(principal.Username)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		l.metrics.RecordRateLimitReject()
		l.logger.Warn("rate limit exceeded",
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.String("username", principal.Username),
			zap.Duration("retry_after", retryAfter))

		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		_ = utils.WriteTooManyRequests(w, services.ErrRateLimitExceeded.Message, map[string]interface{}{
			"retry_after": fmt.Sprintf("%ds", seconds),
		})
	})
}
