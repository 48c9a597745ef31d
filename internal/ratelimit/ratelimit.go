// Package ratelimit enforces a per-identity request budget with one token
// bucket per key. Buckets live in process memory and are evicted after a
// period of inactivity.
package ratelimit

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/metrics"
)

// Defaults match a budget of 20 calls per minute per identity.
const (
	DefaultMaxHits = 20
	DefaultWindow  = time.Minute
)

// Limiter hands out per-key token buckets refilling maxHits tokens per window.
type Limiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	limit   rate.Limit
	burst   int
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Limiter allowing maxHits calls per window for each key.
// Non-positive arguments fall back to the defaults.
func New(maxHits int, window time.Duration, m *metrics.Metrics) *Limiter {
	if maxHits <= 0 {
		maxHits = DefaultMaxHits
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		// An idle bucket refills completely within one window, so dropping it
		// after two windows loses nothing.
		buckets: cache.New(2*window, window),
		limit:   rate.Every(window / time.Duration(maxHits)),
		burst:   maxHits,
		metrics: m,
		now:     time.Now,
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, found := l.buckets.Get(key); found {
		l.buckets.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.buckets.SetDefault(key, lim)
	return lim
}

// Allow consumes one token for key or returns a RateLimitError carrying the
// time until the next token.
func (l *Limiter) Allow(key string) error {
	now := l.now()
	r := l.bucket(key).ReserveN(now, 1)
	if !r.OK() {
		l.metrics.RateLimited()
		return &apperr.RateLimitError{}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		l.metrics.RateLimited()
		return &apperr.RateLimitError{RetryAfter: delay}
	}
	return nil
}
