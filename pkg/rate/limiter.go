package rate

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/code-payments/apns/pkg/cache"
)

// DefaultMaxKeys bounds the number of keys a local limiter tracks. The least
// recently used keys are forgotten beyond that, which resets their budget.
const DefaultMaxKeys = 100_000

// Limiter limits operations based on a provided key.
type Limiter interface {
	Allow(key string) (bool, error)
}

type localRateLimiter struct {
	limit rate.Limit
	burst int

	sync.Mutex
	limiters cache.Cache
}

// NewLocalRateLimiter returns an in memory limiter allowing limit operations
// per second for each key, with bursts of up to burst operations. A burst
// below one uses the limit, rounded down, with a minimum of one.
func NewLocalRateLimiter(limit rate.Limit, burst int) Limiter {
	if burst < 1 {
		burst = int(limit)
		if burst < 1 {
			burst = 1
		}
	}

	return &localRateLimiter{
		limit:    limit,
		burst:    burst,
		limiters: cache.NewCache(DefaultMaxKeys),
	}
}

// Allow implements limiter.Allow.
func (l *localRateLimiter) Allow(key string) (bool, error) {
	l.Lock()
	var limiter *rate.Limiter
	if cached, ok := l.limiters.Retrieve(key); ok {
		limiter = cached.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.limit, l.burst)
		if err := l.limiters.Insert(key, limiter, 1); err != nil {
			l.Unlock()
			return false, err
		}
	}
	l.Unlock()

	return limiter.Allow(), nil
}

// NoLimiter never limits operations
type NoLimiter struct {
}

// Allow implements limiter.Allow.
func (n *NoLimiter) Allow(key string) (bool, error) {
	return true, nil
}
