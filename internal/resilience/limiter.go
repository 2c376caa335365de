package resilience

import (
	"sync"

	"golang.org/x/time/rate"
)

// UserRateLimiter hands out one token bucket per user id. Buckets refill at
// callsPerHour and allow a small burst so a user's first messages of the day
// are not throttled.
type UserRateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewUserRateLimiter creates a per-user limiter for generative-model calls.
func NewUserRateLimiter(callsPerHour int) *UserRateLimiter {
	if callsPerHour < 1 {
		callsPerHour = 1
	}
	burst := callsPerHour / 10
	if burst < 3 {
		burst = 3
	}
	return &UserRateLimiter{
		limit: rate.Limit(float64(callsPerHour) / 3600.0),
		burst: burst,
	}
}

// Allow consumes one token for the user, returning ErrRateLimited when the
// bucket is empty. The check is non-blocking: a turn degrades instead of waiting.
func (l *UserRateLimiter) Allow(userID string) error {
	limiter := l.getOrCreate(userID)
	if !limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

func (l *UserRateLimiter) getOrCreate(userID string) *rate.Limiter {
	if v, ok := l.limiters.Load(userID); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	actual, _ := l.limiters.LoadOrStore(userID, limiter)
	return actual.(*rate.Limiter)
}
