package middleware

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/config"
	"golang.org/x/time/rate"
)

// RateLimiter interface for per-user rate limiting
type RateLimiter interface {
	Allow(userName string) bool
	Reset(userName string)
}

// UserRateLimiter implements per-user rate limiting keyed by chat user
// name.
type UserRateLimiter struct {
	enabled         bool
	limiters        map[string]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.Config, logger *logrus.Logger) RateLimiter {
	if !cfg.RateLimit.Enabled {
		return &UserRateLimiter{enabled: false}
	}

	rl := &UserRateLimiter{
		enabled:         true,
		limiters:        make(map[string]*rate.Limiter),
		rpm:             cfg.RateLimit.RequestsPerMinute,
		burst:           cfg.RateLimit.Burst,
		logger:          logger,
		cleanupInterval: 1 * time.Hour,
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a user is allowed to make a request
func (r *UserRateLimiter) Allow(userName string) bool {
	if !r.enabled {
		return true
	}

	limiter := r.getLimiter(userName)
	allowed := limiter.Allow()

	if !allowed {
		r.logger.WithField("user", userName).Warn("Rate limit exceeded")
	}

	return allowed
}

// Reset resets the rate limiter for a user
func (r *UserRateLimiter) Reset(userName string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, userName)
	r.mu.Unlock()
}

func (r *UserRateLimiter) getLimiter(userName string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[userName]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, exists := r.limiters[userName]; exists {
		return limiter
	}

	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[userName] = limiter

	return limiter
}

func (r *UserRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		if len(r.limiters) > 10000 {
			r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
			r.limiters = make(map[string]*rate.Limiter)
		}
		r.mu.Unlock()
	}
}
