package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/upb/bookstore-api/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines per-client rate limit settings
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate allowed per client IP
	RequestsPerSecond float64
	// Burst is the maximum burst size
	Burst int
	// IdleTTL is how long an unused client limiter is kept
	IdleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP with token buckets
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewRateLimiter creates a new per-IP rate limiter
func NewRateLimiter(cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		idleTTL:  cfg.IdleTTL,
		now:      time.Now,
		logger:   logger,
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, exists := rl.visitors[ip]; exists {
		v.lastSeen = rl.now()
		return v.limiter
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.visitors[ip] = &visitor{limiter: limiter, lastSeen: rl.now()}
	return limiter
}

// Limit rejects requests over the client's budget with 429
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		now := rl.now()

		reservation := rl.getLimiter(ip).ReserveN(now, 1)
		if !reservation.OK() {
			_ = utils.WriteTooManyRequests(w, time.Second)
			return
		}
		if delay := reservation.DelayFrom(now); delay > 0 {
			reservation.CancelAt(now)
			rl.logger.Warn("rate limit exceeded",
				zap.String("remote_ip", ip),
				zap.String("path", r.URL.Path),
				zap.String("request_id", GetRequestIDFromContext(r.Context())))
			_ = utils.WriteTooManyRequests(w, delay)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CleanupIdle drops limiters not used within the idle TTL and returns how many
func (rl *RateLimiter) CleanupIdle() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops idle limiters until stopCh is closed
func (rl *RateLimiter) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.CleanupIdle()
		case <-stopCh:
			return
		}
	}
}

// Visitors returns the number of tracked clients
func (rl *RateLimiter) Visitors() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}
