package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-IP token bucket in front of the public routes. It only
// protects this replica from request floods; submission quotas are enforced
// by the shared-store limiter in the gatekeeper.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewThrottle creates a Throttle. rps is the steady-state requests per
// second; burst is the maximum burst size.
func NewThrottle(rps, burst int) *Throttle {
	return &Throttle{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Middleware returns the Gin middleware.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.allow(c.ClientIP()) {
			fangateThrottledTotal.Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (t *Throttle) allow(ip string) bool {
	now := t.now()
	t.mu.Lock()
	l, ok := t.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.limiters[ip] = l
	}
	l.lastSeen = now
	t.mu.Unlock()
	return l.limiter.AllowN(now, 1)
}

// Cleanup removes limiters idle for more than 10 minutes and returns how
// many were removed.
func (t *Throttle) Cleanup() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for ip, l := range t.limiters {
		if now.Sub(l.lastSeen) > t.idle {
			delete(t.limiters, ip)
			n++
		}
	}
	return n
}

// StartCleanup runs Cleanup every 5 minutes in a background goroutine until
// ctx is done.
func (t *Throttle) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
