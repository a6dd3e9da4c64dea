package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
)

// RateLimit caps requests per client IP and route within a fixed window.
// The vault is a single process, so the counters live in memory; exceeding
// the cap yields the standard error envelope with a Retry-After hint.
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	l := &rateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*rateWindow),
	}
	if limit > 0 && window > 0 {
		go l.sweep()
	}
	return l.handle
}

type rateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	hits  int
	reset time.Time
}

func (l *rateLimiter) handle(c *gin.Context) {
	if l.limit <= 0 || l.window <= 0 {
		c.Next()
		return
	}

	hits, reset := l.take(c.ClientIP() + "|" + c.FullPath())
	resetIn := int(time.Until(reset).Seconds())

	c.Header("X-RateLimit-Limit", strconv.Itoa(l.limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, l.limit-hits)))
	c.Header("X-RateLimit-Reset", strconv.Itoa(resetIn))

	if hits > l.limit {
		c.Header("Retry-After", strconv.Itoa(resetIn+1))
		response.Error(c, apperrors.ErrRateLimit)
		c.Abort()
		return
	}

	c.Next()
}

func (l *rateLimiter) take(key string) (int, time.Time) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.reset) {
		w = &rateWindow{reset: now.Add(l.window)}
		l.windows[key] = w
	}
	w.hits++
	return w.hits, w.reset
}

// sweep drops expired windows so one-off clients do not accumulate forever.
func (l *rateLimiter) sweep() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		l.mu.Lock()
		for key, w := range l.windows {
			if now.After(w.reset) {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}
