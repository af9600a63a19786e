package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterStaleAfter = 10 * time.Minute
)

// clientLimiters holds one token bucket per client IP. Buckets idle past
// limiterStaleAfter are dropped by a janitor goroutine so the map stays
// bounded by the set of recently active clients.
type clientLimiters struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

type clientBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func (cl *clientLimiters) get(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	b, ok := cl.buckets[ip]
	if !ok {
		b = &clientBucket{bucket: rate.NewLimiter(cl.rps, cl.burst)}
		cl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.bucket
}

func (cl *clientLimiters) dropStale() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for ip, b := range cl.buckets {
		if time.Since(b.lastSeen) > limiterStaleAfter {
			delete(cl.buckets, ip)
		}
	}
}

// RateLimiter returns a Gin middleware enforcing a per-IP token bucket of
// rps steady-state requests per second with the given burst. burst <= 0
// defaults to twice rps.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	if burst <= 0 {
		burst = rps * 2
	}
	cl := &clientLimiters{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}

	go func() {
		for range time.Tick(limiterSweepEvery) {
			cl.dropStale()
		}
	}()

	return func(c *gin.Context) {
		if !cl.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
