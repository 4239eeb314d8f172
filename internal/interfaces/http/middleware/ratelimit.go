package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/shopsync/backend/internal/interfaces/http/dto"
)

// ClientRateLimiter throttles unauthenticated endpoints per client key
type ClientRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastEvict time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimiter allows burst requests per key, refilled at limit per window
func NewClientRateLimiter(limit int, window time.Duration) *ClientRateLimiter {
	return &ClientRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window * 2,
	}
}

// Allow reports whether key may issue a request now
func (rl *ClientRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastEvict) > rl.idle {
		rl.evictLocked(now)
	}
	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys
func (rl *ClientRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// evictLocked drops keys idle for two windows
func (rl *ClientRateLimiter) evictLocked(now time.Time) {
	rl.lastEvict = now
	cutoff := now.Add(-rl.idle)
	for key, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// RateLimit rejects clients, keyed by IP, that exceed the limiter
func RateLimit(limiter *ClientRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", strconv.Itoa(int(limiter.idle.Seconds()/2)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited,
				"Too many requests",
				c.GetString(RequestIDKey),
			))
			return
		}
		c.Next()
	}
}
