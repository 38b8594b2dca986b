package middleware

import (
	"net/http"
	"sync"
	"time"
)

// tokenBucket is a classic refill-on-demand bucket.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// Limiter keeps one token bucket per client key (usually IP).
// rate <= 0 disables limiting.
type Limiter struct {
	rate  float64
	burst float64

	mu sync.Mutex
	m  map[string]*tokenBucket
}

func NewLimiter(rate, burst float64) *Limiter {
	return &Limiter{
		rate:  rate,
		burst: burst,
		m:     make(map[string]*tokenBucket),
	}
}

// Allow reports whether a request for the given key is allowed right now.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	b := l.m[key]
	if b == nil {
		b = newTokenBucket(l.burst, l.rate)
		l.m[key] = b
	}
	l.mu.Unlock()
	return b.allow()
}

// Middleware wraps an http.Handler with this limiter, keyed by client IP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
