package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by client address. It backs
// the WebSocket upgrade route; the plain REST endpoints use httprate.
type RateLimiter struct {
	mu        sync.Mutex
	byKey     map[string][]time.Time
	limit     int
	window    time.Duration
	lastPurge time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		byKey:     make(map[string][]time.Time),
		limit:     limit,
		window:    window,
		lastPurge: time.Now(),
	}
}

// Allow records a request for key and reports whether it fits the window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	// Idle keys are purged opportunistically so the map does not grow with
	// one entry per address forever.
	if now.Sub(rl.lastPurge) > time.Minute {
		for k, hits := range rl.byKey {
			if kept := pruneBefore(hits, cutoff); len(kept) == 0 {
				delete(rl.byKey, k)
			} else {
				rl.byKey[k] = kept
			}
		}
		rl.lastPurge = now
	}

	hits := pruneBefore(rl.byKey[key], cutoff)
	if len(hits) >= rl.limit {
		rl.byKey[key] = hits
		return false
	}

	rl.byKey[key] = append(hits, now)
	return true
}

// pruneBefore drops entries at or before cutoff. Hits are appended in time
// order, so the survivors are a suffix.
func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func retryAfterSeconds(window time.Duration) int {
	secs := int(math.Ceil(window.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// RateLimitMiddleware limits by resolved client IP.
func RateLimitMiddleware(limiter *RateLimiter, resolver *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(resolver.Resolve(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limiter.window)))
				writeError(w, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "Too many requests, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
