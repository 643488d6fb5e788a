package ws

import (
	"log/slog"
	"sync"
	"time"
)

// SlidingWindowLimiter counts events per key over a rolling window and rejects
// once the window holds limit entries. Rejected events are not recorded, so a
// client hammering the limit does not extend its own lockout.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
}

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow reports whether another event for key fits in the current window and
// records it if so.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	return l.allowAt(key, time.Now())
}

func (l *SlidingWindowLimiter) allowAt(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}
	l.events[key] = append(kept, now)
	return true
}

// NonceStore remembers authentication nonces so replayed presence frames can
// be rejected. Expired entries are swept on every call.
type NonceStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func NewNonceStore(ttl time.Duration) *NonceStore {
	return &NonceStore{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// Remember records the nonce and reports whether it was new.
func (n *NonceStore) Remember(nonce string) bool {
	return n.rememberAt(nonce, time.Now())
}

func (n *NonceStore) rememberAt(nonce string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	cutoff := now.Add(-n.ttl)
	for key, seenAt := range n.seen {
		if !seenAt.After(cutoff) {
			delete(n.seen, key)
		}
	}

	if _, ok := n.seen[nonce]; ok {
		slog.Warn("replayed auth nonce rejected", "component", "ws", "nonce", nonce)
		return false
	}
	n.seen[nonce] = now
	return true
}
