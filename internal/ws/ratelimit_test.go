package ws

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiter(t *testing.T) {
	base := time.Unix(1_770_000_000, 0)
	l := NewSlidingWindowLimiter(2, time.Minute)

	if !l.allowAt("alice", base) {
		t.Fatal("first event should be allowed")
	}
	if !l.allowAt("alice", base.Add(time.Second)) {
		t.Fatal("second event should be allowed")
	}
	if l.allowAt("alice", base.Add(2*time.Second)) {
		t.Fatal("third event inside the window should be rejected")
	}
	if !l.allowAt("bob", base.Add(2*time.Second)) {
		t.Fatal("other keys keep their own budget")
	}
	if !l.allowAt("alice", base.Add(61*time.Second)) {
		t.Fatal("events should be allowed again once the window slides past")
	}
}

func TestSlidingWindowLimiterRejectionsNotRecorded(t *testing.T) {
	base := time.Unix(1_770_000_000, 0)
	l := NewSlidingWindowLimiter(1, time.Minute)

	if !l.allowAt("alice", base) {
		t.Fatal("first event should be allowed")
	}
	for i := 1; i <= 30; i++ {
		if l.allowAt("alice", base.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("event %d inside the window should be rejected", i)
		}
	}
	// Only the accepted event counts against the window, so hammering the
	// limit must not extend the lockout.
	if !l.allowAt("alice", base.Add(61*time.Second)) {
		t.Fatal("rejected events must not extend the lockout")
	}
}

func TestNonceStore(t *testing.T) {
	base := time.Unix(1_770_000_000, 0)
	n := NewNonceStore(5 * time.Minute)

	if !n.rememberAt("key:1", base) {
		t.Fatal("fresh nonce should be accepted")
	}
	if n.rememberAt("key:1", base.Add(time.Second)) {
		t.Fatal("duplicate nonce should be rejected")
	}
	if !n.rememberAt("key:2", base.Add(time.Second)) {
		t.Fatal("distinct nonce should be accepted")
	}
	if !n.rememberAt("key:1", base.Add(5*time.Minute+time.Second)) {
		t.Fatal("nonce should be accepted again after its entry expires")
	}
}
