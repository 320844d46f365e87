package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(2)
	defer rl.Stop()

	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.Allow("u1") {
		t.Fatal("expected third request to be limited")
	}
	if !rl.Allow("u2") {
		t.Fatal("expected other key to have its own budget")
	}
}

func TestRateLimiterEvict(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()

	rl.Allow("old")
	rl.Allow("new")
	rl.mu.Lock()
	rl.limiters["old"].lastSeen = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.evict(time.Now().Add(-time.Minute))

	if rl.Len() != 1 {
		t.Fatalf("expected 1 tracked key after eviction, got %d", rl.Len())
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Stop()

	handler := rl.Limit(func(r *http.Request) string {
		return r.Header.Get("X-User")
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/send", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("u1"); code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	if code := send("u1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send(""); code != http.StatusOK {
		t.Fatalf("expected unkeyed request to pass, got %d", code)
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Stop()
	rl.Stop()
}
