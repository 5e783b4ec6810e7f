package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/taskmate/internal/auth"
)

// fakeClock is a controllable time source for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestLimiter creates a Limiter wired to the given fake clock.
func newTestLimiter(rate int, window time.Duration, clock *fakeClock) *Limiter {
	l := New(rate, window)
	l.now = clock.Now
	return l
}

func TestTakeBasic(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(3, time.Minute, clock)

	for i := 0; i < 3; i++ {
		if !l.Take("user-1").Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if l.Take("user-1").Allowed {
		t.Fatal("4th request should be denied")
	}
}

func TestTakeDifferentKeys(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(1, time.Minute, clock)

	if !l.Take("a").Allowed {
		t.Fatal("first request for key 'a' should be allowed")
	}
	if l.Take("a").Allowed {
		t.Fatal("second request for key 'a' should be denied")
	}
	// Different key should have its own bucket.
	if !l.Take("b").Allowed {
		t.Fatal("first request for key 'b' should be allowed")
	}
}

func TestTokenRefill(t *testing.T) {
	clock := newFakeClock(time.Now())
	// 60 tokens per minute = 1 token per second.
	l := newTestLimiter(60, time.Minute, clock)

	for i := 0; i < 60; i++ {
		l.Take("k")
	}
	if l.Take("k").Allowed {
		t.Fatal("should be denied after exhausting tokens")
	}

	clock.Advance(1 * time.Second)
	if !l.Take("k").Allowed {
		t.Fatal("should be allowed after 1 second refill")
	}
	if l.Take("k").Allowed {
		t.Fatal("should be denied again after consuming refilled token")
	}

	clock.Advance(5 * time.Second)
	for i := 0; i < 5; i++ {
		if !l.Take("k").Allowed {
			t.Fatalf("request %d should be allowed after 5s refill", i+1)
		}
	}
	if l.Take("k").Allowed {
		t.Fatal("should be denied after consuming 5 refilled tokens")
	}
}

func TestTokenRefillCap(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(5, time.Minute, clock)

	l.Take("k")
	l.Take("k")

	// Advance a very long time; tokens should cap at rate.
	clock.Advance(10 * time.Minute)

	if d := l.Status("k"); d.Remaining != 5 {
		t.Fatalf("remaining should cap at 5, got %d", d.Remaining)
	}
}

func TestConcurrentAccess(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(100, time.Minute, clock)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Take("concurrent").Allowed
		}()
	}

	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}

	if count != 100 {
		t.Fatalf("expected exactly 100 allowed, got %d", count)
	}
}

func TestStatus(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(10, time.Minute, clock)

	d := l.Status("s")
	if d.Limit != 10 || d.Remaining != 10 {
		t.Fatalf("expected 10/10 on a fresh bucket, got %d/%d", d.Remaining, d.Limit)
	}

	l.Take("s")
	l.Take("s")
	last := l.Take("s")
	if last.Remaining != 7 {
		t.Fatalf("expected remaining 7 after three takes, got %d", last.Remaining)
	}

	// About 18 seconds for 3 tokens at 10/min.
	now := clock.Now()
	if !last.ResetAt.After(now) {
		t.Fatalf("resetAt %v should be after now %v", last.ResetAt, now)
	}
	if got := last.ResetAt.Sub(now); got < 17*time.Second || got > 19*time.Second {
		t.Fatalf("expected reset in about 18s, got %v", got)
	}
}

func TestStatusFullBucketResetIsNow(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(5, time.Minute, clock)

	d := l.Status("full")
	now := clock.Now()

	if !d.ResetAt.Equal(now) {
		t.Fatalf("full bucket resetAt should equal now, got diff %v", d.ResetAt.Sub(now))
	}
}

func TestPrune(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(2, time.Minute, clock)

	l.Take("idle")
	l.Take("busy")
	clock.Advance(10 * time.Minute)
	l.Take("busy")

	if n := l.Prune(5 * time.Minute); n != 1 {
		t.Fatalf("expected 1 bucket pruned, got %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 bucket left, got %d", l.Len())
	}
}

func TestMiddleware(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(2, time.Minute, clock)

	rejected := 0
	h := Middleware(l, func() { rejected++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if userID != "" {
			req = req.WithContext(auth.ContextWithUserID(req.Context(), userID))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := do("U1"); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i+1, rr.Code)
		}
	}

	rr := do("U1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if rejected != 1 {
		t.Errorf("expected onReject called once, got %d", rejected)
	}

	if rr := do("U2"); rr.Code != http.StatusNoContent {
		t.Errorf("other users keep their own bucket, got %d", rr.Code)
	}
	if rr := do(""); rr.Code != http.StatusNoContent {
		t.Errorf("unauthenticated requests are not limited here, got %d", rr.Code)
	}
}

func TestMiddlewareNilLimiter(t *testing.T) {
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.ContextWithUserID(req.Context(), "U1"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", rr.Code)
	}
}
