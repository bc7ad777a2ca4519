package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced time source.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestRateLimiter(t *testing.T, maxAttempts int, window time.Duration) (*RateLimiter, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(maxAttempts, window)
	rl.now = clock.Now
	t.Cleanup(rl.Stop)
	return rl, clock
}

// =============================================================================
// RateLimiter Tests
// =============================================================================

func TestRateLimiter_AllowsBurstThenDenies(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("192.168.1.1"), "request %d", i+1)
	}
	assert.False(t, rl.Allow("192.168.1.1"), "6th request denied")
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 2, time.Minute)

	assert.True(t, rl.Allow("192.168.1.1"))
	assert.True(t, rl.Allow("192.168.1.1"))
	assert.False(t, rl.Allow("192.168.1.1"))

	assert.True(t, rl.Allow("192.168.1.2"), "other IP has its own bucket")
}

func TestRateLimiter_Refills(t *testing.T) {
	rl, clock := newTestRateLimiter(t, 4, time.Hour)

	for i := 0; i < 4; i++ {
		require.True(t, rl.Allow("ip"))
	}
	require.False(t, rl.Allow("ip"))

	// One token comes back every window/maxAttempts.
	clock.Advance(15 * time.Minute)
	assert.True(t, rl.Allow("ip"))
	assert.False(t, rl.Allow("ip"))

	clock.Advance(time.Hour)
	for i := 0; i < 4; i++ {
		assert.True(t, rl.Allow("ip"), "full after a whole window")
	}
}

func TestRateLimiter_TimeUntilReset(t *testing.T) {
	rl, clock := newTestRateLimiter(t, 3, 3*time.Minute)

	assert.Zero(t, rl.TimeUntilReset("unknown"))

	for i := 0; i < 3; i++ {
		rl.Allow("ip")
	}
	assert.Equal(t, time.Minute, rl.TimeUntilReset("ip"))

	clock.Advance(20 * time.Second)
	assert.Equal(t, 40*time.Second, rl.TimeUntilReset("ip"))
	assert.False(t, rl.Allow("ip"), "asking does not consume a token")
}

func TestRateLimiter_Reset(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 1, time.Hour)

	require.True(t, rl.Allow("ip"))
	require.False(t, rl.Allow("ip"))

	rl.Reset("ip")
	assert.True(t, rl.Allow("ip"))
}

func TestRateLimiter_SweepDropsIdleBuckets(t *testing.T) {
	rl, clock := newTestRateLimiter(t, 1, time.Minute)

	rl.Allow("old")
	clock.Advance(2 * time.Minute)
	rl.Allow("new")
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.entries, "old")
	assert.Contains(t, rl.entries, "new")
}

// =============================================================================
// Rate Limit Middleware Tests
// =============================================================================

func postFrom(ip, path string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = ip + ":5555"
	return req
}

func TestRateLimitMiddleware_BlocksAfterLimit(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 2, time.Minute)
	h := NewRateLimitMiddleware(rl, newTestLogger(), false).Limit(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, postFrom("10.0.0.1", "/login"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postFrom("10.0.0.1", "/login"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Too Many Requests")
}

func TestRateLimitMiddleware_GetIsNeverCounted(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 1, time.Minute)
	h := NewRateLimitMiddleware(rl, newTestLogger(), false).Limit(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postFrom("192.0.2.1", "/login"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_JSONResponse(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 1, time.Minute)
	h := NewRateLimitMiddleware(rl, newTestLogger(), false).Limit(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), postFrom("10.0.0.1", "/api/geo/reverse"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postFrom("10.0.0.1", "/api/geo/reverse"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"code":"rate_limit"`)
}

func TestRateLimitMiddleware_ProxyHeaders(t *testing.T) {
	t.Run("trusted", func(t *testing.T) {
		rl, _ := newTestRateLimiter(t, 1, time.Minute)
		h := NewRateLimitMiddleware(rl, newTestLogger(), true).Limit(okHandler())

		first := postFrom("10.0.0.1", "/login")
		first.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
		h.ServeHTTP(httptest.NewRecorder(), first)

		// Same proxy, different client.
		second := postFrom("10.0.0.1", "/login")
		second.Header.Set("X-Real-IP", "203.0.113.6")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, second)
		assert.Equal(t, http.StatusOK, rec.Code)

		third := postFrom("10.0.0.1", "/login")
		third.Header.Set("X-Forwarded-For", "203.0.113.5")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, third)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("untrusted headers cannot mint new clients", func(t *testing.T) {
		rl, _ := newTestRateLimiter(t, 1, time.Minute)
		h := NewRateLimitMiddleware(rl, newTestLogger(), false).Limit(okHandler())

		first := postFrom("192.0.2.50", "/login")
		first.Header.Set("X-Forwarded-For", "203.0.113.1")
		h.ServeHTTP(httptest.NewRecorder(), first)

		second := postFrom("192.0.2.50", "/login")
		second.Header.Set("X-Forwarded-For", "203.0.113.2")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, second)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

// =============================================================================
// AuthRateLimiter Tests
// =============================================================================

func TestAuthRateLimiter_DefaultLimits(t *testing.T) {
	a := NewAuthRateLimiter(AuthRateLimits{}, newTestLogger())
	t.Cleanup(a.Stop)

	tests := []struct {
		name    string
		limit   func(http.Handler) http.Handler
		path    string
		allowed int
	}{
		{"login", a.LimitLogin, "/login", 5},
		{"register", a.LimitRegister, "/register", 5},
		{"verify", a.LimitVerify, "/register/verify", 30},
		{"password reset", a.LimitPasswordReset, "/reset-password", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.limit(okHandler())
			for i := 0; i < tt.allowed; i++ {
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, postFrom("198.51.100.1", tt.path))
				require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, postFrom("198.51.100.1", tt.path))
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		})
	}
}

func TestAuthRateLimiter_ResetLogin(t *testing.T) {
	a := NewAuthRateLimiter(AuthRateLimits{LoginAttempts: 1, LoginWindow: time.Hour}, newTestLogger())
	t.Cleanup(a.Stop)
	h := a.LimitLogin(okHandler())

	req := postFrom("198.51.100.7", "/login")
	h.ServeHTTP(httptest.NewRecorder(), req)
	a.ResetLogin(req)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postFrom("198.51.100.7", "/login"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

