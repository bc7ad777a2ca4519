package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/DukeRupert/tmportal/internal/auth"
	"golang.org/x/time/rate"
)

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter keeps one token bucket per key. A bucket holds maxAttempts
// tokens and refills completely over window.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry

	stop     chan struct{}
	stopOnce sync.Once
}

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing maxAttempts per window per key.
// Call Stop to end its cleanup goroutine.
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:   rate.Every(window / time.Duration(maxAttempts)),
		burst:   maxAttempts,
		idle:    window,
		now:     time.Now,
		entries: make(map[string]*rateLimitEntry),
		stop:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) entry(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		e = &rateLimitEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[key] = e
	}
	e.lastSeen = rl.now()
	return e.limiter
}

// Allow takes a token for key and reports whether one was available.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.entry(key).AllowN(rl.now(), 1)
}

// Reset forgets key, e.g. after a successful login.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

// TimeUntilReset returns how long until key may make another attempt.
func (rl *RateLimiter) TimeUntilReset(key string) time.Duration {
	rl.mu.Lock()
	e, ok := rl.entries[key]
	rl.mu.Unlock()
	if !ok {
		return 0
	}

	now := rl.now()
	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return rl.idle
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup drops buckets untouched for a whole window; they would be full
// again anyway.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.entries, key)
		}
	}
}

// =============================================================================
// Rate Limit Middleware
// =============================================================================

// RateLimitMiddleware wraps a rate limiter for use as HTTP middleware.
type RateLimitMiddleware struct {
	limiter    *RateLimiter
	logger     *slog.Logger
	trustProxy bool
}

// NewRateLimitMiddleware creates a new rate limit middleware. Clients are
// keyed by auth.ClientIP; trustProxy enables the forwarding headers.
func NewRateLimitMiddleware(limiter *RateLimiter, logger *slog.Logger, trustProxy bool) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:    limiter,
		logger:     logger,
		trustProxy: trustProxy,
	}
}

// Limit returns middleware that rate limits requests by client IP. Only
// state-changing methods are counted; showing a form is always allowed.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := auth.ClientIP(r, m.trustProxy)
		if m.limiter.Allow(clientIP) {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(m.limiter.TimeUntilReset(clientIP).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}

		m.logger.Warn("rate limit exceeded",
			"ip", clientIP,
			"path", r.URL.Path,
			"method", r.Method,
			"retry_after", retryAfter,
		)

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

		if isAPIRequest(r) {
			writeRateLimitJSON(w)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(tooManyRequestsPage))
	})
}

const tooManyRequestsPage = `<!DOCTYPE html>
<html lang="en">
<head><title>Too Many Requests</title></head>
<body>
<h1>Too Many Requests</h1>
<p>You have made too many attempts. Please wait a while and try again.</p>
<p><a href="/login">Back to sign in</a></p>
</body>
</html>`

func writeRateLimitJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":{"code":"rate_limit","message":"Too many requests. Please try again later."}}` + "\n"))
}

// =============================================================================
// Auth Rate Limiter (combined limiter for auth endpoints)
// =============================================================================

// AuthRateLimits configures AuthRateLimiter. Zero limits use the defaults.
type AuthRateLimits struct {
	LoginAttempts    int
	LoginWindow      time.Duration
	RegisterAttempts int
	RegisterWindow   time.Duration
	VerifyAttempts   int
	VerifyWindow     time.Duration
	ResetAttempts    int
	ResetWindow      time.Duration

	// TrustProxyHeaders keys clients by X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool
}

// DefaultAuthRateLimits are the production limits:
// - Login: 5 attempts per 15 minutes
// - Register (profile submissions): 5 per hour
// - OTP entry and resend: 30 per hour; each challenge also caps its own attempts
// - Password reset requests: 3 per hour
var DefaultAuthRateLimits = AuthRateLimits{
	LoginAttempts:    5,
	LoginWindow:      15 * time.Minute,
	RegisterAttempts: 5,
	RegisterWindow:   time.Hour,
	VerifyAttempts:   30,
	VerifyWindow:     time.Hour,
	ResetAttempts:    3,
	ResetWindow:      time.Hour,
}

func (l AuthRateLimits) withDefaults() AuthRateLimits {
	d := DefaultAuthRateLimits
	if l.LoginAttempts > 0 && l.LoginWindow > 0 {
		d.LoginAttempts, d.LoginWindow = l.LoginAttempts, l.LoginWindow
	}
	if l.RegisterAttempts > 0 && l.RegisterWindow > 0 {
		d.RegisterAttempts, d.RegisterWindow = l.RegisterAttempts, l.RegisterWindow
	}
	if l.VerifyAttempts > 0 && l.VerifyWindow > 0 {
		d.VerifyAttempts, d.VerifyWindow = l.VerifyAttempts, l.VerifyWindow
	}
	if l.ResetAttempts > 0 && l.ResetWindow > 0 {
		d.ResetAttempts, d.ResetWindow = l.ResetAttempts, l.ResetWindow
	}
	d.TrustProxyHeaders = l.TrustProxyHeaders
	return d
}

// AuthRateLimiter provides rate limiting for authentication endpoints
// with different limits for different actions.
type AuthRateLimiter struct {
	loginLimiter         *RateLimiter
	registerLimiter      *RateLimiter
	verifyLimiter        *RateLimiter
	passwordResetLimiter *RateLimiter
	logger               *slog.Logger
	trustProxy           bool
}

// NewAuthRateLimiter creates the per-endpoint limiters.
func NewAuthRateLimiter(limits AuthRateLimits, logger *slog.Logger) *AuthRateLimiter {
	limits = limits.withDefaults()
	return &AuthRateLimiter{
		loginLimiter:         NewRateLimiter(limits.LoginAttempts, limits.LoginWindow),
		registerLimiter:      NewRateLimiter(limits.RegisterAttempts, limits.RegisterWindow),
		verifyLimiter:        NewRateLimiter(limits.VerifyAttempts, limits.VerifyWindow),
		passwordResetLimiter: NewRateLimiter(limits.ResetAttempts, limits.ResetWindow),
		logger:               logger,
		trustProxy:           limits.TrustProxyHeaders,
	}
}

// LimitLogin returns middleware for rate limiting login attempts.
func (a *AuthRateLimiter) LimitLogin(next http.Handler) http.Handler {
	return NewRateLimitMiddleware(a.loginLimiter, a.logger, a.trustProxy).Limit(next)
}

// LimitRegister returns middleware for rate limiting profile submissions.
func (a *AuthRateLimiter) LimitRegister(next http.Handler) http.Handler {
	return NewRateLimitMiddleware(a.registerLimiter, a.logger, a.trustProxy).Limit(next)
}

// LimitVerify returns middleware for rate limiting OTP entry and resends.
func (a *AuthRateLimiter) LimitVerify(next http.Handler) http.Handler {
	return NewRateLimitMiddleware(a.verifyLimiter, a.logger, a.trustProxy).Limit(next)
}

// LimitPasswordReset returns middleware for rate limiting reset requests.
func (a *AuthRateLimiter) LimitPasswordReset(next http.Handler) http.Handler {
	return NewRateLimitMiddleware(a.passwordResetLimiter, a.logger, a.trustProxy).Limit(next)
}

// ResetLogin clears the login limit for an IP after a successful login.
func (a *AuthRateLimiter) ResetLogin(r *http.Request) {
	a.loginLimiter.Reset(auth.ClientIP(r, a.trustProxy))
}

// Stop ends every limiter's cleanup goroutine.
func (a *AuthRateLimiter) Stop() {
	a.loginLimiter.Stop()
	a.registerLimiter.Stop()
	a.verifyLimiter.Stop()
	a.passwordResetLimiter.Stop()
}
