package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DukeRupert/tmportal/internal/auth"
	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/session"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock UserService Implementation
// =============================================================================

// mockUserService implements the service.UserService interface for testing.
type mockUserService struct {
	GetBySessionTokenFunc func(ctx context.Context, token string) (*domain.User, error)
}

func (m *mockUserService) Login(ctx context.Context, email, password string, meta domain.LoginMeta) (*domain.LoginResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockUserService) Logout(ctx context.Context, token string) error {
	return nil
}

func (m *mockUserService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return nil, errors.New("not implemented")
}

func (m *mockUserService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	if m.GetBySessionTokenFunc != nil {
		return m.GetBySessionTokenFunc(ctx, token)
	}
	return nil, errors.New("not implemented")
}

func (m *mockUserService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return 0, errors.New("not implemented")
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAuthMiddleware(mock *mockUserService) *AuthMiddleware {
	return NewAuthMiddleware(mock, newTestLogger(), false)
}

// recordingHandler reports whether it ran and which user it saw.
type recordingHandler struct {
	called bool
	user   *domain.User
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.user = auth.GetUser(r.Context())
	w.WriteHeader(http.StatusOK)
}

func withUser(r *http.Request, u *domain.User) *http.Request {
	return r.WithContext(auth.SetUser(r.Context(), u))
}

// =============================================================================
// WithUser Middleware Tests
// =============================================================================

func TestWithUser_NoCookie_ContinuesWithoutUser(t *testing.T) {
	mock := &mockUserService{
		GetBySessionTokenFunc: func(ctx context.Context, token string) (*domain.User, error) {
			t.Error("GetBySessionToken should not be called without a cookie")
			return nil, nil
		},
	}
	next := &recordingHandler{}

	rec := httptest.NewRecorder()
	newTestAuthMiddleware(mock).WithUser(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, next.called)
	assert.Nil(t, next.user)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWithUser_ValidCookie_SetsUserInContext(t *testing.T) {
	expected := &domain.User{ID: uuid.New(), Email: "jane@example.com", Name: "Jane Smith"}
	mock := &mockUserService{
		GetBySessionTokenFunc: func(ctx context.Context, token string) (*domain.User, error) {
			assert.Equal(t, "valid-token-123", token)
			return expected, nil
		},
	}
	next := &recordingHandler{}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "valid-token-123"})
	rec := httptest.NewRecorder()
	newTestAuthMiddleware(mock).WithUser(next).ServeHTTP(rec, req)

	require.NotNil(t, next.user)
	assert.Equal(t, expected.ID, next.user.ID)
	assert.Empty(t, rec.Result().Cookies(), "valid cookie left alone")
}

func TestWithUser_InvalidCookie_ClearsAndContinues(t *testing.T) {
	mock := &mockUserService{
		GetBySessionTokenFunc: func(ctx context.Context, token string) (*domain.User, error) {
			return nil, domain.Unauthorized("test", "invalid session")
		},
	}
	next := &recordingHandler{}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "stale"})
	rec := httptest.NewRecorder()
	newTestAuthMiddleware(mock).WithUser(next).ServeHTTP(rec, req)

	assert.True(t, next.called)
	assert.Nil(t, next.user)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.CookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

// =============================================================================
// RequireUser Middleware Tests
// =============================================================================

func TestRequireUser(t *testing.T) {
	user := &domain.User{ID: uuid.New(), Email: "jane@example.com"}

	tests := []struct {
		name         string
		path         string
		accept       string
		user         *domain.User
		wantCalled   bool
		wantStatus   int
		wantLocation string
	}{
		{"signed in", "/search", "text/html", user, true, http.StatusOK, ""},
		{"anonymous browser", "/search?q=tea", "text/html", nil, false, http.StatusSeeOther, "/login?return_to=%2Fsearch%3Fq%3Dtea"},
		{"anonymous api", "/api/geo/reverse", "application/json", nil, false, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &recordingHandler{}
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept", tt.accept)
			if tt.user != nil {
				req = withUser(req, tt.user)
			}
			rec := httptest.NewRecorder()

			newTestAuthMiddleware(&mockUserService{}).RequireUser(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCalled, next.called)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
		})
	}
}

// =============================================================================
// RequireAdmin Tests
// =============================================================================

func TestRequireAdmin(t *testing.T) {
	admin := &domain.User{ID: uuid.New(), Email: "admin@example.com", IsAdmin: true}
	regular := &domain.User{ID: uuid.New(), Email: "jane@example.com"}

	tests := []struct {
		name       string
		accept     string
		user       *domain.User
		wantCalled bool
		wantStatus int
	}{
		{"admin", "text/html", admin, true, http.StatusOK},
		{"non-admin browser", "text/html", regular, false, http.StatusForbidden},
		{"non-admin api", "application/json", regular, false, http.StatusForbidden},
		{"anonymous", "text/html", nil, false, http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &recordingHandler{}
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Accept", tt.accept)
			if tt.user != nil {
				req = withUser(req, tt.user)
			}
			rec := httptest.NewRecorder()

			newTestAuthMiddleware(&mockUserService{}).RequireAdmin(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCalled, next.called)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRequireAdmin_AnonymousRedirectKeepsReturnPath(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestAuthMiddleware(&mockUserService{}).RequireAdmin(&recordingHandler{}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))

	assert.Equal(t, "/login?return_to=%2Fadmin&denied=1", rec.Header().Get("Location"))
}

// =============================================================================
// Stack Tests
// =============================================================================

func TestStack_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("outer"), mark("middle"), mark("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "middle", "inner", "handler"}, order)
}
