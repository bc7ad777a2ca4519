package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/session"
	"github.com/google/uuid"
)

// =============================================================================
// Mock UserService Implementation
// =============================================================================

type mockUserService struct {
	LoginFunc                 func(ctx context.Context, email, password string, meta domain.LoginMeta) (*domain.LoginResult, error)
	LogoutFunc                func(ctx context.Context, token string) error
	GetByIDFunc               func(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetBySessionTokenFunc     func(ctx context.Context, token string) (*domain.User, error)
	DeleteExpiredSessionsFunc func(ctx context.Context) (int64, error)
}

func (m *mockUserService) Login(ctx context.Context, email, password string, meta domain.LoginMeta) (*domain.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password, meta)
	}
	return nil, errors.New("LoginFunc not implemented")
}

func (m *mockUserService) Logout(ctx context.Context, token string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, token)
	}
	return nil
}

func (m *mockUserService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, errors.New("GetByIDFunc not implemented")
}

func (m *mockUserService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	if m.GetBySessionTokenFunc != nil {
		return m.GetBySessionTokenFunc(ctx, token)
	}
	return nil, errors.New("GetBySessionTokenFunc not implemented")
}

func (m *mockUserService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	if m.DeleteExpiredSessionsFunc != nil {
		return m.DeleteExpiredSessionsFunc(ctx)
	}
	return 0, nil
}

// =============================================================================
// Mock RegistrationService Implementation
// =============================================================================

type mockRegistrationService struct {
	BeginFunc                   func(ctx context.Context, params domain.RegisterParams) (*domain.RegistrationChallenge, error)
	VerifyFunc                  func(ctx context.Context, challengeID, code string) (*domain.User, error)
	ResendFunc                  func(ctx context.Context, challengeID string) (*domain.RegistrationChallenge, error)
	PendingFunc                 func(ctx context.Context, challengeID string) (*domain.RegistrationChallenge, error)
	DeleteExpiredChallengesFunc func(ctx context.Context) (int64, error)
}

func (m *mockRegistrationService) Begin(ctx context.Context, params domain.RegisterParams) (*domain.RegistrationChallenge, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, params)
	}
	return nil, errors.New("BeginFunc not implemented")
}

func (m *mockRegistrationService) Verify(ctx context.Context, challengeID, code string) (*domain.User, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, challengeID, code)
	}
	return nil, errors.New("VerifyFunc not implemented")
}

func (m *mockRegistrationService) Resend(ctx context.Context, challengeID string) (*domain.RegistrationChallenge, error) {
	if m.ResendFunc != nil {
		return m.ResendFunc(ctx, challengeID)
	}
	return nil, errors.New("ResendFunc not implemented")
}

func (m *mockRegistrationService) Pending(ctx context.Context, challengeID string) (*domain.RegistrationChallenge, error) {
	if m.PendingFunc != nil {
		return m.PendingFunc(ctx, challengeID)
	}
	return nil, errors.New("PendingFunc not implemented")
}

func (m *mockRegistrationService) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	if m.DeleteExpiredChallengesFunc != nil {
		return m.DeleteExpiredChallengesFunc(ctx)
	}
	return 0, nil
}

// =============================================================================
// Mock PasswordService Implementation
// =============================================================================

type mockPasswordService struct {
	RequestResetFunc                     func(ctx context.Context, email string) (*domain.PasswordResetResult, error)
	ValidateResetTokenFunc               func(ctx context.Context, token string) (uuid.UUID, error)
	ResetPasswordFunc                    func(ctx context.Context, params domain.ResetPasswordParams) error
	DeleteExpiredPasswordResetTokensFunc func(ctx context.Context) (int64, error)
}

func (m *mockPasswordService) RequestReset(ctx context.Context, email string) (*domain.PasswordResetResult, error) {
	if m.RequestResetFunc != nil {
		return m.RequestResetFunc(ctx, email)
	}
	return nil, errors.New("RequestResetFunc not implemented")
}

func (m *mockPasswordService) ValidateResetToken(ctx context.Context, token string) (uuid.UUID, error) {
	if m.ValidateResetTokenFunc != nil {
		return m.ValidateResetTokenFunc(ctx, token)
	}
	return uuid.Nil, errors.New("ValidateResetTokenFunc not implemented")
}

func (m *mockPasswordService) ResetPassword(ctx context.Context, params domain.ResetPasswordParams) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, params)
	}
	return errors.New("ResetPasswordFunc not implemented")
}

func (m *mockPasswordService) DeleteExpiredPasswordResetTokens(ctx context.Context) (int64, error) {
	if m.DeleteExpiredPasswordResetTokensFunc != nil {
		return m.DeleteExpiredPasswordResetTokensFunc(ctx)
	}
	return 0, nil
}

// =============================================================================
// Mock AdminService Implementation
// =============================================================================

type mockAdminService struct {
	ListUsersFunc     func(ctx context.Context, params domain.ListUsersParams) (*domain.UserListing, error)
	SetStatusFunc     func(ctx context.Context, actorID, userID uuid.UUID, status domain.UserStatus) error
	SeedDemoUsersFunc func(ctx context.Context) (int, error)
}

func (m *mockAdminService) ListUsers(ctx context.Context, params domain.ListUsersParams) (*domain.UserListing, error) {
	if m.ListUsersFunc != nil {
		return m.ListUsersFunc(ctx, params)
	}
	return &domain.UserListing{Query: params.Query, ShowPasswords: params.ShowPasswords}, nil
}

func (m *mockAdminService) SetStatus(ctx context.Context, actorID, userID uuid.UUID, status domain.UserStatus) error {
	if m.SetStatusFunc != nil {
		return m.SetStatusFunc(ctx, actorID, userID, status)
	}
	return errors.New("SetStatusFunc not implemented")
}

func (m *mockAdminService) SeedDemoUsers(ctx context.Context) (int, error) {
	if m.SeedDemoUsersFunc != nil {
		return m.SeedDemoUsersFunc(ctx)
	}
	return 0, nil
}

// =============================================================================
// Mock Renderer
// =============================================================================

// mockRenderer records the last render instead of executing templates.
type mockRenderer struct {
	mu     sync.Mutex
	name   string
	status int
	data   interface{}
	toast  *ToastData
}

func (m *mockRenderer) RenderHTTP(w http.ResponseWriter, name string, data interface{}) {
	m.RenderHTTPStatus(w, http.StatusOK, name, data)
}

func (m *mockRenderer) RenderHTTPStatus(w http.ResponseWriter, status int, name string, data interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name, m.status, m.data, m.toast = name, status, data, nil
	w.WriteHeader(status)
}

func (m *mockRenderer) RenderPartial(w http.ResponseWriter, name string, data interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name, m.status, m.data, m.toast = "partial/"+name, http.StatusOK, data, nil
}

func (m *mockRenderer) RenderPartialWithToast(w http.ResponseWriter, name string, data interface{}, toast ToastData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name, m.status, m.data, m.toast = "partial/"+name, http.StatusOK, data, &toast
}

// =============================================================================
// Fakes
// =============================================================================

type fakeCaptcha struct {
	id     string
	answer string
}

func (c *fakeCaptcha) New() string { return c.id }

func (c *fakeCaptcha) Verify(id, answer string) bool {
	return id == c.id && answer == c.answer
}

type fakeLimiter struct{ resets int }

func (l *fakeLimiter) ResetLogin(*http.Request) { l.resets++ }

func passThrough(next http.Handler) http.Handler { return next }

// =============================================================================
// Helpers
// =============================================================================

func newTestSessions() *session.Store {
	return session.NewStore("test-secret-that-is-long-enough", false, discardLogger())
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// carryCookies copies the cookies set by a response onto the next request.
// When a response sets the same cookie twice the last one wins, as in a
// browser.
func carryCookies(t *testing.T, rec *httptest.ResponseRecorder, next *http.Request) *http.Request {
	t.Helper()
	latest := make(map[string]*http.Cookie)
	var order []string
	for _, c := range rec.Result().Cookies() {
		if _, seen := latest[c.Name]; !seen {
			order = append(order, c.Name)
		}
		latest[c.Name] = c
	}
	for _, name := range order {
		c := latest[name]
		if c.MaxAge < 0 {
			continue
		}
		next.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return next
}
