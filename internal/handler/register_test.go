package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registrationForm() url.Values {
	return url.Values{
		"name":         {"  Jane Smith "},
		"age":          {"28"},
		"email":        {"jane@example.com"},
		"password":     {"Jane123!"},
		"organization": {"Legal Firm LLP"},
		"job_role":     {"ip-lawyer"},
		"sex":          {"female"},
		"location":     {"Mumbai, India"},
	}
}

func pendingChallenge(id string) *domain.RegistrationChallenge {
	return &domain.RegistrationChallenge{
		ChallengeID: id,
		Email:       "jane@example.com",
		Name:        "Jane Smith",
		ExpiresAt:   time.Now().Add(5 * time.Minute),
		Remaining:   3,
	}
}

// startChallenge runs a successful Begin and returns its response so the
// flow cookie can be carried forward.
func startChallenge(t *testing.T, h *RegisterHandler) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Begin(rec, postForm("/register", registrationForm()))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/register/verify", rec.Header().Get("Location"))
	return rec
}

func TestShowRegister(t *testing.T) {
	renderer := &mockRenderer{}
	h := NewRegisterHandler(&mockRegistrationService{}, newTestSessions(), renderer, discardLogger(), true)

	rec := httptest.NewRecorder()
	h.ShowRegister(rec, httptest.NewRequest(http.MethodGet, "/register", nil))

	assert.Equal(t, "auth/register", renderer.name)
	data := renderer.data.(RegisterPageData)
	assert.True(t, data.GeocoderEnabled)
	assert.Equal(t, domain.JobRoleOptions, data.JobRoles)
}

func TestBegin_Success_ThenShowVerify(t *testing.T) {
	var got domain.RegisterParams
	registration := &mockRegistrationService{
		BeginFunc: func(_ context.Context, params domain.RegisterParams) (*domain.RegistrationChallenge, error) {
			got = params
			c := pendingChallenge("chal-1")
			c.DemoCode = "042917"
			return c, nil
		},
		PendingFunc: func(_ context.Context, id string) (*domain.RegistrationChallenge, error) {
			assert.Equal(t, "chal-1", id)
			return pendingChallenge(id), nil
		},
	}
	renderer := &mockRenderer{}
	h := NewRegisterHandler(registration, newTestSessions(), renderer, discardLogger(), false)

	rec := startChallenge(t, h)
	assert.Equal(t, "28", got.Age)
	assert.Equal(t, "ip-lawyer", got.JobRole)

	next := carryCookies(t, rec, httptest.NewRequest(http.MethodGet, "/register/verify", nil))
	h.ShowVerify(httptest.NewRecorder(), next)

	assert.Equal(t, "auth/register_verify", renderer.name)
	data := renderer.data.(VerifyPageData)
	assert.Equal(t, "jane@example.com", data.Email)
	assert.Equal(t, 3, data.Remaining)
	assert.Equal(t, []string{
		"An OTP has been sent to jane@example.com. For demo purposes, the OTP is: 042917",
	}, data.Notices)
}

func TestBegin_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantMsg    string
		wantFields map[string]string
	}{
		{
			name:       "validation",
			err:        domain.Wrap(domain.NewValidationError("op", "age", "Age must be between 18 and 100"), domain.EINVALID, "op", "Age must be between 18 and 100"),
			wantMsg:    "Age must be between 18 and 100",
			wantFields: map[string]string{"age": "Age must be between 18 and 100"},
		},
		{
			name:       "duplicate email",
			err:        domain.Conflict("op", "Email already registered"),
			wantMsg:    "Email already registered",
			wantFields: map[string]string{"email": "Email already registered"},
		},
		{
			name:       "mail relay down",
			err:        domain.Unavailable(nil, "op", "Failed to send OTP"),
			wantMsg:    "Failed to send OTP",
			wantFields: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registration := &mockRegistrationService{
				BeginFunc: func(context.Context, domain.RegisterParams) (*domain.RegistrationChallenge, error) {
					return nil, tt.err
				},
			}
			renderer := &mockRenderer{}
			h := NewRegisterHandler(registration, newTestSessions(), renderer, discardLogger(), false)

			rec := httptest.NewRecorder()
			h.Begin(rec, postForm("/register", registrationForm()))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "auth/register", renderer.name)
			data := renderer.data.(RegisterPageData)
			require.NotNil(t, data.Flash)
			assert.Equal(t, tt.wantMsg, data.Flash.Message)
			assert.Equal(t, tt.wantFields, data.Errors)
			assert.Equal(t, "Jane Smith", data.Form["Name"])
			assert.NotContains(t, data.Form, "Password")
		})
	}
}

func TestShowVerify_WithoutChallengeRedirects(t *testing.T) {
	h := NewRegisterHandler(&mockRegistrationService{}, newTestSessions(), &mockRenderer{}, discardLogger(), false)

	rec := httptest.NewRecorder()
	h.ShowVerify(rec, httptest.NewRequest(http.MethodGet, "/register/verify", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/register", rec.Header().Get("Location"))
}

func TestVerify_Success(t *testing.T) {
	var gotCode string
	registration := &mockRegistrationService{
		BeginFunc: func(context.Context, domain.RegisterParams) (*domain.RegistrationChallenge, error) {
			return pendingChallenge("chal-1"), nil
		},
		VerifyFunc: func(_ context.Context, id, code string) (*domain.User, error) {
			gotCode = code
			return &domain.User{ID: uuid.New(), Email: "jane@example.com"}, nil
		},
	}
	sessions := newTestSessions()
	h := NewRegisterHandler(registration, sessions, &mockRenderer{}, discardLogger(), false)

	begin := startChallenge(t, h)
	rec := httptest.NewRecorder()
	h.Verify(rec, carryCookies(t, begin, postForm("/register/verify", url.Values{"otp": {" 042917 "}})))

	assert.Equal(t, "042917", gotCode)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?registered=1", rec.Header().Get("Location"))

	after := carryCookies(t, rec, httptest.NewRequest(http.MethodGet, "/register/verify", nil))
	assert.Empty(t, sessions.ChallengeID(after), "challenge must be cleared")
}

func TestVerify_WrongCodeShowsRemaining(t *testing.T) {
	registration := &mockRegistrationService{
		BeginFunc: func(context.Context, domain.RegisterParams) (*domain.RegistrationChallenge, error) {
			return pendingChallenge("chal-1"), nil
		},
		VerifyFunc: func(context.Context, string, string) (*domain.User, error) {
			return nil, domain.Invalid("op", "Invalid OTP. 2 attempts remaining")
		},
		PendingFunc: func(_ context.Context, id string) (*domain.RegistrationChallenge, error) {
			c := pendingChallenge(id)
			c.Remaining = 2
			return c, nil
		},
	}
	renderer := &mockRenderer{}
	h := NewRegisterHandler(registration, newTestSessions(), renderer, discardLogger(), false)

	begin := startChallenge(t, h)
	rec := httptest.NewRecorder()
	h.Verify(rec, carryCookies(t, begin, postForm("/register/verify", url.Values{"otp": {"000000"}})))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "auth/register_verify", renderer.name)
	data := renderer.data.(VerifyPageData)
	assert.Equal(t, 2, data.Remaining)
	assert.Equal(t, "Invalid OTP. 2 attempts remaining", data.Errors["otp"])
}

func TestVerify_RestartsWizard(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"expired", domain.Gone("op", "OTP has expired. Please register again."), "OTP has expired. Please register again."},
		{"exhausted", domain.RateLimit("op", "Too many failed attempts. Please register again."), "Too many failed attempts. Please register again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registration := &mockRegistrationService{
				BeginFunc: func(context.Context, domain.RegisterParams) (*domain.RegistrationChallenge, error) {
					return pendingChallenge("chal-1"), nil
				},
				VerifyFunc: func(context.Context, string, string) (*domain.User, error) {
					return nil, tt.err
				},
			}
			renderer := &mockRenderer{}
			sessions := newTestSessions()
			h := NewRegisterHandler(registration, sessions, renderer, discardLogger(), false)

			begin := startChallenge(t, h)
			rec := httptest.NewRecorder()
			h.Verify(rec, carryCookies(t, begin, postForm("/register/verify", url.Values{"otp": {"000000"}})))

			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, "/register", rec.Header().Get("Location"))

			next := carryCookies(t, rec, httptest.NewRequest(http.MethodGet, "/register", nil))
			assert.Empty(t, sessions.ChallengeID(next))

			h.ShowRegister(httptest.NewRecorder(), next)
			assert.Equal(t, []string{tt.want}, renderer.data.(RegisterPageData).Notices)
		})
	}
}

func TestVerify_ConflictSendsToLogin(t *testing.T) {
	registration := &mockRegistrationService{
		BeginFunc: func(context.Context, domain.RegisterParams) (*domain.RegistrationChallenge, error) {
			return pendingChallenge("chal-1"), nil
		},
		VerifyFunc: func(context.Context, string, string) (*domain.User, error) {
			return nil, domain.Conflict("op", "Email already registered")
		},
	}
	h := NewRegisterHandler(registration, newTestSessions(), &mockRenderer{}, discardLogger(), false)

	begin := startChallenge(t, h)
	rec := httptest.NewRecorder()
	h.Verify(rec, carryCookies(t, begin, postForm("/register/verify", url.Values{"otp": {"042917"}})))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestResend(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantLocation string
	}{
		{"success", nil, "/register/verify"},
		{"delivery failed", domain.Unavailable(nil, "op", "Failed to send OTP"), "/register/verify"},
		{"expired", domain.Gone("op", "OTP has expired. Please register again."), "/register"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registration := &mockRegistrationService{
				BeginFunc: func(context.Context, domain.RegisterParams) (*domain.RegistrationChallenge, error) {
					return pendingChallenge("chal-1"), nil
				},
				ResendFunc: func(_ context.Context, id string) (*domain.RegistrationChallenge, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return pendingChallenge(id), nil
				},
			}
			h := NewRegisterHandler(registration, newTestSessions(), &mockRenderer{}, discardLogger(), false)

			begin := startChallenge(t, h)
			rec := httptest.NewRecorder()
			h.Resend(rec, carryCookies(t, begin, postForm("/register/resend", url.Values{})))

			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
		})
	}
}
