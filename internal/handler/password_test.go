package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testResetToken = "0123456789abcdef0123456789abcdef"

func newTestPasswordHandler(passwords *mockPasswordService, captcha Captcha, renderer *mockRenderer) *PasswordHandler {
	return NewPasswordHandler(passwords, newTestSessions(), captcha, renderer, discardLogger())
}

// serveRecover routes req through a mux so PathValue works.
func serveRecover(h *PasswordHandler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, passThrough)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Request Stage
// =============================================================================

func TestShowRequest_IssuesCaptcha(t *testing.T) {
	renderer := &mockRenderer{}
	h := newTestPasswordHandler(&mockPasswordService{}, &fakeCaptcha{id: "cap-1"}, renderer)

	h.ShowRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/reset-password", nil))

	assert.Equal(t, "auth/reset_password", renderer.name)
	assert.Equal(t, "cap-1", renderer.data.(ResetRequestPageData).CaptchaID)
}

func TestRequest_SameResponseForKnownAndUnknownEmail(t *testing.T) {
	tests := []struct {
		name   string
		result *domain.PasswordResetResult
		err    error
	}{
		{"known", &domain.PasswordResetResult{Token: "t", UserID: uuid.New()}, nil},
		{"unknown", nil, nil},
		{"internal failure", nil, domain.Internal(errors.New("boom"), "op", "Failed to create reset token")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passwords := &mockPasswordService{
				RequestResetFunc: func(_ context.Context, email string) (*domain.PasswordResetResult, error) {
					assert.Equal(t, "jane@example.com", email)
					return tt.result, tt.err
				},
			}
			renderer := &mockRenderer{}
			h := newTestPasswordHandler(passwords, nil, renderer)

			rec := httptest.NewRecorder()
			h.Request(rec, postForm("/reset-password", url.Values{"email": {" Jane@Example.com "}}))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "auth/reset_password_sent", renderer.name)
			data := renderer.data.(ResetRequestPageData)
			require.NotNil(t, data.Flash)
			assert.Equal(t, "A password reset link has been sent to jane@example.com", data.Flash.Message)
		})
	}
}

func TestRequest_InvalidEmail(t *testing.T) {
	passwords := &mockPasswordService{
		RequestResetFunc: func(context.Context, string) (*domain.PasswordResetResult, error) {
			return nil, domain.Wrap(domain.NewValidationError("op", "email", "Please enter a valid email address"), domain.EINVALID, "op", "Please enter a valid email address")
		},
	}
	renderer := &mockRenderer{}
	h := newTestPasswordHandler(passwords, nil, renderer)

	h.Request(httptest.NewRecorder(), postForm("/reset-password", url.Values{"email": {"nope"}}))

	assert.Equal(t, "auth/reset_password", renderer.name)
	data := renderer.data.(ResetRequestPageData)
	assert.Equal(t, "Please enter a valid email address", data.Errors["email"])
	assert.Equal(t, "nope", data.Form["Email"])
}

func TestRequest_Captcha(t *testing.T) {
	tests := []struct {
		name       string
		id, answer string
		wantSent   bool
	}{
		{"correct", "cap-1", "4821", true},
		{"wrong answer", "cap-1", "0000", false},
		{"wrong id", "cap-2", "4821", false},
		{"missing", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			passwords := &mockPasswordService{
				RequestResetFunc: func(context.Context, string) (*domain.PasswordResetResult, error) {
					called = true
					return nil, nil
				},
			}
			renderer := &mockRenderer{}
			h := newTestPasswordHandler(passwords, &fakeCaptcha{id: "cap-1", answer: "4821"}, renderer)

			h.Request(httptest.NewRecorder(), postForm("/reset-password", url.Values{
				"email":          {"jane@example.com"},
				"captcha_id":     {tt.id},
				"captcha_answer": {tt.answer},
			}))

			assert.Equal(t, tt.wantSent, called)
			if tt.wantSent {
				assert.Equal(t, "auth/reset_password_sent", renderer.name)
				return
			}
			assert.Equal(t, "auth/reset_password", renderer.name)
			data := renderer.data.(ResetRequestPageData)
			assert.Equal(t, msgCaptchaMismatch, data.Errors["captcha"])
			assert.Equal(t, "cap-1", data.CaptchaID, "a fresh captcha is issued")
		})
	}
}

// =============================================================================
// Recovery Stage
// =============================================================================

func TestShowRecover(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantName   string
		wantStatus int
	}{
		{"valid", nil, "auth/recover_password", http.StatusOK},
		{"expired", domain.Gone("op", "This password reset link is invalid or has expired."), "auth/recover_password_invalid", http.StatusGone},
		{"store down", domain.Internal(errors.New("boom"), "op", "Failed"), "auth/recover_password_invalid", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passwords := &mockPasswordService{
				ValidateResetTokenFunc: func(_ context.Context, token string) (uuid.UUID, error) {
					assert.Equal(t, testResetToken, token)
					return uuid.New(), tt.err
				},
			}
			renderer := &mockRenderer{}
			h := newTestPasswordHandler(passwords, nil, renderer)

			rec := serveRecover(h, httptest.NewRequest(http.MethodGet, "/recover-password/"+testResetToken, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantName, renderer.name)
			if tt.err == nil {
				assert.Equal(t, testResetToken, renderer.data.(RecoverPageData).Token)
			}
		})
	}
}

func TestRecover_Success(t *testing.T) {
	var got domain.ResetPasswordParams
	passwords := &mockPasswordService{
		ResetPasswordFunc: func(_ context.Context, params domain.ResetPasswordParams) error {
			got = params
			return nil
		},
	}
	h := newTestPasswordHandler(passwords, nil, &mockRenderer{})

	rec := serveRecover(h, postForm("/recover-password/"+testResetToken, url.Values{
		"password":         {"NewPass123!"},
		"confirm_password": {"NewPass123!"},
	}))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?reset=1", rec.Header().Get("Location"))
	assert.Equal(t, domain.ResetPasswordParams{
		Token:           testResetToken,
		NewPassword:     "NewPass123!",
		ConfirmPassword: "NewPass123!",
	}, got)
}

func TestRecover_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantName   string
		wantStatus int
		wantField  string
		wantMsg    string
	}{
		{
			name:       "mismatch",
			err:        domain.Wrap(domain.NewValidationError("op", "confirm_password", "Passwords don't match"), domain.EINVALID, "op", "Passwords don't match"),
			wantName:   "auth/recover_password",
			wantStatus: http.StatusOK,
			wantField:  "confirm_password",
			wantMsg:    "Passwords don't match",
		},
		{
			name:       "weak",
			err:        domain.Wrap(domain.NewValidationError("op", "password", "Password must contain a number"), domain.EINVALID, "op", "Password too weak"),
			wantName:   "auth/recover_password",
			wantStatus: http.StatusOK,
			wantField:  "password",
			wantMsg:    "Password too weak",
		},
		{
			name:       "used token",
			err:        domain.Gone("op", "This password reset link is invalid or has expired."),
			wantName:   "auth/recover_password_invalid",
			wantStatus: http.StatusGone,
		},
		{
			name:       "internal",
			err:        domain.Internal(errors.New("boom"), "op", "Failed"),
			wantName:   "auth/recover_password",
			wantStatus: http.StatusOK,
			wantMsg:    "An error occurred while resetting your password.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passwords := &mockPasswordService{
				ResetPasswordFunc: func(context.Context, domain.ResetPasswordParams) error { return tt.err },
			}
			renderer := &mockRenderer{}
			h := newTestPasswordHandler(passwords, nil, renderer)

			rec := serveRecover(h, postForm("/recover-password/"+testResetToken, url.Values{
				"password": {"x"}, "confirm_password": {"y"},
			}))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantName, renderer.name)
			data, ok := renderer.data.(RecoverPageData)
			if !ok {
				return
			}
			require.NotNil(t, data.Flash)
			assert.Equal(t, tt.wantMsg, data.Flash.Message)
			if tt.wantField != "" {
				assert.Contains(t, data.Errors, tt.wantField)
			}
		})
	}
}
