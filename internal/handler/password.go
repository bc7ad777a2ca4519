package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/service"
	"github.com/DukeRupert/tmportal/internal/session"
	"github.com/gorilla/csrf"
)

const msgCaptchaMismatch = "The characters you entered don't match the image. Please try again."

// PasswordHandler serves the two stages of password recovery: requesting a
// link and redeeming it.
//
// Routes handled:
// - GET  /reset-password             -> ShowRequest
// - POST /reset-password             -> Request
// - GET  /recover-password/{token}   -> ShowRecover
// - POST /recover-password/{token}   -> Recover
type PasswordHandler struct {
	passwords service.PasswordService
	sessions  *session.Store
	captcha   Captcha
	renderer  TemplateRenderer
	logger    *slog.Logger
}

// NewPasswordHandler creates a new PasswordHandler. A nil captcha turns the
// image check off.
func NewPasswordHandler(
	passwords service.PasswordService,
	sessions *session.Store,
	captcha Captcha,
	renderer TemplateRenderer,
	logger *slog.Logger,
) *PasswordHandler {
	return &PasswordHandler{
		passwords: passwords,
		sessions:  sessions,
		captcha:   captcha,
		renderer:  renderer,
		logger:    logger,
	}
}

// ResetRequestPageData feeds auth/reset_password and auth/reset_password_sent.
type ResetRequestPageData struct {
	AuthPageData
	CaptchaID string // empty when the captcha is off
	SentTo    string
}

// RecoverPageData feeds auth/recover_password.
type RecoverPageData struct {
	CurrentPath string
	CSRFField   template.HTML
	Token       string
	Errors      map[string]string
	Flash       *Flash
	Notices     []string
}

// =============================================================================
// GET /reset-password - Show Request Form
// =============================================================================

// ShowRequest renders the "forgot password" form.
func (h *PasswordHandler) ShowRequest(w http.ResponseWriter, r *http.Request) {
	h.renderRequest(w, r, nil, nil, nil)
}

func (h *PasswordHandler) renderRequest(
	w http.ResponseWriter,
	r *http.Request,
	formValues map[string]string,
	errors map[string]string,
	flash *Flash,
) {
	data := ResetRequestPageData{AuthPageData: newAuthPageData(w, r, h.sessions)}
	data.CurrentPath = "/reset-password"
	if formValues != nil {
		data.Form = formValues
	}
	if errors != nil {
		data.Errors = errors
	}
	data.Flash = flash
	if h.captcha != nil {
		data.CaptchaID = h.captcha.New()
	}

	h.renderer.RenderHTTP(w, "auth/reset_password", data)
}

// =============================================================================
// POST /reset-password - Request a Link
// =============================================================================

// Request issues a recovery link.
//
// Form Fields:
// - email (required)
// - captcha_id, captcha_answer (when the captcha is on)
//
// Whether or not the email belongs to an account, the visitor sees the
// same confirmation. Only a malformed email or a wrong captcha answer is
// reported back.
func (h *PasswordHandler) Request(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse form", "error", err)
		h.renderRequest(w, r, nil, nil, &Flash{
			Type:    "error",
			Message: "Invalid form submission. Please try again.",
		})
		return
	}

	emailAddr := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	formValues := map[string]string{"Email": emailAddr}

	if h.captcha != nil && !h.captcha.Verify(r.FormValue("captcha_id"), strings.TrimSpace(r.FormValue("captcha_answer"))) {
		h.renderRequest(w, r, formValues, map[string]string{
			"captcha": msgCaptchaMismatch,
		}, nil)
		return
	}

	if _, err := h.passwords.RequestReset(r.Context(), emailAddr); err != nil {
		if domain.ErrorCode(err) == domain.EINVALID {
			h.renderRequest(w, r, formValues, domain.FieldErrors(err), &Flash{
				Type:    "error",
				Message: domain.ErrorMessage(err),
			})
			return
		}
		// Internal failures still get the confirmation.
		h.logger.Error("password reset request failed", "error", err)
	}

	data := ResetRequestPageData{AuthPageData: newAuthPageData(w, r, h.sessions)}
	data.SentTo = emailAddr
	data.Flash = &Flash{
		Type:    "success",
		Message: "A password reset link has been sent to " + emailAddr,
	}
	h.renderer.RenderHTTP(w, "auth/reset_password_sent", data)
}

// =============================================================================
// GET /recover-password/{token} - Show New Password Form
// =============================================================================

// ShowRecover checks the link before showing the form. Unusable links get
// the invalid page with a way to request a new one.
func (h *PasswordHandler) ShowRecover(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	if _, err := h.passwords.ValidateResetToken(r.Context(), token); err != nil {
		h.renderRecoverFailure(w, r, err)
		return
	}

	h.renderRecover(w, r, token, nil, nil)
}

func (h *PasswordHandler) renderRecover(w http.ResponseWriter, r *http.Request, token string, errors map[string]string, flash *Flash) {
	if errors == nil {
		errors = make(map[string]string)
	}
	h.renderer.RenderHTTP(w, "auth/recover_password", RecoverPageData{
		CurrentPath: "/recover-password",
		CSRFField:   csrf.TemplateField(r),
		Token:       token,
		Errors:      errors,
		Flash:       flash,
	})
}

func (h *PasswordHandler) renderRecoverFailure(w http.ResponseWriter, r *http.Request, err error) {
	message := domain.ErrorMessage(err)
	status := http.StatusGone
	if domain.ErrorCode(err) != domain.EGONE {
		h.logger.Error("password reset token validation failed", "error", err)
		message = "An error occurred while validating your reset link."
		status = http.StatusInternalServerError
	}

	h.renderer.RenderHTTPStatus(w, status, "auth/recover_password_invalid", map[string]interface{}{
		"CurrentPath": "/recover-password",
		"Message":     message,
	})
}

// =============================================================================
// POST /recover-password/{token} - Set New Password
// =============================================================================

// Recover sets the new password.
//
// Form Fields:
// - password (required)
// - confirm_password (required): must match
//
// On success every session of the account is revoked and the browser is
// sent to the login page.
func (h *PasswordHandler) Recover(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse form", "error", err)
		h.renderRecover(w, r, token, nil, &Flash{
			Type:    "error",
			Message: "Invalid form submission. Please try again.",
		})
		return
	}

	err := h.passwords.ResetPassword(r.Context(), domain.ResetPasswordParams{
		Token:           token,
		NewPassword:     r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
	})
	if err != nil {
		switch domain.ErrorCode(err) {
		case domain.EINVALID:
			h.renderRecover(w, r, token, domain.FieldErrors(err), &Flash{
				Type:    "error",
				Message: domain.ErrorMessage(err),
			})
		case domain.EGONE:
			h.renderRecoverFailure(w, r, err)
		default:
			h.logger.Error("password reset failed", "error", err)
			h.renderRecover(w, r, token, nil, &Flash{
				Type:    "error",
				Message: "An error occurred while resetting your password.",
			})
		}
		return
	}

	http.Redirect(w, r, "/login?reset=1", http.StatusSeeOther)
}

// RegisterRoutes registers the recovery routes. limit wraps link requests.
func (h *PasswordHandler) RegisterRoutes(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /reset-password", h.ShowRequest)
	mux.Handle("POST /reset-password", limit(http.HandlerFunc(h.Request)))
	mux.HandleFunc("GET /recover-password/{token}", h.ShowRecover)
	mux.HandleFunc("POST /recover-password/{token}", h.Recover)
}
