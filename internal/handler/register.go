package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/service"
	"github.com/DukeRupert/tmportal/internal/session"
	"github.com/gorilla/csrf"
)

// RegisterHandler drives the two-step registration wizard. The browser only
// ever holds the challenge id, inside the signed flow cookie.
//
// Routes handled:
// - GET  /register         -> ShowRegister
// - POST /register         -> Begin
// - GET  /register/verify  -> ShowVerify
// - POST /register/verify  -> Verify
// - POST /register/resend  -> Resend
type RegisterHandler struct {
	registration    service.RegistrationService
	sessions        *session.Store
	renderer        TemplateRenderer
	logger          *slog.Logger
	geocoderEnabled bool
}

// NewRegisterHandler creates a new RegisterHandler.
func NewRegisterHandler(
	registration service.RegistrationService,
	sessions *session.Store,
	renderer TemplateRenderer,
	logger *slog.Logger,
	geocoderEnabled bool,
) *RegisterHandler {
	return &RegisterHandler{
		registration:    registration,
		sessions:        sessions,
		renderer:        renderer,
		logger:          logger,
		geocoderEnabled: geocoderEnabled,
	}
}

// RegisterPageData feeds auth/register.
type RegisterPageData struct {
	AuthPageData
	JobRoles        []domain.JobRoleOption
	GeocoderEnabled bool
}

// VerifyPageData feeds auth/register_verify.
type VerifyPageData struct {
	CurrentPath string
	CSRFField   template.HTML
	Flash       *Flash
	Notices     []string
	Errors      map[string]string
	Name        string
	Email       string
	Remaining   int
	ExpiresAt   time.Time
}

// =============================================================================
// GET /register - Show Profile Form
// =============================================================================

// ShowRegister renders the profile step.
func (h *RegisterHandler) ShowRegister(w http.ResponseWriter, r *http.Request) {
	h.renderRegister(w, r, nil, nil, nil)
}

func (h *RegisterHandler) renderRegister(
	w http.ResponseWriter,
	r *http.Request,
	formValues map[string]string,
	errors map[string]string,
	flash *Flash,
) {
	data := RegisterPageData{
		AuthPageData:    newAuthPageData(w, r, h.sessions),
		JobRoles:        domain.JobRoleOptions,
		GeocoderEnabled: h.geocoderEnabled,
	}
	data.CurrentPath = "/register"
	if formValues != nil {
		data.Form = formValues
	}
	if errors != nil {
		data.Errors = errors
	}
	data.Flash = flash

	h.renderer.RenderHTTP(w, "auth/register", data)
}

// =============================================================================
// POST /register - Submit Profile
// =============================================================================

// Begin validates the profile and sends the verification code.
//
// Form Fields: name, age, email, password, organization, job_role, sex,
// location.
//
// On success the challenge id is stored in the flow cookie and the browser
// is redirected to the code form. On failure the profile form is re-rendered
// with the entered values (never the password) and the first problem as a
// message.
func (h *RegisterHandler) Begin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse form", "error", err)
		h.renderRegister(w, r, nil, nil, &Flash{
			Type:    "error",
			Message: "Invalid form submission. Please try again.",
		})
		return
	}

	params := domain.RegisterParams{
		Name:         r.FormValue("name"),
		Age:          r.FormValue("age"),
		Email:        r.FormValue("email"),
		Password:     r.FormValue("password"),
		Organization: r.FormValue("organization"),
		JobRole:      r.FormValue("job_role"),
		Sex:          r.FormValue("sex"),
		Location:     r.FormValue("location"),
	}

	formValues := map[string]string{
		"Name":         strings.TrimSpace(params.Name),
		"Age":          strings.TrimSpace(params.Age),
		"Email":        strings.TrimSpace(params.Email),
		"Organization": strings.TrimSpace(params.Organization),
		"JobRole":      params.JobRole,
		"Sex":          params.Sex,
		"Location":     strings.TrimSpace(params.Location),
	}

	challenge, err := h.registration.Begin(r.Context(), params)
	if err != nil {
		switch domain.ErrorCode(err) {
		case domain.EINVALID:
			h.renderRegister(w, r, formValues, domain.FieldErrors(err), &Flash{
				Type:    "error",
				Message: domain.ErrorMessage(err),
			})
		case domain.ECONFLICT:
			h.renderRegister(w, r, formValues, map[string]string{
				"email": domain.ErrorMessage(err),
			}, &Flash{Type: "error", Message: domain.ErrorMessage(err)})
		case domain.EUNAVAILABLE:
			h.logger.Error("registration code delivery failed", "error", err)
			h.renderRegister(w, r, formValues, nil, &Flash{
				Type:    "error",
				Message: domain.ErrorMessage(err),
			})
		default:
			h.logger.Error("registration failed", "error", err)
			h.renderRegister(w, r, formValues, nil, &Flash{
				Type:    "error",
				Message: "Registration failed. Please try again later.",
			})
		}
		return
	}

	h.sessions.SetChallengeID(w, r, challenge.ChallengeID)
	h.sessions.AddFlash(w, r, otpSentMessage(challenge))

	http.Redirect(w, r, "/register/verify", http.StatusSeeOther)
}

func otpSentMessage(c *domain.RegistrationChallenge) string {
	msg := "An OTP has been sent to " + c.Email
	if c.DemoCode != "" {
		msg += ". For demo purposes, the OTP is: " + c.DemoCode
	}
	return msg
}

// =============================================================================
// GET /register/verify - Show Code Form
// =============================================================================

// ShowVerify renders the code step for the browser's pending challenge.
// Without one, or once it has expired, the visitor starts over.
func (h *RegisterHandler) ShowVerify(w http.ResponseWriter, r *http.Request) {
	id := h.sessions.ChallengeID(r)
	if id == "" {
		http.Redirect(w, r, "/register", http.StatusSeeOther)
		return
	}

	pending, err := h.registration.Pending(r.Context(), id)
	if err != nil {
		h.restart(w, r, err)
		return
	}

	h.renderVerify(w, r, pending, nil, nil)
}

func (h *RegisterHandler) renderVerify(
	w http.ResponseWriter,
	r *http.Request,
	pending *domain.RegistrationChallenge,
	errors map[string]string,
	flash *Flash,
) {
	if errors == nil {
		errors = make(map[string]string)
	}
	h.renderer.RenderHTTP(w, "auth/register_verify", VerifyPageData{
		CurrentPath: "/register/verify",
		CSRFField:   csrf.TemplateField(r),
		Flash:       flash,
		Notices:     h.sessions.Flashes(w, r),
		Errors:      errors,
		Name:        pending.Name,
		Email:       pending.Email,
		Remaining:   pending.Remaining,
		ExpiresAt:   pending.ExpiresAt,
	})
}

// restart drops the flow cookie and sends the visitor back to the profile
// step. Gone and exhausted challenges carry their own message, which
// replaces anything still queued for the verify page.
func (h *RegisterHandler) restart(w http.ResponseWriter, r *http.Request, err error) {
	h.sessions.ClearChallengeID(w, r)
	_ = h.sessions.Flashes(w, r)

	switch domain.ErrorCode(err) {
	case domain.EGONE, domain.ERATELIMIT:
		h.sessions.AddFlash(w, r, domain.ErrorMessage(err))
	default:
		h.logger.Error("registration challenge lookup failed", "error", err)
		h.sessions.AddFlash(w, r, "Registration failed. Please try again.")
	}

	http.Redirect(w, r, "/register", http.StatusSeeOther)
}

// =============================================================================
// POST /register/verify - Submit Code
// =============================================================================

// Verify checks the submitted code.
//
// Flow:
// 1. Match: the account is created, the flow cookie cleared and the browser
//    sent to the login page.
// 2. Mismatch: the code form is shown again with the attempts left.
// 3. Expired or exhausted: the wizard restarts.
func (h *RegisterHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id := h.sessions.ChallengeID(r)
	if id == "" {
		http.Redirect(w, r, "/register", http.StatusSeeOther)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse form", "error", err)
		http.Redirect(w, r, "/register/verify", http.StatusSeeOther)
		return
	}

	code := strings.TrimSpace(r.FormValue("otp"))

	user, err := h.registration.Verify(r.Context(), id, code)
	if err != nil {
		switch domain.ErrorCode(err) {
		case domain.EINVALID:
			pending, perr := h.registration.Pending(r.Context(), id)
			if perr != nil {
				h.restart(w, r, perr)
				return
			}
			h.renderVerify(w, r, pending, map[string]string{
				"otp": domain.ErrorMessage(err),
			}, &Flash{Type: "error", Message: domain.ErrorMessage(err)})
		case domain.EGONE, domain.ERATELIMIT:
			h.restart(w, r, err)
		case domain.ECONFLICT:
			h.sessions.ClearChallengeID(w, r)
			h.sessions.AddFlash(w, r, domain.ErrorMessage(err))
			http.Redirect(w, r, "/login", http.StatusSeeOther)
		default:
			h.logger.Error("registration verify failed", "error", err)
			pending, perr := h.registration.Pending(r.Context(), id)
			if perr != nil {
				h.restart(w, r, perr)
				return
			}
			h.renderVerify(w, r, pending, nil, &Flash{
				Type:    "error",
				Message: "Registration failed. Please try again.",
			})
		}
		return
	}

	h.sessions.ClearChallengeID(w, r)
	h.logger.Info("registration completed", "user_id", user.ID)

	http.Redirect(w, r, "/login?registered=1", http.StatusSeeOther)
}

// =============================================================================
// POST /register/resend - Request a New Code
// =============================================================================

// Resend mails a fresh code for the pending challenge.
func (h *RegisterHandler) Resend(w http.ResponseWriter, r *http.Request) {
	id := h.sessions.ChallengeID(r)
	if id == "" {
		http.Redirect(w, r, "/register", http.StatusSeeOther)
		return
	}

	challenge, err := h.registration.Resend(r.Context(), id)
	if err != nil {
		if domain.ErrorCode(err) == domain.EUNAVAILABLE {
			h.logger.Error("registration code delivery failed", "error", err)
			h.sessions.AddFlash(w, r, domain.ErrorMessage(err))
			http.Redirect(w, r, "/register/verify", http.StatusSeeOther)
			return
		}
		h.restart(w, r, err)
		return
	}

	h.sessions.AddFlash(w, r, otpSentMessage(challenge))
	http.Redirect(w, r, "/register/verify", http.StatusSeeOther)
}

// RegisterRoutes registers the wizard routes. limitProfile wraps the profile
// submission; limitCode wraps code entry and resends, which also count
// against the challenge's own attempt budget.
func (h *RegisterHandler) RegisterRoutes(mux *http.ServeMux, limitProfile, limitCode func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /register", h.ShowRegister)
	mux.Handle("POST /register", limitProfile(http.HandlerFunc(h.Begin)))
	mux.HandleFunc("GET /register/verify", h.ShowVerify)
	mux.Handle("POST /register/verify", limitCode(http.HandlerFunc(h.Verify)))
	mux.Handle("POST /register/resend", limitCode(http.HandlerFunc(h.Resend)))
}
