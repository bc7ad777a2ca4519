// Package handler contains HTTP handlers for the trademark portal.
//
// This file implements sign-in and sign-out, plus the pieces every page
// handler shares: the renderer interface and flash messages.
package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DukeRupert/tmportal/internal/auth"
	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/service"
	"github.com/DukeRupert/tmportal/internal/session"
	"github.com/gorilla/csrf"
)

// =============================================================================
// Handler Configuration
// =============================================================================

// TemplateRenderer is the interface for rendering HTML templates.
// This interface allows for mocking in tests.
type TemplateRenderer interface {
	RenderHTTP(w http.ResponseWriter, name string, data interface{})
	RenderHTTPStatus(w http.ResponseWriter, status int, name string, data interface{})
	RenderPartial(w http.ResponseWriter, name string, data interface{})
	RenderPartialWithToast(w http.ResponseWriter, name string, data interface{}, toast ToastData)
}

// LoginLimiter forgets an address's failed logins once it signs in.
// The auth rate limiter satisfies it.
type LoginLimiter interface {
	ResetLogin(r *http.Request)
}

// AuthHandlerConfig holds the settings AuthHandler needs from the config.
type AuthHandlerConfig struct {
	// SearchPortalURL is where a successful login lands without return_to.
	SearchPortalURL string
	SessionDuration time.Duration
	IsSecure        bool

	// TrustProxyHeaders records the forwarded client address with sessions.
	TrustProxyHeaders bool
}

// AuthHandler handles authentication-related HTTP requests.
//
// Routes handled:
// - GET  /        -> ShowLogin
// - GET  /login   -> ShowLogin
// - POST /login   -> Login
// - POST /logout  -> Logout
type AuthHandler struct {
	userService service.UserService
	sessions    *session.Store
	limiter     LoginLimiter
	renderer    TemplateRenderer
	logger      *slog.Logger
	cfg         AuthHandlerConfig
}

// NewAuthHandler creates a new AuthHandler. limiter may be nil.
func NewAuthHandler(
	userService service.UserService,
	sessions *session.Store,
	limiter LoginLimiter,
	renderer TemplateRenderer,
	logger *slog.Logger,
	cfg AuthHandlerConfig,
) *AuthHandler {
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = service.DefaultSessionDuration
	}
	return &AuthHandler{
		userService: userService,
		sessions:    sessions,
		limiter:     limiter,
		renderer:    renderer,
		logger:      logger,
		cfg:         cfg,
	}
}

// =============================================================================
// Template Data Types
// =============================================================================

// Flash represents a flash message to display to the user.
//
// The Type field determines styling in templates:
// - "success" -> green background
// - "error"   -> red background
// - "info"    -> blue background
type Flash struct {
	Type    string // "success", "error", or "info"
	Message string
}

// AuthPageData contains common data for the public pages.
type AuthPageData struct {
	CurrentPath string
	CSRFField   template.HTML     // Hidden input carrying the CSRF token
	Form        map[string]string // Form field values for re-populating on error
	Errors      map[string]string // Field-level validation errors
	Flash       *Flash            // Message from this request
	Notices     []string          // Messages queued by an earlier request
	ReturnTo    string            // URL to redirect to after successful login
}

func (h *AuthHandler) pageData(w http.ResponseWriter, r *http.Request) AuthPageData {
	return newAuthPageData(w, r, h.sessions)
}

func newAuthPageData(w http.ResponseWriter, r *http.Request, sessions *session.Store) AuthPageData {
	return AuthPageData{
		CurrentPath: r.URL.Path,
		CSRFField:   csrf.TemplateField(r),
		Form:        make(map[string]string),
		Errors:      make(map[string]string),
		Notices:     sessions.Flashes(w, r),
	}
}

// =============================================================================
// GET /login - Show Login Form
// =============================================================================

// ShowLogin renders the login form.
//
// Template: auth/login
//
// Query Parameters:
// - return_to (optional): URL to redirect to after successful login
// - registered, reset, logout, denied (optional): "1" selects a notice
//
// A remembered email prefills the form and ticks "remember me". Visitors
// who are already signed in are sent on immediately.
func (h *AuthHandler) ShowLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	returnTo := q.Get("return_to")

	if auth.GetUser(r.Context()) != nil && q.Get("denied") != "1" {
		http.Redirect(w, r, h.redirectTarget(returnTo), http.StatusSeeOther)
		return
	}

	data := h.pageData(w, r)
	data.ReturnTo = returnTo
	data.Flash = loginNotice(q)

	if email := h.sessions.RememberedEmail(r); email != "" {
		data.Form["Email"] = email
		data.Form["Remember"] = "on"
	}

	h.renderer.RenderHTTP(w, "auth/login", data)
}

func loginNotice(q url.Values) *Flash {
	switch {
	case q.Get("registered") == "1":
		return &Flash{Type: "success", Message: "Registration successful. You can now login with your credentials."}
	case q.Get("reset") == "1":
		return &Flash{Type: "success", Message: "Password reset successful. Your password has been reset successfully."}
	case q.Get("logout") == "1":
		return &Flash{Type: "success", Message: "You have been signed out."}
	case q.Get("denied") == "1":
		return &Flash{Type: "error", Message: "Access denied"}
	default:
		return nil
	}
}

// =============================================================================
// POST /login - Process Login
// =============================================================================

// Login processes the login form submission.
//
// Form Fields:
// - email (required)
// - password (required)
// - remember (optional): "on" keeps the email for the next visit
// - return_to (optional): local URL to continue to
//
// Success Flow:
// 1. Call userService.Login() to authenticate and create session
// 2. Set session cookie
// 3. Save or forget the remembered email
// 4. Clear this address's failed-login count
// 5. Redirect to return_to, or to the trademark search portal
//
// Failures re-render the form with the email kept and a generic message;
// the response never says whether the email exists.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse form", "error", err)
		h.renderLoginError(w, r, nil, nil, &Flash{
			Type:    "error",
			Message: "Invalid form submission. Please try again.",
		})
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	password := r.FormValue("password")
	remember := r.FormValue("remember") == "on"

	formValues := map[string]string{
		"Email": email,
	}
	if remember {
		formValues["Remember"] = "on"
	}

	errors := make(map[string]string)
	if email == "" {
		errors["email"] = "Email is required"
	}
	if password == "" {
		errors["password"] = "Password is required"
	}
	if len(errors) > 0 {
		h.renderLoginError(w, r, formValues, errors, nil)
		return
	}

	loginResult, err := h.userService.Login(r.Context(), email, password, domain.LoginMeta{
		IP:        auth.ClientIP(r, h.cfg.TrustProxyHeaders),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		switch domain.ErrorCode(err) {
		case domain.EUNAUTHORIZED, domain.EFORBIDDEN:
			h.renderLoginError(w, r, formValues, nil, &Flash{
				Type:    "error",
				Message: domain.ErrorMessage(err),
			})
		default:
			h.logger.Error("login failed", "error", err)
			h.renderLoginError(w, r, formValues, nil, &Flash{
				Type:    "error",
				Message: "Login failed. Please try again later.",
			})
		}
		return
	}

	session.SetTokenCookie(w, loginResult.Token, h.cfg.SessionDuration, h.cfg.IsSecure)

	if remember {
		h.sessions.RememberEmail(w, r, loginResult.User.Email)
	} else {
		h.sessions.ForgetEmail(w, r)
	}

	if h.limiter != nil {
		h.limiter.ResetLogin(r)
	}

	http.Redirect(w, r, h.redirectTarget(r.FormValue("return_to")), http.StatusSeeOther)
}

// renderLoginError re-renders the login form with errors.
func (h *AuthHandler) renderLoginError(
	w http.ResponseWriter,
	r *http.Request,
	formValues map[string]string,
	errors map[string]string,
	flash *Flash,
) {
	data := h.pageData(w, r)
	data.CurrentPath = "/login"
	if formValues != nil {
		data.Form = formValues
	}
	if errors != nil {
		data.Errors = errors
	}
	data.Flash = flash
	data.ReturnTo = r.FormValue("return_to")

	h.renderer.RenderHTTP(w, "auth/login", data)
}

// redirectTarget picks where a signed-in user goes next.
func (h *AuthHandler) redirectTarget(returnTo string) string {
	if returnTo != "" && isSafeRedirectURL(returnTo) {
		return returnTo
	}
	return h.cfg.SearchPortalURL
}

// =============================================================================
// POST /logout - Process Logout
// =============================================================================

// Logout invalidates the user's session and clears the session cookie.
//
// This operation is idempotent. The cookie is cleared even when the store
// could not be reached.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := session.TokenFromRequest(r); token != "" {
		if err := h.userService.Logout(r.Context(), token); err != nil {
			h.logger.Warn("failed to invalidate session", "error", err)
		}
	}

	session.ClearTokenCookie(w, h.cfg.IsSecure)

	http.Redirect(w, r, "/login?logout=1", http.StatusSeeOther)
}

// =============================================================================
// Helper Functions
// =============================================================================

// isSafeRedirectURL checks if a URL is safe to redirect to.
//
// Examples:
// - "/admin/dashboard"        -> true (relative URL)
// - "/admin/dashboard?q=jane" -> true (relative URL with query)
// - "//evil.com"              -> false (protocol-relative, could be external)
// - "/\evil.com"              -> false (browsers treat \ as /)
// - "https://evil.com"        -> false (absolute URL)
// - "javascript:alert(1)"     -> false (javascript URL)
func isSafeRedirectURL(rawURL string) bool {
	if !strings.HasPrefix(rawURL, "/") {
		return false
	}
	if strings.HasPrefix(rawURL, "//") || strings.HasPrefix(rawURL, "/\\") {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	return parsed.Scheme == "" && parsed.Host == ""
}

// =============================================================================
// Route Registration Helper
// =============================================================================

// RegisterRoutes registers the sign-in routes. limitLogin wraps POST /login.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, limitLogin func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /{$}", h.ShowLogin)
	mux.HandleFunc("GET /login", h.ShowLogin)
	mux.Handle("POST /login", limitLogin(http.HandlerFunc(h.Login)))
	mux.HandleFunc("POST /logout", h.Logout)
}
