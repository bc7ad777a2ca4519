package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/DukeRupert/tmportal/internal/auth"
	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/service"
	"github.com/gorilla/csrf"
	"github.com/google/uuid"
)

// AdminHandler serves the admin dashboard.
type AdminHandler struct {
	admin    service.AdminService
	renderer TemplateRenderer
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(admin service.AdminService, renderer TemplateRenderer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:    admin,
		renderer: renderer,
		logger:   logger,
	}
}

// RegisterRoutes registers admin routes with the provided middleware.
func (h *AdminHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireAdmin func(http.Handler) http.Handler,
) {
	mux.Handle("GET /admin", requireAdmin(http.HandlerFunc(h.redirectDashboard)))
	mux.Handle("GET /admin/dashboard", requireAdmin(http.HandlerFunc(h.Dashboard)))
	mux.Handle("GET /admin/dashboard/users", requireAdmin(http.HandlerFunc(h.UserRows)))
	mux.Handle("POST /admin/users/{id}/status", requireAdmin(http.HandlerFunc(h.SetStatus)))
}

// DashboardPageData feeds admin/dashboard and the user_rows partial.
type DashboardPageData struct {
	CurrentPath string
	CSRFField   template.HTML
	CSRFToken   string
	User        *domain.User
	Listing     *domain.UserListing
	// ShowQuery is the toggle link target with the current search kept.
	ShowQuery string
	HideQuery string
	Flash     *Flash
	Notices   []string
}

func (h *AdminHandler) redirectDashboard(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/admin/dashboard", http.StatusSeeOther)
}

func listParams(r *http.Request) domain.ListUsersParams {
	q := r.URL.Query()
	return domain.ListUsersParams{
		Query:         strings.TrimSpace(q.Get("q")),
		ShowPasswords: q.Get("show") == "1",
	}
}

func toggleQuery(query string, show bool) string {
	v := url.Values{}
	if query != "" {
		v.Set("q", query)
	}
	if show {
		v.Set("show", "1")
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (h *AdminHandler) pageData(r *http.Request, listing *domain.UserListing) DashboardPageData {
	return DashboardPageData{
		CurrentPath: "/admin/dashboard",
		CSRFField:   csrf.TemplateField(r),
		CSRFToken:   csrf.Token(r),
		User:        auth.GetUserFromRequest(r),
		Listing:     listing,
		ShowQuery:   toggleQuery(listing.Query, true),
		HideQuery:   toggleQuery(listing.Query, false),
	}
}

// Dashboard renders the user table.
//
// Query Parameters:
// - q: case-insensitive search over name, email, organization and role
// - show=1: reveal the stored password hashes instead of masks
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	listing, err := h.admin.ListUsers(r.Context(), listParams(r))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.renderer.RenderHTTP(w, "admin/dashboard", h.pageData(r, listing))
}

// UserRows renders only the table body, for htmx search-as-you-type.
func (h *AdminHandler) UserRows(w http.ResponseWriter, r *http.Request) {
	listing, err := h.admin.ListUsers(r.Context(), listParams(r))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.renderer.RenderPartial(w, "user_rows", h.pageData(r, listing))
}

// SetStatus changes an account's status.
//
// Form Fields:
// - status: active, inactive or locked
// - q, show: the listing to re-render for htmx requests
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	const op = "AdminHandler.SetStatus"

	actor := auth.GetUserFromRequest(r)
	if actor == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	if err := r.ParseForm(); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Invalid form submission"))
		return
	}

	status := domain.UserStatus(r.FormValue("status"))
	setErr := h.admin.SetStatus(r.Context(), actor.ID, userID, status)

	if r.Header.Get("HX-Request") != "true" {
		if setErr != nil {
			ErrorResponse(w, r, h.logger, setErr)
			return
		}
		http.Redirect(w, r, "/admin/dashboard"+toggleQuery(r.FormValue("q"), r.FormValue("show") == "1"), http.StatusSeeOther)
		return
	}

	toast := ToastData{Type: "success", Message: "Account status updated to " + string(status)}
	if setErr != nil {
		switch domain.ErrorCode(setErr) {
		case domain.EINVALID, domain.EFORBIDDEN, domain.ENOTFOUND:
			toast = ToastData{Type: "error", Message: domain.ErrorMessage(setErr)}
		default:
			ErrorResponse(w, r, h.logger, setErr)
			return
		}
	}

	listing, err := h.admin.ListUsers(r.Context(), domain.ListUsersParams{
		Query:         strings.TrimSpace(r.FormValue("q")),
		ShowPasswords: r.FormValue("show") == "1",
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.renderer.RenderPartialWithToast(w, "user_rows", h.pageData(r, listing), toast)
}
