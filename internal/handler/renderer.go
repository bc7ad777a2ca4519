package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
)

// Renderer manages template parsing and rendering with isolated template sets.
// It supports two layouts:
//   - "auth" layout for the public pages (login, register, password reset)
//   - "app" layout for signed-in pages (admin dashboard)
//
// Templates are organized as:
//   - layouts/auth.html, layouts/app.html - base layouts
//   - components/*.html - reusable components (shared across layouts)
//   - partials/*.html - standalone fragments for htmx responses
//   - pages/auth/*.html - public pages (use auth layout)
//   - pages/admin/*.html - admin pages (use app layout)
type Renderer struct {
	templates map[string]*template.Template
	logger    *slog.Logger
	isDev     bool
	mu        sync.RWMutex

	fsys fs.FS
}

// RendererConfig holds configuration for the renderer.
type RendererConfig struct {
	// TemplatesDir is read from disk on every render when IsDev is set.
	TemplatesDir string
	Logger       *slog.Logger
	IsDev        bool
}

// NewRenderer creates a renderer reading templates from a directory.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]*template.Template),
		logger:    cfg.Logger,
		isDev:     cfg.IsDev,
		fsys:      os.DirFS(cfg.TemplatesDir),
	}

	if err := r.loadTemplates(); err != nil {
		return nil, err
	}

	return r, nil
}

// NewRendererFromFS creates a renderer from an embedded filesystem.
func NewRendererFromFS(fsys fs.FS, logger *slog.Logger) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]*template.Template),
		logger:    logger,
		fsys:      fsys,
	}

	if err := r.loadTemplates(); err != nil {
		return nil, err
	}

	return r, nil
}

// layoutPages maps a page directory to the layout its pages extend.
var layoutPages = []struct {
	dir    string
	layout string
}{
	{"pages/auth", "auth"},
	{"pages/admin", "app"},
}

func (r *Renderer) loadTemplates() error {
	templates := make(map[string]*template.Template)

	componentFiles, err := fs.Glob(r.fsys, "components/*.html")
	if err != nil {
		return fmt.Errorf("failed to glob components: %w", err)
	}

	partialFiles, err := fs.Glob(r.fsys, "partials/*.html")
	if err != nil {
		return fmt.Errorf("failed to glob partials: %w", err)
	}

	// Parse each partial as a standalone template
	for _, partial := range partialFiles {
		files := append([]string{partial}, componentFiles...)
		partialTmpl, err := template.New("").Funcs(TemplateFuncs()).ParseFS(r.fsys, files...)
		if err != nil {
			return fmt.Errorf("failed to parse partial %s: %w", partial, err)
		}
		templates["partial/"+baseName(partial)] = partialTmpl
	}

	layouts := make(map[string]*template.Template)
	for _, layout := range []string{"auth", "app"} {
		files := []string{"layouts/" + layout + ".html"}
		files = append(files, componentFiles...)
		files = append(files, partialFiles...)

		base, err := template.New(layout).Funcs(TemplateFuncs()).ParseFS(r.fsys, files...)
		if err != nil {
			return fmt.Errorf("failed to parse %s layout: %w", layout, err)
		}
		layouts[layout] = base
	}

	for _, set := range layoutPages {
		pages, err := fs.Glob(r.fsys, set.dir+"/*.html")
		if err != nil {
			return fmt.Errorf("failed to glob %s: %w", set.dir, err)
		}

		for _, page := range pages {
			pageTmpl, err := layouts[set.layout].Clone()
			if err != nil {
				return fmt.Errorf("failed to clone %s template for %s: %w", set.layout, page, err)
			}

			pageTmpl, err = pageTmpl.ParseFS(r.fsys, page)
			if err != nil {
				return fmt.Errorf("failed to parse page %s: %w", page, err)
			}

			// Store as "auth/login", "admin/dashboard", etc.
			templates[path.Base(set.dir)+"/"+baseName(page)] = pageTmpl
		}
	}

	r.templates = templates
	r.logger.Debug("templates loaded", "count", len(templates))
	return nil
}

func baseName(file string) string {
	return strings.TrimSuffix(path.Base(file), path.Ext(file))
}

// Reload re-parses every template. Used by development mode.
func (r *Renderer) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadTemplates()
}

func (r *Renderer) lookup(name string) (*template.Template, error) {
	if r.isDev {
		if err := r.Reload(); err != nil {
			return nil, fmt.Errorf("template reload failed: %w", err)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("template %q not found", name)
	}
	return tmpl, nil
}

// Render renders a page template to an io.Writer.
func (r *Renderer) Render(w io.Writer, name string, data interface{}) error {
	tmpl, err := r.lookup(name)
	if err != nil {
		return err
	}
	return tmpl.ExecuteTemplate(w, r.getBaseTemplateName(name), data)
}

// RenderHTTP renders a page directly to an http.ResponseWriter with a 200.
func (r *Renderer) RenderHTTP(w http.ResponseWriter, name string, data interface{}) {
	r.RenderHTTPStatus(w, http.StatusOK, name, data)
}

// RenderHTTPStatus renders a page with the given status code. The page is
// rendered to a buffer first so a template error still yields a clean 500.
func (r *Renderer) RenderHTTPStatus(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := r.Render(&buf, name, data); err != nil {
		r.logger.Error("template execution failed", "name", name, "error", err)
		http.Error(w, "Template execution failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// RenderPartial renders a partial template (for htmx responses).
// The partial file should contain {{define "name"}}...{{end}} where name matches the file name.
func (r *Renderer) RenderPartial(w http.ResponseWriter, name string, data interface{}) {
	tmpl, err := r.lookup("partial/" + name)
	if err != nil {
		r.logger.Error("partial template not found", "name", name, "error", err)
		http.Error(w, "Partial not found", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		r.logger.Error("partial execution failed", "name", name, "error", err)
		http.Error(w, "Template execution failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// getBaseTemplateName determines which base template to execute.
func (r *Renderer) getBaseTemplateName(name string) string {
	switch {
	case strings.HasPrefix(name, "auth/"):
		return "auth"
	case strings.HasPrefix(name, "partial/"):
		return strings.TrimPrefix(name, "partial/")
	default:
		return "app"
	}
}

// ListTemplates returns a list of all loaded template names.
func (r *Renderer) ListTemplates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// ToastData holds data for rendering a toast notification.
type ToastData struct {
	Type        string // success, error, warning, info
	Title       string // optional
	Message     string
	AutoDismiss int // seconds, default 5
}

// RenderPartialWithToast renders a partial and appends an out-of-band toast
// so htmx swaps both.
func (r *Renderer) RenderPartialWithToast(w http.ResponseWriter, name string, data interface{}, toast ToastData) {
	tmpl, err := r.lookup("partial/" + name)
	if err != nil {
		r.logger.Error("partial template not found", "name", name, "error", err)
		http.Error(w, "Partial not found", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		r.logger.Error("partial execution failed", "name", name, "error", err)
		http.Error(w, "Template execution failed", http.StatusInternalServerError)
		return
	}

	if toast.AutoDismiss == 0 {
		toast.AutoDismiss = 5
	}
	if toast.Type == "" {
		toast.Type = "info"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
	_, _ = io.WriteString(w, renderToastOOB(toast))
}

// renderToastOOB generates the toast OOB HTML. Text is escaped.
func renderToastOOB(toast ToastData) string {
	titleHTML := ""
	if toast.Title != "" {
		titleHTML = fmt.Sprintf(`<p class="toast-title">%s</p>`, template.HTMLEscapeString(toast.Title))
	}

	return fmt.Sprintf(`<div hx-swap-oob="beforeend:#toast-container">
  <div class="toast toast-%s" role="status" data-dismiss-after="%d">
    %s
    <p class="toast-message">%s</p>
    <button type="button" class="toast-close" aria-label="Close">&times;</button>
  </div>
</div>`,
		template.HTMLEscapeString(toast.Type),
		toast.AutoDismiss,
		titleHTML,
		template.HTMLEscapeString(toast.Message),
	)
}
