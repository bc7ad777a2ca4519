package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/tmportal/internal"
	"github.com/DukeRupert/tmportal/internal/email"
	"github.com/DukeRupert/tmportal/internal/geo"
	"github.com/DukeRupert/tmportal/internal/handler"
	"github.com/DukeRupert/tmportal/internal/metrics"
	"github.com/DukeRupert/tmportal/internal/middleware"
	"github.com/DukeRupert/tmportal/internal/repository"
	"github.com/DukeRupert/tmportal/internal/service"
	"github.com/DukeRupert/tmportal/internal/session"
	"github.com/DukeRupert/tmportal/internal/worker"
	"github.com/DukeRupert/tmportal/web"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize storage
	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	// Initialize template renderer
	renderer, err := newRenderer(cfg, logger)
	if err != nil {
		return fmt.Errorf("renderer initialization failed: %w", err)
	}
	logger.Info("Templates loaded", "count", len(renderer.ListTemplates()))

	// Initialize email service
	emailService, err := email.NewSMTPEmailService(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, cfg.BaseURL, web.EmailTemplates(), logger)
	if err != nil {
		return fmt.Errorf("email service initialization failed: %w", err)
	}
	logger.Info("Email service initialized", "host", cfg.SMTPHost, "port", cfg.SMTPPort)

	// Initialize services
	userService := service.NewUserService(repo, logger, service.UserServiceConfig{
		SessionDuration: cfg.SessionDuration,
		AdminEmails:     cfg.AdminEmails,
	})
	registrationService := service.NewRegistrationService(repo, emailService, logger, service.RegistrationConfig{
		OTPTTL:      cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		DemoDisplay: cfg.OTPDemoDisplay,
	})
	passwordService := service.NewPasswordService(repo, emailService, logger, service.PasswordServiceConfig{
		TokenTTL: cfg.ResetTokenTTL,
	})
	adminService := service.NewAdminService(repo, logger, cfg.AdminEmails)

	if cfg.SeedDemoUsers {
		n, err := adminService.SeedDemoUsers(ctx)
		if err != nil {
			return fmt.Errorf("seeding demo users failed: %w", err)
		}
		if n > 0 {
			logger.Info("Demo users seeded", "count", n)
		}
	}

	// Start the janitor
	janitorCfg := worker.DefaultConfig()
	janitorCfg.Interval = cfg.JanitorInterval
	janitor, err := worker.New(janitorCfg, logger)
	if err != nil {
		return fmt.Errorf("janitor initialization failed: %w", err)
	}
	janitor.Register(worker.CleanupTasks(userService, registrationService, passwordService)...)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if err := janitor.Start(workerCtx); err != nil {
		return fmt.Errorf("janitor start failed: %w", err)
	}
	defer janitor.Stop()

	// Initialize middleware
	isSecure := cfg.IsSecure()
	authMw := middleware.NewAuthMiddleware(userService, logger, isSecure)
	limits := middleware.DefaultAuthRateLimits
	limits.TrustProxyHeaders = cfg.TrustProxyHeaders
	rateLimiter := middleware.NewAuthRateLimiter(limits, logger)
	defer rateLimiter.Stop()
	loggingMw := middleware.NewRequestLoggingMiddleware(logger, cfg.TrustProxyHeaders)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if !metricsAuth.Enabled() {
		logger.Warn("Metrics endpoint is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// Optional collaborators stay nil interfaces when disabled.
	var captcha handler.Captcha
	var captchaServer http.Handler
	if cfg.CaptchaEnabled {
		c := handler.NewImageCaptcha()
		captcha, captchaServer = c, c.Handler()
	}

	var geocoder handler.Geocoder
	if cfg.GeocoderEnabled {
		geocoder = geo.New(geo.Config{
			BaseURL:   cfg.GeocoderURL,
			UserAgent: cfg.GeocoderUserAgent,
		}, logger)
	}

	// Initialize handlers
	sessions := session.NewStore(cfg.SessionSecret, isSecure, logger)
	authHandler := handler.NewAuthHandler(userService, sessions, rateLimiter, renderer, logger, handler.AuthHandlerConfig{
		SearchPortalURL: cfg.SearchPortalURL,
		SessionDuration: cfg.SessionDuration,
		IsSecure:        isSecure,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})
	registerHandler := handler.NewRegisterHandler(registrationService, sessions, renderer, logger, cfg.GeocoderEnabled)
	passwordHandler := handler.NewPasswordHandler(passwordService, sessions, captcha, renderer, logger)
	adminHandler := handler.NewAdminHandler(adminService, renderer, logger)
	geoHandler := handler.NewGeoHandler(geocoder, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(web.Static())))

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint with optional basic auth
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	if captchaServer != nil {
		mux.Handle("GET /captcha/", captchaServer)
	}

	// Public routes
	authHandler.RegisterRoutes(mux, rateLimiter.LimitLogin)
	registerHandler.RegisterRoutes(mux, rateLimiter.LimitRegister, rateLimiter.LimitVerify)
	passwordHandler.RegisterRoutes(mux, rateLimiter.LimitPasswordReset)
	geoHandler.RegisterRoutes(mux)

	// Admin routes
	adminHandler.RegisterRoutes(mux, authMw.RequireAdmin)

	csrfMw := csrf.Protect(
		csrfKey(cfg.SessionSecret),
		csrf.Secure(isSecure),
		csrf.Path("/"),
		csrf.ErrorHandler(handler.CSRFFailureHandler(logger)),
	)

	app := middleware.Stack(
		securityMw.Handler,
		loggingMw.Handler,
		metrics.Middleware,
		plaintextOrigin(isSecure),
		csrfMw,
		authMw.WithUser,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "database", cfg.DatabaseDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// openRepository selects the credential store named by DATABASE_DRIVER and
// brings its schema up to date.
func openRepository(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (repository.Repository, func(), error) {
	if cfg.DatabaseDriver == "memory" {
		logger.Warn("Using in-memory store; all accounts are lost on restart")
		return repository.NewMemory(), func() {}, nil
	}

	db, dialect, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseUrl)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := internal.RunMigrations(db, string(dialect)); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready", "dialect", dialect)

	return repository.NewSQL(db, dialect), func() { _ = db.Close() }, nil
}

// newRenderer reads templates from disk in development so edits show up
// without a rebuild. Everywhere else the embedded copy is used.
func newRenderer(cfg *internal.Config, logger *slog.Logger) (*handler.Renderer, error) {
	if cfg.IsDevelopment() {
		if _, err := os.Stat("web/templates"); err == nil {
			return handler.NewRenderer(handler.RendererConfig{
				TemplatesDir: "web/templates",
				Logger:       logger,
				IsDev:        true,
			})
		}
	}
	return handler.NewRendererFromFS(web.Templates(), logger)
}

// csrfKey derives the 32-byte CSRF key from the session secret.
func csrfKey(secret string) []byte {
	key := sha256.Sum256([]byte(secret + "csrf"))
	return key[:]
}

// plaintextOrigin marks requests as plain HTTP when the portal is not served
// over TLS, so the CSRF origin check compares against http:// URLs.
func plaintextOrigin(isSecure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if isSecure {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
