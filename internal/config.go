package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSearchPortalURL is where users land after a successful login.
const DefaultSearchPortalURL = "https://tmrsearch.ipindia.gov.in/tmrpublicsearch/"

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Database
	DatabaseDriver string // "postgres", "sqlite" or "memory"
	DatabaseUrl    string

	// Sessions and cookies
	SessionSecret   string
	SessionDuration time.Duration

	// Application base URL (for email links)
	BaseURL string

	// External trademark search system users are sent to after login
	SearchPortalURL string

	// SMTP Configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Registration OTP
	OTPTTL         time.Duration
	OTPMaxAttempts int
	OTPDemoDisplay bool // also show the code in the browser

	// Password reset
	ResetTokenTTL  time.Duration
	CaptchaEnabled bool

	// Seed the four demonstration accounts into an empty store
	SeedDemoUsers bool

	// Admin access control
	AdminEmails []string // List of email addresses with admin access

	// Reverse geocoding for the register page
	GeocoderEnabled   bool
	GeocoderURL       string
	GeocoderUserAgent string

	// Janitor
	JanitorInterval time.Duration

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a reverse proxy that sets them.
	TrustProxyHeaders bool

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsSecure reports whether cookies should carry the Secure flag.
func (c *Config) IsSecure() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// devSessionSecret is only accepted in development.
const devSessionSecret = "development-only-session-secret-change-me"

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Env:      env,
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		DatabaseUrl:    os.Getenv("DATABASE_URL"),

		SessionSecret:   os.Getenv("SESSION_SECRET"),
		SessionDuration: getEnvDuration("SESSION_DURATION", 24*time.Hour),

		// Base URL defaults to localhost for development
		BaseURL:         strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		SearchPortalURL: getEnv("SEARCH_PORTAL_URL", DefaultSearchPortalURL),

		// SMTP defaults for Mailhog (development)
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@tmportal.local"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Trademark Portal"),

		OTPTTL:         getEnvDuration("OTP_TTL", 10*time.Minute),
		OTPMaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 5),
		OTPDemoDisplay: getEnvBool("OTP_DEMO_DISPLAY", false),

		ResetTokenTTL:  getEnvDuration("RESET_TOKEN_TTL", time.Hour),
		CaptchaEnabled: getEnvBool("CAPTCHA_ENABLED", true),

		SeedDemoUsers: getEnvBool("SEED_DEMO_USERS", env == "development"),

		GeocoderEnabled:   getEnvBool("GEOCODER_ENABLED", true),
		GeocoderURL:       strings.TrimRight(getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"), "/"),
		GeocoderUserAgent: getEnv("GEOCODER_USER_AGENT", "tmportal/1.0"),

		JanitorInterval: getEnvDuration("JANITOR_INTERVAL", time.Hour),

		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	cfg.AdminEmails = parseEmailList(getEnv("ADMIN_EMAILS", ""))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
		if c.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER is '%s'", c.DatabaseDriver)
		}
	case "memory":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be 'postgres', 'sqlite' or 'memory', got: %s", c.DatabaseDriver)
	}

	if c.SessionSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("SESSION_SECRET is required")
		}
		c.SessionSecret = devSessionSecret
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}

	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive, got: %s", c.OTPTTL)
	}
	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1, got: %d", c.OTPMaxAttempts)
	}
	if c.ResetTokenTTL <= 0 {
		return fmt.Errorf("RESET_TOKEN_TTL must be positive, got: %s", c.ResetTokenTTL)
	}
	if c.JanitorInterval < time.Second {
		return fmt.Errorf("JANITOR_INTERVAL must be at least 1s, got: %s", c.JanitorInterval)
	}

	return nil
}

// parseEmailList splits a comma-separated list into lower-cased addresses.
func parseEmailList(s string) []string {
	var out []string
	for _, email := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(strings.ToLower(email))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
