// Package email sends the portal's transactional mail: registration codes and
// password reset links.
package email

import (
	"context"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailService defines the interface for sending transactional emails.
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendRegistrationCode delivers the one-time passcode that confirms a
	// new registration.
	// Parameters:
	// - to: Recipient email address
	// - name: Recipient's name for personalization
	// - code: Six-digit passcode
	// - expiresAt: When the code stops being accepted
	SendRegistrationCode(ctx context.Context, to, name, code string, expiresAt time.Time) error

	// SendPasswordResetEmail sends a password recovery link to a user.
	// Parameters:
	// - to: Recipient email address
	// - name: Recipient's name for personalization
	// - token: Raw reset token to include in the link
	SendPasswordResetEmail(ctx context.Context, to, name, token string) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email
	TextBody string // Plain text fallback content
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

const (
	// DefaultFromEmail is the default sender email for transactional emails.
	DefaultFromEmail = "noreply@tmportal.local"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Trademark Portal"
)
