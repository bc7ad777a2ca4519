// Package domain contains core business types for the trademark portal.
//
// This file defines the one-time challenges used by registration (OTP codes)
// and password recovery (reset links).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Token Configuration Constants
// =============================================================================

const (
	// DefaultOTPDuration is how long a registration code stays valid.
	DefaultOTPDuration = 10 * time.Minute

	// DefaultOTPMaxAttempts bounds wrong guesses per challenge.
	DefaultOTPMaxAttempts = 5

	// OTPDigits is the length of the registration code.
	OTPDigits = 6

	// DefaultPasswordResetDuration is how long a reset link stays valid.
	DefaultPasswordResetDuration = 1 * time.Hour

	// TokenBytes is the number of random bytes for reset tokens and session
	// tokens. Hex encoding doubles it to 64 characters.
	TokenBytes = 32

	// MinResetTokenLength is the syntactic gate applied to a recovery link
	// before any lookup happens.
	MinResetTokenLength = 10
)

// ChallengePurpose scopes a challenge to one flow.
type ChallengePurpose string

const (
	ChallengePurposeRegistration ChallengePurpose = "registration"
)

// =============================================================================
// OTP Challenge
// =============================================================================

// OTPChallenge is a pending registration waiting for its emailed code.
//
// The browser only ever holds ID. Secret derives the code and is never sent
// anywhere. Payload is the serialized PendingRegistration.
type OTPChallenge struct {
	ID          string
	Purpose     ChallengePurpose
	Email       string
	Payload     []byte
	Secret      string
	Attempts    int
	MaxAttempts int
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// IsExpired reports whether the challenge has passed its deadline.
func (c *OTPChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Exhausted reports whether no guesses remain.
func (c *OTPChallenge) Exhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// Remaining returns the number of guesses left.
func (c *OTPChallenge) Remaining() int {
	if n := c.MaxAttempts - c.Attempts; n > 0 {
		return n
	}
	return 0
}

// PendingRegistration is the profile captured in step one of the wizard.
// The password is already hashed.
type PendingRegistration struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"password_hash"`
	Age          int     `json:"age"`
	Organization string  `json:"organization"`
	JobRole      JobRole `json:"job_role"`
	Sex          Sex     `json:"sex"`
	Location     string  `json:"location"`
}

// RegistrationChallenge is returned by the first wizard step.
type RegistrationChallenge struct {
	ChallengeID string
	Email       string
	Name        string
	ExpiresAt   time.Time
	Remaining   int

	// DemoCode is only populated when the portal runs in demo mode and the
	// code is shown in the browser in addition to being emailed.
	DemoCode string
}

// =============================================================================
// Password Reset Token
// =============================================================================

// PasswordResetToken allows exactly one password change for UserID.
//
// Only the SHA-256 hash of the raw token is stored. Used tokens are kept
// with UsedAt set until the janitor removes them.
type PasswordResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsExpired returns true if the token has expired.
func (t *PasswordResetToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsUsed returns true if the token has been consumed.
func (t *PasswordResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsValid returns true if the token can still be redeemed.
func (t *PasswordResetToken) IsValid() bool {
	return !t.IsExpired() && !t.IsUsed()
}

// PasswordResetResult is returned when a reset link is issued.
type PasswordResetResult struct {
	Token     string
	ExpiresAt time.Time
	UserID    uuid.UUID
}

// ValidResetTokenFormat is the format check applied to the path segment of a
// recovery link. It does not prove the token exists.
func ValidResetTokenFormat(token string) bool {
	return len(token) >= MinResetTokenLength
}
