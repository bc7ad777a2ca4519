package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/metrics"
	"github.com/DukeRupert/tmportal/internal/repository"
	"github.com/google/uuid"
)

const (
	msgResetLinkInvalid = "This password reset link is invalid or has expired."
	msgPasswordMismatch = "Passwords don't match"
	msgPasswordWeak     = "Password too weak"
)

// ResetSender delivers password recovery links.
type ResetSender interface {
	SendPasswordResetEmail(ctx context.Context, to, name, token string) error
}

// =============================================================================
// Interface Definition
// =============================================================================

// PasswordService implements password recovery.
type PasswordService interface {
	// RequestReset issues a reset link for email and mails it.
	// An unknown email is not an error: the result is nil and nothing is
	// sent. Callers must respond identically in both cases.
	RequestReset(ctx context.Context, email string) (*domain.PasswordResetResult, error)

	// ValidateResetToken checks a recovery link before the form is shown.
	// Returns the subject user ID if valid.
	// Returns domain.EGONE if the token is malformed, unknown, used or expired.
	ValidateResetToken(ctx context.Context, token string) (uuid.UUID, error)

	// ResetPassword sets a new password for the token's subject.
	// Returns domain.EGONE for unusable tokens.
	// Returns domain.EINVALID if the passwords differ or are too weak.
	// On success: updates password, marks token as used, revokes all sessions.
	ResetPassword(ctx context.Context, params domain.ResetPasswordParams) error

	// DeleteExpiredPasswordResetTokens removes expired and consumed tokens.
	DeleteExpiredPasswordResetTokens(ctx context.Context) (int64, error)
}

// PasswordServiceConfig tunes recovery links.
type PasswordServiceConfig struct {
	TokenTTL time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

type passwordService struct {
	repo     repository.Repository
	sender   ResetSender
	logger   *slog.Logger
	tokenTTL time.Duration
	now      func() time.Time
}

// NewPasswordService creates a new PasswordService instance.
func NewPasswordService(repo repository.Repository, sender ResetSender, logger *slog.Logger, cfg PasswordServiceConfig) PasswordService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = domain.DefaultPasswordResetDuration
	}
	return &passwordService{
		repo:     repo,
		sender:   sender,
		logger:   logger,
		tokenTTL: cfg.TokenTTL,
		now:      utcNow,
	}
}

// =============================================================================
// Request Stage
// =============================================================================

// RequestReset creates a new reset token for the account behind email.
//
// Flow:
// 1. Validate the email format
// 2. Look up the user; unknown or locked accounts end here silently
// 3. Replace any outstanding tokens with a new one, storing only its hash
// 4. Email the recovery link
//
// A delivery failure is logged, not returned, so the response cannot reveal
// whether the account exists.
func (s *passwordService) RequestReset(ctx context.Context, email string) (*domain.PasswordResetResult, error) {
	const op = "PasswordService.RequestReset"

	email = normalizeEmail(email)
	if !validateEmail(email) {
		return nil, invalidField(op, "email", msgEmailRequired)
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil, nil
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	if !user.CanLogin() {
		s.logger.Info("password reset requested for locked account", "user_id", user.ID)
		return nil, nil
	}

	token, err := generateToken()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate reset token")
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.DeleteUserPasswordResetTokens(ctx, user.ID); err != nil {
			return err
		}
		return tx.CreatePasswordResetToken(ctx, &domain.PasswordResetToken{
			UserID:    user.ID,
			TokenHash: hashToken(token),
			ExpiresAt: expiresAt,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create reset token")
	}

	if err := s.sender.SendPasswordResetEmail(ctx, user.Email, user.DisplayName(), token); err != nil {
		s.logger.Error("failed to send password reset email", "user_id", user.ID, "error", err)
	}

	metrics.PasswordResetsTotal.WithLabelValues("requested").Inc()
	s.logger.Info("password reset requested", "user_id", user.ID)

	return &domain.PasswordResetResult{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    user.ID,
	}, nil
}

// =============================================================================
// Recovery Stage
// =============================================================================

// ValidateResetToken resolves a raw token to its subject.
func (s *passwordService) ValidateResetToken(ctx context.Context, token string) (uuid.UUID, error) {
	const op = "PasswordService.ValidateResetToken"

	t, err := s.lookup(ctx, op, token)
	if err != nil {
		return uuid.Nil, err
	}
	return t.UserID, nil
}

// ResetPassword updates the subject's password.
//
// Flow:
// 1. Reject malformed tokens before touching the store
// 2. Require the confirmation to match
// 3. Enforce the strength policy
// 4. Resolve the token to its subject user
// 5. In one transaction: consume the token, set the new hash, revoke sessions
func (s *passwordService) ResetPassword(ctx context.Context, params domain.ResetPasswordParams) error {
	const op = "PasswordService.ResetPassword"

	if !domain.ValidResetTokenFormat(params.Token) {
		return domain.Gone(op, msgResetLinkInvalid)
	}

	if params.NewPassword != params.ConfirmPassword {
		return invalidField(op, "confirm_password", msgPasswordMismatch)
	}

	if len(params.NewPassword) > MaxPasswordLength {
		return invalidField(op, "password", msgPasswordLong)
	}
	if strength := domain.CheckPasswordStrength(params.NewPassword); !strength.OK() {
		detail := "Password must contain " + strings.Join(strength.Missing(), ", ")
		return domain.Wrap(domain.NewValidationError(op, "password", detail), domain.EINVALID, op, msgPasswordWeak)
	}

	t, err := s.lookup(ctx, op, params.Token)
	if err != nil {
		return err
	}

	hash, err := hashPassword(params.NewPassword)
	if err != nil {
		return domain.Internal(err, op, "Failed to hash password")
	}

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		// Consuming first makes a concurrent second use fail here.
		if err := tx.MarkPasswordResetTokenUsed(ctx, t.ID, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateUserPassword(ctx, t.UserID, hash); err != nil {
			return err
		}
		return tx.DeleteUserSessions(ctx, t.UserID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Gone(op, msgResetLinkInvalid)
		}
		return domain.Internal(err, op, "Failed to reset password")
	}

	metrics.PasswordResetsTotal.WithLabelValues("completed").Inc()
	s.logger.Info("password reset completed", "user_id", t.UserID)

	return nil
}

// DeleteExpiredPasswordResetTokens removes expired and consumed tokens.
func (s *passwordService) DeleteExpiredPasswordResetTokens(ctx context.Context) (int64, error) {
	const op = "PasswordService.DeleteExpiredPasswordResetTokens"

	n, err := s.repo.DeleteExpiredPasswordResetTokens(ctx, s.now())
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to delete expired reset tokens")
	}
	if n > 0 {
		s.logger.Info("expired password reset tokens deleted", "count", n)
	}
	return n, nil
}

// lookup returns a redeemable token. Every failure looks the same to the
// caller.
func (s *passwordService) lookup(ctx context.Context, op, token string) (*domain.PasswordResetToken, error) {
	if !domain.ValidResetTokenFormat(token) {
		return nil, domain.Gone(op, msgResetLinkInvalid)
	}

	t, err := s.repo.GetPasswordResetTokenByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Gone(op, msgResetLinkInvalid)
		}
		return nil, domain.Internal(err, op, "Failed to retrieve reset token")
	}

	if t.IsUsed() || !s.now().Before(t.ExpiresAt) {
		return nil, domain.Gone(op, msgResetLinkInvalid)
	}

	return t, nil
}
