// Package service contains the business logic layer.
//
// Services orchestrate interactions between the credential store, email
// delivery and domain logic. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Transaction coordination
// - Error translation (repository errors -> domain errors)
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/metrics"
	"github.com/DukeRupert/tmportal/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// BcryptCost is the cost factor for bcrypt password hashing.
	//
	// This should NOT be configurable at runtime. If you need to change it,
	// do so here and redeploy.
	BcryptCost = 12

	// DefaultSessionDuration is used when no duration is configured.
	DefaultSessionDuration = 24 * time.Hour

	// MinSessionDuration and MaxSessionDuration bound configured durations.
	MinSessionDuration = 15 * time.Minute
	MaxSessionDuration = 30 * 24 * time.Hour

	// MinPasswordLength is the registration minimum.
	MinPasswordLength = 6

	// MaxPasswordLength is bcrypt's input limit.
	MaxPasswordLength = 72
)

// dummyHash is compared against when the email is unknown so both failure
// paths cost one bcrypt comparison.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// passwordCost is the cost used when hashing. Tests lower it.
var passwordCost = BcryptCost

const invalidCredentialsMsg = "Invalid email or password"

// =============================================================================
// Interface Definition
// =============================================================================

// UserService authenticates users and manages their sessions.
type UserService interface {
	// Login authenticates a user and creates a new session.
	// Returns the user and raw session token on success.
	// Returns domain.EUNAUTHORIZED for invalid credentials.
	// Returns domain.EFORBIDDEN for locked accounts.
	Login(ctx context.Context, email, password string, meta domain.LoginMeta) (*domain.LoginResult, error)

	// Logout invalidates a session by its raw token.
	// This is idempotent - calling with an invalid token is not an error.
	Logout(ctx context.Context, token string) error

	// GetByID retrieves a user by their ID.
	// Returns domain.ENOTFOUND if user does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetBySessionToken retrieves a user by their session token.
	// Returns domain.EUNAUTHORIZED if token is invalid or expired.
	GetBySessionToken(ctx context.Context, token string) (*domain.User, error)

	// DeleteExpiredSessions removes all expired sessions and reports how
	// many were removed.
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// UserServiceConfig tunes session behavior.
type UserServiceConfig struct {
	SessionDuration time.Duration

	// AdminEmails are treated as administrators regardless of the stored flag.
	AdminEmails []string
}

// normalizeSessionDuration clamps d to the allowed range. Zero selects the
// default.
func normalizeSessionDuration(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultSessionDuration
	case d < MinSessionDuration:
		return MinSessionDuration
	case d > MaxSessionDuration:
		return MaxSessionDuration
	default:
		return d
	}
}

// =============================================================================
// Implementation
// =============================================================================

type userService struct {
	repo            repository.Repository
	logger          *slog.Logger
	sessionDuration time.Duration
	adminEmails     []string
	now             func() time.Time
}

// NewUserService creates a new UserService instance.
func NewUserService(repo repository.Repository, logger *slog.Logger, cfg UserServiceConfig) UserService {
	return &userService{
		repo:            repo,
		logger:          logger,
		sessionDuration: normalizeSessionDuration(cfg.SessionDuration),
		adminEmails:     normalizeEmails(cfg.AdminEmails),
		now:             utcNow,
	}
}

// =============================================================================
// Login Implementation
// =============================================================================

// Login authenticates a user and creates a new session.
//
// Flow:
// 1. Look up user by normalized email
// 2. Compare password hash using bcrypt
// 3. Reject locked accounts
// 4. Generate a session token and store only its SHA-256 hash
// 5. Record the login time
// 6. Return user and raw token
//
// Unknown emails and wrong passwords return the same error after the same
// amount of bcrypt work.
func (s *userService) Login(ctx context.Context, email, password string, meta domain.LoginMeta) (*domain.LoginResult, error) {
	const op = "UserService.Login"

	email = normalizeEmail(email)

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			metrics.LoginsTotal.WithLabelValues("invalid").Inc()
			return nil, domain.Unauthorized(op, invalidCredentialsMsg)
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		metrics.LoginsTotal.WithLabelValues("invalid").Inc()
		return nil, domain.Unauthorized(op, invalidCredentialsMsg)
	}

	if !user.CanLogin() {
		metrics.LoginsTotal.WithLabelValues("locked").Inc()
		s.logger.Warn("login rejected for locked account", "user_id", user.ID)
		return nil, domain.Forbidden(op, "This account is locked. Please contact an administrator.")
	}

	token, err := generateToken()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate session token")
	}

	now := s.now()
	err = s.repo.CreateSession(ctx, &domain.Session{
		UserID:    user.ID,
		TokenHash: hashToken(token),
		IPAddress: meta.IP,
		UserAgent: truncate(meta.UserAgent, 255),
		ExpiresAt: now.Add(s.sessionDuration),
		CreatedAt: now,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create session")
	}

	if err := s.repo.UpdateUserLastLogin(ctx, user.ID, now); err != nil {
		// The session exists; a stale "last login" is not worth failing for.
		s.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = &now
	}

	s.applyAdmin(user)
	user.PasswordHash = ""

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.logger.Info("user logged in", "user_id", user.ID, "email", user.Email)

	return &domain.LoginResult{
		User:  user,
		Token: token,
	}, nil
}

// =============================================================================
// Logout Implementation
// =============================================================================

// Logout invalidates a session. Invalid or already deleted tokens are
// silently accepted.
func (s *userService) Logout(ctx context.Context, token string) error {
	if !validTokenFormat(token) {
		return nil
	}

	if err := s.repo.DeleteSession(ctx, hashToken(token)); err != nil {
		s.logger.Warn("failed to delete session", "error", err)
	}

	s.logger.Debug("session invalidated")
	return nil
}

// =============================================================================
// Lookup Implementations
// =============================================================================

// GetByID retrieves a user by their ID.
func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "UserService.GetByID"

	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound(op, "user", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	s.applyAdmin(user)
	user.PasswordHash = ""
	return user, nil
}

// GetBySessionToken retrieves a user by their session token.
//
// Flow:
// 1. Reject tokens that are not 64 hex characters
// 2. Look up session by token hash
// 3. Reject (and delete) expired sessions
// 4. Look up associated user, rejecting locked accounts
func (s *userService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "UserService.GetBySessionToken"

	if !validTokenFormat(token) {
		return nil, domain.Unauthorized(op, "Invalid session")
	}

	tokenHash := hashToken(token)
	session, err := s.repo.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Unauthorized(op, "Invalid session")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve session")
	}

	if !s.now().Before(session.ExpiresAt) {
		_ = s.repo.DeleteSession(ctx, tokenHash)
		return nil, domain.Unauthorized(op, "Session expired")
	}

	user, err := s.repo.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Unauthorized(op, "Invalid session")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	if !user.CanLogin() {
		return nil, domain.Unauthorized(op, "Invalid session")
	}

	s.applyAdmin(user)
	user.PasswordHash = ""
	return user, nil
}

// DeleteExpiredSessions removes all expired sessions from the store.
func (s *userService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const op = "UserService.DeleteExpiredSessions"

	n, err := s.repo.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to delete expired sessions")
	}
	if n > 0 {
		s.logger.Info("expired sessions deleted", "count", n)
	}
	return n, nil
}

func (s *userService) applyAdmin(u *domain.User) {
	if !u.IsAdmin && slices.Contains(s.adminEmails, normalizeEmail(u.Email)) {
		u.IsAdmin = true
	}
}

// =============================================================================
// Helpers
// =============================================================================

func utcNow() time.Time {
	return time.Now().UTC()
}

// generateToken returns 32 random bytes, hex-encoded to 64 characters.
// Used for session tokens and password reset tokens.
func generateToken() (string, error) {
	b := make([]byte, domain.TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken returns the hex SHA-256 of a raw token. Tokens are high-entropy
// random values, so a fast hash is sufficient.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// validTokenFormat reports whether token looks like generateToken output.
func validTokenFormat(token string) bool {
	if len(token) != 2*domain.TokenBytes {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// emailPattern is deliberately loose: something@something.something
var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// validateEmail checks the registration email rule.
func validateEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}

// validatePassword checks the registration password rule: non-blank and
// between 6 and 72 bytes.
func validatePassword(password string) bool {
	if strings.TrimSpace(password) == "" {
		return false
	}
	return len(password) >= MinPasswordLength && len(password) <= MaxPasswordLength
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// invalidField returns an EINVALID error carrying field detail.
func invalidField(op, field, message string) error {
	return domain.Wrap(domain.NewValidationError(op, field, message), domain.EINVALID, op, message)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
