// Package repository persists users, sessions, registration challenges and
// password reset tokens.
//
// Two implementations share one contract: SQLRepository (Postgres through
// pgx, or embedded SQLite through modernc.org/sqlite) and MemoryRepository
// for tests and throwaway demo runs. Every method is a single atomic
// operation; InTx groups several of them.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no row matches, or when a conditional
	// update finds nothing left to change.
	ErrNotFound = errors.New("repository: not found")

	// ErrDuplicate is returned on a unique constraint violation.
	ErrDuplicate = errors.New("repository: duplicate")
)

// Repository is the credential store.
type Repository interface {
	// Users
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	CountUsers(ctx context.Context) (int, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateUserLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateUserStatus(ctx context.Context, id uuid.UUID, status domain.UserStatus) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// Sessions
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID uuid.UUID) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Registration challenges
	CreateChallenge(ctx context.Context, c *domain.OTPChallenge) error
	GetChallenge(ctx context.Context, id string) (*domain.OTPChallenge, error)
	// IncrementChallengeAttempts records one wrong guess and returns the
	// new attempt count.
	IncrementChallengeAttempts(ctx context.Context, id string) (int, error)
	// RotateChallenge replaces the secret and deadline, keeping attempts.
	RotateChallenge(ctx context.Context, id, secret string, expiresAt time.Time) error
	DeleteChallenge(ctx context.Context, id string) error
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)

	// Password reset tokens
	CreatePasswordResetToken(ctx context.Context, t *domain.PasswordResetToken) error
	GetPasswordResetTokenByHash(ctx context.Context, tokenHash string) (*domain.PasswordResetToken, error)
	// MarkPasswordResetTokenUsed consumes an unused token. A token that was
	// already consumed yields ErrNotFound.
	MarkPasswordResetTokenUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteUserPasswordResetTokens(ctx context.Context, userID uuid.UUID) error
	DeleteExpiredPasswordResetTokens(ctx context.Context, now time.Time) (int64, error)

	// InTx runs fn against a transaction-scoped Repository. fn's error rolls
	// everything back. Nested calls join the outer transaction.
	InTx(ctx context.Context, fn func(Repository) error) error
}
