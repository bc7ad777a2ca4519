package repository

import (
	"context"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/google/uuid"
)

const sessionColumns = `id, user_id, token_hash, ip_address, user_agent, expires_at, created_at`

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.IPAddress, &s.UserAgent,
		&s.ExpiresAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func (r *SQLRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.exec(ctx, `INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.TokenHash, s.IPAddress, s.UserAgent, s.ExpiresAt.UTC(), s.CreatedAt.UTC())
	return err
}

func (r *SQLRepository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	s, err := scanSession(r.queryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`, tokenHash))
	return s, r.translate(err)
}

// DeleteSession removes a session. A missing session is not an error.
func (r *SQLRepository) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := r.exec(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	return err
}

func (r *SQLRepository) DeleteUserSessions(ctx context.Context, userID uuid.UUID) error {
	_, err := r.exec(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

func (r *SQLRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return r.execCount(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
}
