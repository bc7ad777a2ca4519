package repository

import (
	"context"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
)

const challengeColumns = `id, purpose, email, payload, secret, attempts, max_attempts,
	expires_at, created_at`

func scanChallenge(row rowScanner) (*domain.OTPChallenge, error) {
	var (
		c       domain.OTPChallenge
		payload string
	)
	if err := row.Scan(&c.ID, &c.Purpose, &c.Email, &payload, &c.Secret, &c.Attempts,
		&c.MaxAttempts, &c.ExpiresAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Payload = []byte(payload)
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (r *SQLRepository) CreateChallenge(ctx context.Context, c *domain.OTPChallenge) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.exec(ctx, `INSERT INTO otp_challenges (`+challengeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Purpose, c.Email, string(c.Payload), c.Secret, c.Attempts, c.MaxAttempts,
		c.ExpiresAt.UTC(), c.CreatedAt.UTC())
	return err
}

func (r *SQLRepository) GetChallenge(ctx context.Context, id string) (*domain.OTPChallenge, error) {
	c, err := scanChallenge(r.queryRow(ctx,
		`SELECT `+challengeColumns+` FROM otp_challenges WHERE id = ?`, id))
	return c, r.translate(err)
}

func (r *SQLRepository) IncrementChallengeAttempts(ctx context.Context, id string) (int, error) {
	if err := r.execOne(ctx,
		`UPDATE otp_challenges SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return 0, err
	}
	var attempts int
	err := r.queryRow(ctx, `SELECT attempts FROM otp_challenges WHERE id = ?`, id).Scan(&attempts)
	return attempts, r.translate(err)
}

func (r *SQLRepository) RotateChallenge(ctx context.Context, id, secret string, expiresAt time.Time) error {
	return r.execOne(ctx, `UPDATE otp_challenges SET secret = ?, expires_at = ? WHERE id = ?`,
		secret, expiresAt.UTC(), id)
}

// DeleteChallenge removes a challenge. A missing challenge is not an error.
func (r *SQLRepository) DeleteChallenge(ctx context.Context, id string) error {
	_, err := r.exec(ctx, `DELETE FROM otp_challenges WHERE id = ?`, id)
	return err
}

func (r *SQLRepository) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	return r.execCount(ctx, `DELETE FROM otp_challenges WHERE expires_at <= ?`, now.UTC())
}
