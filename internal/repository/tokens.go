package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/google/uuid"
)

const resetTokenColumns = `id, user_id, token_hash, expires_at, used_at, created_at`

func scanResetToken(row rowScanner) (*domain.PasswordResetToken, error) {
	var (
		t      domain.PasswordResetToken
		usedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &usedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		at := usedAt.Time.UTC()
		t.UsedAt = &at
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (r *SQLRepository) CreatePasswordResetToken(ctx context.Context, t *domain.PasswordResetToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.exec(ctx, `INSERT INTO password_reset_tokens (`+resetTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), nullTime(t.UsedAt), t.CreatedAt.UTC())
	return err
}

func (r *SQLRepository) GetPasswordResetTokenByHash(ctx context.Context, tokenHash string) (*domain.PasswordResetToken, error) {
	t, err := scanResetToken(r.queryRow(ctx,
		`SELECT `+resetTokenColumns+` FROM password_reset_tokens WHERE token_hash = ?`, tokenHash))
	return t, r.translate(err)
}

func (r *SQLRepository) MarkPasswordResetTokenUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.execOne(ctx,
		`UPDATE password_reset_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		at.UTC(), id)
}

func (r *SQLRepository) DeleteUserPasswordResetTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.exec(ctx, `DELETE FROM password_reset_tokens WHERE user_id = ?`, userID)
	return err
}

// DeleteExpiredPasswordResetTokens removes expired tokens and tokens that
// were consumed before now.
func (r *SQLRepository) DeleteExpiredPasswordResetTokens(ctx context.Context, now time.Time) (int64, error) {
	return r.execCount(ctx,
		`DELETE FROM password_reset_tokens WHERE expires_at <= ? OR used_at IS NOT NULL`, now.UTC())
}
