package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. State is lost on exit.
type MemoryRepository struct {
	mu    *sync.Mutex
	state *memState
	held  bool // true inside InTx; the lock is already taken
}

type memState struct {
	users      map[uuid.UUID]domain.User
	sessions   map[string]domain.Session // by token hash
	challenges map[string]domain.OTPChallenge
	tokens     map[uuid.UUID]domain.PasswordResetToken
}

// NewMemory returns an empty MemoryRepository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		mu: &sync.Mutex{},
		state: &memState{
			users:      make(map[uuid.UUID]domain.User),
			sessions:   make(map[string]domain.Session),
			challenges: make(map[string]domain.OTPChallenge),
			tokens:     make(map[uuid.UUID]domain.PasswordResetToken),
		},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		users:      make(map[uuid.UUID]domain.User, len(s.users)),
		sessions:   make(map[string]domain.Session, len(s.sessions)),
		challenges: make(map[string]domain.OTPChallenge, len(s.challenges)),
		tokens:     make(map[uuid.UUID]domain.PasswordResetToken, len(s.tokens)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.challenges {
		c.challenges[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	return c
}

func (r *MemoryRepository) do(fn func(s *memState) error) error {
	if !r.held {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return fn(r.state)
}

// InTx runs fn against a copy of the state and publishes it only when fn
// succeeds. Other callers block until the transaction finishes.
func (r *MemoryRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if r.held {
		return fn(r)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &MemoryRepository{mu: r.mu, state: r.state.clone(), held: true}
	if err := fn(tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

// =============================================================================
// Users
// =============================================================================

func (r *MemoryRepository) CreateUser(_ context.Context, u *domain.User) error {
	return r.do(func(s *memState) error {
		for _, existing := range s.users {
			if strings.EqualFold(existing.Email, u.Email) {
				return ErrDuplicate
			}
		}
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		if _, ok := s.users[u.ID]; ok {
			return ErrDuplicate
		}
		now := time.Now().UTC()
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		u.UpdatedAt = now
		if u.Status == "" {
			u.Status = domain.UserStatusActive
		}
		s.users[u.ID] = copyUser(*u)
		return nil
	})
}

func (r *MemoryRepository) GetUserByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	var out *domain.User
	err := r.do(func(s *memState) error {
		u, ok := s.users[id]
		if !ok {
			return ErrNotFound
		}
		c := copyUser(u)
		out = &c
		return nil
	})
	return out, err
}

func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	var out *domain.User
	err := r.do(func(s *memState) error {
		for _, u := range s.users {
			if strings.EqualFold(u.Email, email) {
				c := copyUser(u)
				out = &c
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (r *MemoryRepository) ListUsers(_ context.Context) ([]domain.User, error) {
	var out []domain.User
	err := r.do(func(s *memState) error {
		out = make([]domain.User, 0, len(s.users))
		for _, u := range s.users {
			out = append(out, copyUser(u))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Email < out[j].Email
	})
	return out, err
}

func (r *MemoryRepository) CountUsers(_ context.Context) (int, error) {
	var n int
	err := r.do(func(s *memState) error {
		n = len(s.users)
		return nil
	})
	return n, err
}

func (r *MemoryRepository) updateUser(id uuid.UUID, fn func(u *domain.User)) error {
	return r.do(func(s *memState) error {
		u, ok := s.users[id]
		if !ok {
			return ErrNotFound
		}
		fn(&u)
		u.UpdatedAt = time.Now().UTC()
		s.users[id] = u
		return nil
	})
}

func (r *MemoryRepository) UpdateUserPassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return r.updateUser(id, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (r *MemoryRepository) UpdateUserLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	at = at.UTC()
	return r.updateUser(id, func(u *domain.User) { u.LastLogin = &at })
}

func (r *MemoryRepository) UpdateUserStatus(_ context.Context, id uuid.UUID, status domain.UserStatus) error {
	return r.updateUser(id, func(u *domain.User) { u.Status = status })
}

// DeleteUser removes the user along with its sessions and reset tokens.
func (r *MemoryRepository) DeleteUser(_ context.Context, id uuid.UUID) error {
	return r.do(func(s *memState) error {
		if _, ok := s.users[id]; !ok {
			return ErrNotFound
		}
		delete(s.users, id)
		for k, sess := range s.sessions {
			if sess.UserID == id {
				delete(s.sessions, k)
			}
		}
		for k, t := range s.tokens {
			if t.UserID == id {
				delete(s.tokens, k)
			}
		}
		return nil
	})
}

func copyUser(u domain.User) domain.User {
	if u.LastLogin != nil {
		t := *u.LastLogin
		u.LastLogin = &t
	}
	return u
}

// =============================================================================
// Sessions
// =============================================================================

func (r *MemoryRepository) CreateSession(_ context.Context, sess *domain.Session) error {
	return r.do(func(s *memState) error {
		if _, ok := s.users[sess.UserID]; !ok {
			return ErrNotFound
		}
		if _, ok := s.sessions[sess.TokenHash]; ok {
			return ErrDuplicate
		}
		if sess.ID == uuid.Nil {
			sess.ID = uuid.New()
		}
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = time.Now().UTC()
		}
		s.sessions[sess.TokenHash] = *sess
		return nil
	})
}

func (r *MemoryRepository) GetSessionByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	var out *domain.Session
	err := r.do(func(s *memState) error {
		sess, ok := s.sessions[tokenHash]
		if !ok {
			return ErrNotFound
		}
		out = &sess
		return nil
	})
	return out, err
}

func (r *MemoryRepository) DeleteSession(_ context.Context, tokenHash string) error {
	return r.do(func(s *memState) error {
		delete(s.sessions, tokenHash)
		return nil
	})
}

func (r *MemoryRepository) DeleteUserSessions(_ context.Context, userID uuid.UUID) error {
	return r.do(func(s *memState) error {
		for k, sess := range s.sessions {
			if sess.UserID == userID {
				delete(s.sessions, k)
			}
		}
		return nil
	})
}

func (r *MemoryRepository) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.do(func(s *memState) error {
		for k, sess := range s.sessions {
			if !sess.ExpiresAt.After(now) {
				delete(s.sessions, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

// =============================================================================
// Registration challenges
// =============================================================================

func (r *MemoryRepository) CreateChallenge(_ context.Context, c *domain.OTPChallenge) error {
	return r.do(func(s *memState) error {
		if _, ok := s.challenges[c.ID]; ok {
			return ErrDuplicate
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		s.challenges[c.ID] = copyChallenge(*c)
		return nil
	})
}

func (r *MemoryRepository) GetChallenge(_ context.Context, id string) (*domain.OTPChallenge, error) {
	var out *domain.OTPChallenge
	err := r.do(func(s *memState) error {
		c, ok := s.challenges[id]
		if !ok {
			return ErrNotFound
		}
		cp := copyChallenge(c)
		out = &cp
		return nil
	})
	return out, err
}

func (r *MemoryRepository) IncrementChallengeAttempts(_ context.Context, id string) (int, error) {
	var attempts int
	err := r.do(func(s *memState) error {
		c, ok := s.challenges[id]
		if !ok {
			return ErrNotFound
		}
		c.Attempts++
		s.challenges[id] = c
		attempts = c.Attempts
		return nil
	})
	return attempts, err
}

func (r *MemoryRepository) RotateChallenge(_ context.Context, id, secret string, expiresAt time.Time) error {
	return r.do(func(s *memState) error {
		c, ok := s.challenges[id]
		if !ok {
			return ErrNotFound
		}
		c.Secret = secret
		c.ExpiresAt = expiresAt.UTC()
		s.challenges[id] = c
		return nil
	})
}

func (r *MemoryRepository) DeleteChallenge(_ context.Context, id string) error {
	return r.do(func(s *memState) error {
		delete(s.challenges, id)
		return nil
	})
}

func (r *MemoryRepository) DeleteExpiredChallenges(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.do(func(s *memState) error {
		for k, c := range s.challenges {
			if !c.ExpiresAt.After(now) {
				delete(s.challenges, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

func copyChallenge(c domain.OTPChallenge) domain.OTPChallenge {
	c.Payload = append([]byte(nil), c.Payload...)
	return c
}

// =============================================================================
// Password reset tokens
// =============================================================================

func (r *MemoryRepository) CreatePasswordResetToken(_ context.Context, t *domain.PasswordResetToken) error {
	return r.do(func(s *memState) error {
		if _, ok := s.users[t.UserID]; !ok {
			return ErrNotFound
		}
		for _, existing := range s.tokens {
			if existing.TokenHash == t.TokenHash {
				return ErrDuplicate
			}
		}
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		s.tokens[t.ID] = copyToken(*t)
		return nil
	})
}

func (r *MemoryRepository) GetPasswordResetTokenByHash(_ context.Context, tokenHash string) (*domain.PasswordResetToken, error) {
	var out *domain.PasswordResetToken
	err := r.do(func(s *memState) error {
		for _, t := range s.tokens {
			if t.TokenHash == tokenHash {
				cp := copyToken(t)
				out = &cp
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (r *MemoryRepository) MarkPasswordResetTokenUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.do(func(s *memState) error {
		t, ok := s.tokens[id]
		if !ok || t.UsedAt != nil {
			return ErrNotFound
		}
		at = at.UTC()
		t.UsedAt = &at
		s.tokens[id] = t
		return nil
	})
}

func (r *MemoryRepository) DeleteUserPasswordResetTokens(_ context.Context, userID uuid.UUID) error {
	return r.do(func(s *memState) error {
		for k, t := range s.tokens {
			if t.UserID == userID {
				delete(s.tokens, k)
			}
		}
		return nil
	})
}

func (r *MemoryRepository) DeleteExpiredPasswordResetTokens(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.do(func(s *memState) error {
		for k, t := range s.tokens {
			if !t.ExpiresAt.After(now) || t.UsedAt != nil {
				delete(s.tokens, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

func copyToken(t domain.PasswordResetToken) domain.PasswordResetToken {
	if t.UsedAt != nil {
		at := *t.UsedAt
		t.UsedAt = &at
	}
	return t
}

var _ Repository = (*MemoryRepository)(nil)
