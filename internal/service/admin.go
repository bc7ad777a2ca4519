package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/obfuscate"
	"github.com/DukeRupert/tmportal/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// =============================================================================
// Interface Definition
// =============================================================================

// AdminService backs the admin dashboard.
type AdminService interface {
	// ListUsers returns the dashboard rows matching params.Query.
	// Password columns show a mask, or the stored hash when
	// params.ShowPasswords is set. Plaintext is never available.
	ListUsers(ctx context.Context, params domain.ListUsersParams) (*domain.UserListing, error)

	// SetStatus changes a user's account status. Locking revokes the
	// user's sessions.
	// Returns domain.EFORBIDDEN if an admin tries to lock or deactivate
	// their own account.
	// Returns domain.ENOTFOUND if the target does not exist.
	SetStatus(ctx context.Context, actorID, userID uuid.UUID, status domain.UserStatus) error

	// SeedDemoUsers inserts the demonstration accounts into an empty store
	// and reports how many were created.
	SeedDemoUsers(ctx context.Context) (int, error)
}

// =============================================================================
// Implementation
// =============================================================================

type adminService struct {
	repo        repository.Repository
	logger      *slog.Logger
	adminEmails []string
	now         func() time.Time
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(repo repository.Repository, logger *slog.Logger, adminEmails []string) AdminService {
	return &adminService{
		repo:        repo,
		logger:      logger,
		adminEmails: normalizeEmails(adminEmails),
		now:         utcNow,
	}
}

// ListUsers filters users by a case-insensitive substring.
//
// The query is matched against the name, email, organization, the role's
// display label and its slug, using Unicode case folding. A blank query
// matches everyone.
func (s *adminService) ListUsers(ctx context.Context, params domain.ListUsersParams) (*domain.UserListing, error) {
	const op = "AdminService.ListUsers"

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list users")
	}

	query := strings.TrimSpace(params.Query)

	// A Caser carries state and must not be shared across goroutines.
	fold := cases.Fold()
	needle := fold.String(query)

	listing := &domain.UserListing{
		Rows:          make([]domain.UserRow, 0, len(users)),
		Total:         len(users),
		Query:         query,
		ShowPasswords: params.ShowPasswords,
	}

	for i := range users {
		u := &users[i]
		if needle != "" && !matchesUser(fold, u, needle) {
			continue
		}

		display := obfuscate.Mask(u.PasswordHash)
		if params.ShowPasswords {
			display = u.PasswordHash
		}

		listing.Rows = append(listing.Rows, domain.UserRow{
			ID:              u.ID,
			Name:            u.Name,
			Email:           u.Email,
			PasswordDisplay: display,
			Organization:    u.Organization,
			RoleLabel:       u.JobRole.Label(),
			Status:          u.Status,
			LastLogin:       u.LastLogin,
			IsAdmin:         u.IsAdmin || slices.Contains(s.adminEmails, normalizeEmail(u.Email)),
		})
	}

	return listing, nil
}

func matchesUser(fold cases.Caser, u *domain.User, needle string) bool {
	for _, field := range []string{
		u.Name,
		u.Email,
		u.Organization,
		u.JobRole.Label(),
		string(u.JobRole),
	} {
		if strings.Contains(fold.String(field), needle) {
			return true
		}
	}
	return false
}

// SetStatus updates a user's status.
func (s *adminService) SetStatus(ctx context.Context, actorID, userID uuid.UUID, status domain.UserStatus) error {
	const op = "AdminService.SetStatus"

	if !status.Valid() {
		return domain.Invalid(op, "Unknown account status")
	}
	if actorID == userID && status != domain.UserStatusActive {
		return domain.Forbidden(op, "You cannot lock or deactivate your own account")
	}

	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.UpdateUserStatus(ctx, userID, status); err != nil {
			return err
		}
		if status == domain.UserStatusLocked {
			return tx.DeleteUserSessions(ctx, userID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFound(op, "user", userID.String())
		}
		return domain.Internal(err, op, "Failed to update status")
	}

	s.logger.Info("user status changed",
		"actor_id", actorID,
		"user_id", userID,
		"status", status,
	)
	return nil
}

// demoUser is a seed record with its plaintext password.
type demoUser struct {
	user      domain.User
	password  string
	lastLogin time.Duration // ago; zero means never
}

func demoUsers() []demoUser {
	return []demoUser{
		{
			user: domain.User{
				Name: "Admin User", Email: "admin@example.com", Age: 35,
				Organization: "Trademark Office", JobRole: domain.JobRoleGovernmentOfficer,
				Sex: domain.SexMale, Location: "New Delhi, India",
				Status: domain.UserStatusActive, IsAdmin: true,
			},
			password:  "Admin123!",
			lastLogin: time.Minute,
		},
		{
			user: domain.User{
				Name: "Jane Smith", Email: "jane@example.com", Age: 28,
				Organization: "Legal Firm LLP", JobRole: domain.JobRoleIPLawyer,
				Sex: domain.SexFemale, Location: "Mumbai, India",
				Status: domain.UserStatusActive,
			},
			password:  "Jane123!",
			lastLogin: 24 * time.Hour,
		},
		{
			user: domain.User{
				Name: "Raj Patel", Email: "raj@startup.co", Age: 31,
				Organization: "Tech Startup", JobRole: domain.JobRoleStartupFounder,
				Sex: domain.SexMale, Location: "Bangalore, India",
				Status: domain.UserStatusActive,
			},
			password:  "Startup123!",
			lastLogin: 72 * time.Hour,
		},
		{
			user: domain.User{
				Name: "Priya Sharma", Email: "priya@university.edu", Age: 42,
				Organization: "National Law University", JobRole: domain.JobRoleUniversity,
				Sex: domain.SexFemale, Location: "Chennai, India",
				Status: domain.UserStatusInactive,
			},
			password: "Univ123!",
		},
	}
}

// SeedDemoUsers populates an empty store. A store with any user is left
// alone.
func (s *adminService) SeedDemoUsers(ctx context.Context) (int, error) {
	const op = "AdminService.SeedDemoUsers"

	n, err := s.repo.CountUsers(ctx)
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to count users")
	}
	if n > 0 {
		return 0, nil
	}

	now := s.now()
	seeds := demoUsers()
	users := make([]domain.User, 0, len(seeds))
	for i, seed := range seeds {
		hash, err := hashPassword(seed.password)
		if err != nil {
			return 0, domain.Internal(err, op, "Failed to hash password")
		}
		u := seed.user
		u.PasswordHash = hash
		// Keep the listing in seed order.
		u.CreatedAt = now.Add(time.Duration(i-len(seeds)) * time.Second)
		if seed.lastLogin > 0 {
			at := now.Add(-seed.lastLogin)
			u.LastLogin = &at
		}
		users = append(users, u)
	}

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		for i := range users {
			if err := tx.CreateUser(ctx, &users[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to seed demo users")
	}

	s.logger.Info("demo users seeded", "count", len(users))
	return len(users), nil
}
