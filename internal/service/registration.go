package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/metrics"
	"github.com/DukeRupert/tmportal/internal/repository"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// otpSecretBytes is the HOTP key size (160 bits, the RFC 4226 recommendation).
const otpSecretBytes = 20

// User-facing registration messages.
const (
	msgNameRequired   = "Name is required"
	msgAgeRequired    = "Valid age is required"
	msgEmailRequired  = "Valid email is required"
	msgPasswordShort  = "Password must be at least 6 characters"
	msgPasswordLong   = "Password must be 72 characters or less"
	msgJobRoleInvalid = "Please select a valid job role"
	msgSexInvalid     = "Please select a valid option"
	msgEmailTaken     = "An account with this email already exists"
	msgOTPSendFailed  = "Failed to send OTP"
	msgOTPExpired     = "Your verification code has expired. Please register again."
	msgOTPExhausted   = "Too many incorrect codes. Please register again."
	msgOTPIncorrect   = "The OTP you entered is incorrect"
)

// otp_verifications_total result labels
const (
	otpResultSuccess   = "success"
	otpResultMismatch  = "mismatch"
	otpResultExpired   = "expired"
	otpResultExhausted = "exhausted"
)

var otpOpts = hotp.ValidateOpts{
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// CodeSender delivers registration codes out of band.
type CodeSender interface {
	SendRegistrationCode(ctx context.Context, to, name, code string, expiresAt time.Time) error
}

// =============================================================================
// Interface Definition
// =============================================================================

// RegistrationService runs the two-step registration wizard:
// CollectingProfile -> OtpSent -> Registered.
type RegistrationService interface {
	// Begin validates the profile, stores it as a pending challenge and
	// sends the code.
	// Returns domain.EINVALID with field detail for validation errors.
	// Returns domain.ECONFLICT if the email is already registered.
	// Returns domain.EUNAVAILABLE if the code could not be delivered.
	Begin(ctx context.Context, params domain.RegisterParams) (*domain.RegistrationChallenge, error)

	// Verify checks code against the challenge and creates the account on a
	// match.
	// Returns domain.EGONE for unknown or expired challenges.
	// Returns domain.ERATELIMIT once the attempts are used up.
	// Returns domain.EINVALID for a wrong code.
	Verify(ctx context.Context, challengeID, code string) (*domain.User, error)

	// Resend issues a fresh code for the same challenge. The attempt count
	// carries over.
	Resend(ctx context.Context, challengeID string) (*domain.RegistrationChallenge, error)

	// Pending describes a live challenge without exposing its secret.
	// Returns domain.EGONE for unknown or expired challenges.
	Pending(ctx context.Context, challengeID string) (*domain.RegistrationChallenge, error)

	// DeleteExpiredChallenges removes challenges past their deadline.
	DeleteExpiredChallenges(ctx context.Context) (int64, error)
}

// RegistrationConfig tunes the OTP step.
type RegistrationConfig struct {
	OTPTTL      time.Duration
	MaxAttempts int

	// DemoDisplay returns the code in RegistrationChallenge.DemoCode so it
	// can be shown in the browser.
	DemoDisplay bool
}

// =============================================================================
// Implementation
// =============================================================================

type registrationService struct {
	repo   repository.Repository
	sender CodeSender
	logger *slog.Logger
	cfg    RegistrationConfig
	now    func() time.Time
}

// NewRegistrationService creates a new RegistrationService instance.
func NewRegistrationService(repo repository.Repository, sender CodeSender, logger *slog.Logger, cfg RegistrationConfig) RegistrationService {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = domain.DefaultOTPDuration
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultOTPMaxAttempts
	}
	return &registrationService{
		repo:   repo,
		sender: sender,
		logger: logger,
		cfg:    cfg,
		now:    utcNow,
	}
}

// =============================================================================
// Begin Implementation
// =============================================================================

// Begin starts a registration.
//
// Flow:
// 1. Validate name, age, email and password in that order
// 2. Validate the optional job role and sex
// 3. Reject emails that already have an account
// 4. Hash the password; the raw password goes no further
// 5. Store the pending profile under a new challenge with a fresh HOTP secret
// 6. Email the code, deleting the challenge if delivery fails
func (s *registrationService) Begin(ctx context.Context, params domain.RegisterParams) (*domain.RegistrationChallenge, error) {
	const op = "RegistrationService.Begin"

	pending, err := validateRegistration(op, params)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetUserByEmail(ctx, pending.Email); err == nil {
		return nil, invalidFieldCode(domain.ECONFLICT, op, "email", msgEmailTaken)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Internal(err, op, "Failed to check email availability")
	}

	hash, err := hashPassword(params.Password)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to hash password")
	}
	pending.PasswordHash = hash

	payload, err := json.Marshal(pending)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to encode registration")
	}

	secret, err := newOTPSecret()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate OTP secret")
	}

	now := s.now()
	challenge := &domain.OTPChallenge{
		ID:          newChallengeID(now),
		Purpose:     domain.ChallengePurposeRegistration,
		Email:       pending.Email,
		Payload:     payload,
		Secret:      secret,
		MaxAttempts: s.cfg.MaxAttempts,
		ExpiresAt:   now.Add(s.cfg.OTPTTL),
		CreatedAt:   now,
	}
	if err := s.repo.CreateChallenge(ctx, challenge); err != nil {
		return nil, domain.Internal(err, op, "Failed to store registration")
	}

	code, err := s.deliver(ctx, op, challenge, pending.Name)
	if err != nil {
		if delErr := s.repo.DeleteChallenge(ctx, challenge.ID); delErr != nil {
			s.logger.Warn("failed to discard undeliverable challenge", "challenge_id", challenge.ID, "error", delErr)
		}
		return nil, err
	}

	metrics.RegistrationsStarted.Inc()
	s.logger.Info("registration started", "challenge_id", challenge.ID, "email", pending.Email)

	return s.describe(challenge, pending.Name, code), nil
}

// validateRegistration trims and checks the form, returning the pending
// profile without its password hash.
func validateRegistration(op string, params domain.RegisterParams) (*domain.PendingRegistration, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, invalidField(op, "name", msgNameRequired)
	}

	age, err := strconv.Atoi(strings.TrimSpace(params.Age))
	if err != nil || age <= 0 {
		return nil, invalidField(op, "age", msgAgeRequired)
	}

	email := normalizeEmail(params.Email)
	if !validateEmail(email) {
		return nil, invalidField(op, "email", msgEmailRequired)
	}

	if !validatePassword(params.Password) {
		if len(params.Password) > MaxPasswordLength {
			return nil, invalidField(op, "password", msgPasswordLong)
		}
		return nil, invalidField(op, "password", msgPasswordShort)
	}

	role, ok := domain.ParseJobRole(strings.TrimSpace(params.JobRole))
	if !ok {
		return nil, invalidField(op, "job_role", msgJobRoleInvalid)
	}

	sex := domain.Sex(strings.ToLower(strings.TrimSpace(params.Sex)))
	if sex == "" {
		sex = domain.SexOther
	}
	if !sex.Valid() {
		return nil, invalidField(op, "sex", msgSexInvalid)
	}

	return &domain.PendingRegistration{
		Name:         name,
		Email:        email,
		Age:          age,
		Organization: strings.TrimSpace(params.Organization),
		JobRole:      role,
		Sex:          sex,
		Location:     strings.TrimSpace(params.Location),
	}, nil
}

// =============================================================================
// Verify Implementation
// =============================================================================

// Verify completes a registration.
//
// Flow:
// 1. Load the challenge; unknown or expired is EGONE
// 2. Refuse exhausted challenges and delete them
// 3. On mismatch, persist the failed attempt and return EINVALID. The guess
//    that uses up the last attempt deletes the challenge and returns
//    ERATELIMIT instead.
// 4. On match, create the user and delete the challenge in one transaction
func (s *registrationService) Verify(ctx context.Context, challengeID, code string) (*domain.User, error) {
	const op = "RegistrationService.Verify"

	challenge, err := s.load(ctx, op, challengeID)
	if err != nil {
		return nil, err
	}

	if challenge.Exhausted() {
		s.discard(ctx, challenge.ID)
		metrics.OTPVerifications.WithLabelValues(otpResultExhausted).Inc()
		return nil, domain.RateLimit(op, msgOTPExhausted)
	}

	if !checkCode(challenge.Secret, code) {
		attempts, err := s.repo.IncrementChallengeAttempts(ctx, challenge.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.Gone(op, msgOTPExpired)
			}
			return nil, domain.Internal(err, op, "Failed to record attempt")
		}

		s.logger.Info("registration code mismatch",
			"challenge_id", challenge.ID,
			"attempts", attempts,
		)

		if attempts >= challenge.MaxAttempts {
			s.discard(ctx, challenge.ID)
			metrics.OTPVerifications.WithLabelValues(otpResultExhausted).Inc()
			return nil, domain.RateLimit(op, msgOTPExhausted)
		}

		metrics.OTPVerifications.WithLabelValues(otpResultMismatch).Inc()
		return nil, invalidField(op, "otp", msgOTPIncorrect)
	}

	var pending domain.PendingRegistration
	if err := json.Unmarshal(challenge.Payload, &pending); err != nil {
		s.discard(ctx, challenge.ID)
		return nil, domain.Internal(err, op, "Failed to decode registration")
	}

	now := s.now()
	user := &domain.User{
		Name:         pending.Name,
		Email:        pending.Email,
		PasswordHash: pending.PasswordHash,
		Age:          pending.Age,
		Organization: pending.Organization,
		JobRole:      pending.JobRole,
		Sex:          pending.Sex,
		Location:     pending.Location,
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
	}

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		return tx.DeleteChallenge(ctx, challenge.ID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Someone registered the same email while this code was in flight.
			s.discard(ctx, challenge.ID)
			return nil, domain.Conflict(op, msgEmailTaken)
		}
		return nil, domain.Internal(err, op, "Failed to create account")
	}

	metrics.OTPVerifications.WithLabelValues(otpResultSuccess).Inc()
	metrics.RegistrationsCompleted.Inc()
	s.logger.Info("user registered", "user_id", user.ID, "email", user.Email)

	user.PasswordHash = ""
	return user, nil
}

// =============================================================================
// Resend / Pending Implementations
// =============================================================================

// Resend rotates the secret, extends the deadline and sends a new code.
func (s *registrationService) Resend(ctx context.Context, challengeID string) (*domain.RegistrationChallenge, error) {
	const op = "RegistrationService.Resend"

	challenge, err := s.load(ctx, op, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge.Exhausted() {
		s.discard(ctx, challenge.ID)
		return nil, domain.RateLimit(op, msgOTPExhausted)
	}

	secret, err := newOTPSecret()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate OTP secret")
	}
	expiresAt := s.now().Add(s.cfg.OTPTTL)

	if err := s.repo.RotateChallenge(ctx, challenge.ID, secret, expiresAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Gone(op, msgOTPExpired)
		}
		return nil, domain.Internal(err, op, "Failed to rotate code")
	}
	challenge.Secret = secret
	challenge.ExpiresAt = expiresAt

	name := pendingName(challenge)
	code, err := s.deliver(ctx, op, challenge, name)
	if err != nil {
		// The old code is already invalid; the user can ask again.
		return nil, err
	}

	s.logger.Info("registration code resent", "challenge_id", challenge.ID)
	return s.describe(challenge, name, code), nil
}

// Pending describes a live challenge for the verify page.
func (s *registrationService) Pending(ctx context.Context, challengeID string) (*domain.RegistrationChallenge, error) {
	const op = "RegistrationService.Pending"

	challenge, err := s.load(ctx, op, challengeID)
	if err != nil {
		return nil, err
	}
	return s.describe(challenge, pendingName(challenge), ""), nil
}

// DeleteExpiredChallenges removes challenges past their deadline.
func (s *registrationService) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	const op = "RegistrationService.DeleteExpiredChallenges"

	n, err := s.repo.DeleteExpiredChallenges(ctx, s.now())
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to delete expired challenges")
	}
	if n > 0 {
		s.logger.Info("expired registration challenges deleted", "count", n)
	}
	return n, nil
}

// =============================================================================
// Helpers
// =============================================================================

// load fetches a live registration challenge. Expired challenges are
// deleted on sight.
func (s *registrationService) load(ctx context.Context, op, challengeID string) (*domain.OTPChallenge, error) {
	if !validChallengeID(challengeID) {
		return nil, domain.Gone(op, msgOTPExpired)
	}

	challenge, err := s.repo.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Gone(op, msgOTPExpired)
		}
		return nil, domain.Internal(err, op, "Failed to retrieve registration")
	}

	if challenge.Purpose != domain.ChallengePurposeRegistration {
		return nil, domain.Gone(op, msgOTPExpired)
	}

	if challenge.IsExpired(s.now()) {
		s.discard(ctx, challenge.ID)
		metrics.OTPVerifications.WithLabelValues(otpResultExpired).Inc()
		return nil, domain.Gone(op, msgOTPExpired)
	}

	return challenge, nil
}

// deliver derives the current code and sends it.
func (s *registrationService) deliver(ctx context.Context, op string, c *domain.OTPChallenge, name string) (string, error) {
	code, err := hotp.GenerateCodeCustom(c.Secret, 0, otpOpts)
	if err != nil {
		return "", domain.Internal(err, op, "Failed to generate OTP")
	}

	if err := s.sender.SendRegistrationCode(ctx, c.Email, name, code, c.ExpiresAt); err != nil {
		s.logger.Error("failed to send registration code",
			"challenge_id", c.ID,
			"email", c.Email,
			"error", err,
		)
		return "", domain.Unavailable(err, op, msgOTPSendFailed)
	}
	return code, nil
}

func (s *registrationService) describe(c *domain.OTPChallenge, name, code string) *domain.RegistrationChallenge {
	rc := &domain.RegistrationChallenge{
		ChallengeID: c.ID,
		Email:       c.Email,
		Name:        name,
		ExpiresAt:   c.ExpiresAt,
		Remaining:   c.Remaining(),
	}
	if s.cfg.DemoDisplay {
		rc.DemoCode = code
	}
	return rc
}

func (s *registrationService) discard(ctx context.Context, id string) {
	if err := s.repo.DeleteChallenge(ctx, id); err != nil {
		s.logger.Warn("failed to delete challenge", "challenge_id", id, "error", err)
	}
}

// checkCode reports whether code is the current code for secret. Surrounding
// whitespace is ignored; anything else that is not six digits fails.
func checkCode(secret, code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != domain.OTPDigits {
		return false
	}
	ok, err := hotp.ValidateCustom(code, 0, secret, otpOpts)
	return err == nil && ok
}

func newOTPSecret() (string, error) {
	b := make([]byte, otpSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b), nil
}

func pendingName(c *domain.OTPChallenge) string {
	var p domain.PendingRegistration
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return ""
	}
	return p.Name
}

// invalidFieldCode is invalidField with a code other than EINVALID.
func invalidFieldCode(code, op, field, message string) error {
	return domain.Wrap(domain.NewValidationError(op, field, message), code, op, message)
}
