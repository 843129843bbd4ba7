// Package service — authentication business logic.
//
// AuthService is the business logic layer for accounts. It sits between the
// HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt), mailer.Sender
//
// KEY RESPONSIBILITIES:
//   - Register and log in with email + password
//   - Run the password reset flow: issue a short-lived code, mail it, redeem it
//   - Be easily testable with fake dependencies
//
// RESET FLOW STATES:
//
//	no pending code ──RequestReset──▶ pending (otp + otpExpiresAt set)
//	pending ──CompleteReset(match, not expired)──▶ no pending code
//	pending ──expired (on redeem or by the cleanup worker)──▶ no pending code
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/auth"
	"github.com/sakif/todo-api/internal/mailer"
	"github.com/sakif/todo-api/internal/metrics"
	"github.com/sakif/todo-api/internal/model"
	"github.com/sakif/todo-api/internal/repository"
)

const (
	// MaxUsernameLength caps the trimmed username, counted in bytes.
	MaxUsernameLength = 50
	// DefaultOTPTTL is how long a reset code stays redeemable when OTP_TTL is unset.
	DefaultOTPTTL = 10 * time.Minute
)

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → issue session JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - mail       mailer.Sender              → deliver reset codes
//   - metrics    metrics.Recorder           → auth counters (nil → no-op)
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mail      mailer.Sender
	metrics   metrics.Recorder
	otpTTL    time.Duration
	logger    *slog.Logger

	// now is swapped in tests to step over the reset code expiry.
	now func() time.Time
}

// NewAuthService creates an AuthService with all required dependencies.
// A non-positive otpTTL falls back to DefaultOTPTTL.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mail mailer.Sender,
	rec metrics.Recorder,
	otpTTL time.Duration,
	logger *slog.Logger,
) *AuthService {
	if otpTTL <= 0 {
		otpTTL = DefaultOTPTTL
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		mail:      mail,
		metrics:   metrics.OrNop(rec),
		otpTTL:    otpTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// AuthResult is returned by Login.
// It bundles the user record and the issued JWT together so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register creates a new account.
//
// The email is normalised (trimmed, lower-cased) before it is stored, so
// "Alice@X.com " and "alice@x.com" are the same account. A duplicate email
// surfaces as apperror.ErrConflict from the repository.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	if len(username) > MaxUsernameLength {
		return nil, apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}

	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			s.logger.Error("failed to create user", slog.String("error", err.Error()))
		}
		return nil, err
	}

	s.metrics.RecordRegistration()
	s.logger.Info("user registered", slog.String("userID", user.ID))
	return user, nil
}

// Login checks the credentials and issues a session token.
//
// An unknown email is NotFound and a wrong password is Unauthorized; the HTTP
// surface keeps those distinct (404 vs 401).
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.metrics.RecordLogin(false)
		}
		return nil, err
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		s.metrics.RecordLogin(false)
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized("Invalid credentials")
		}
		return nil, fmt.Errorf("service/auth: verifying password for user %s: %w", user.ID, err)
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.metrics.RecordLogin(true)
	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// RequestReset issues a fresh reset code for the account and mails it.
// Any code already pending is replaced.
func (s *AuthService) RequestReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	code, err := auth.GenerateOTP()
	if err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}
	if err := s.users.SetOTP(ctx, user.ID, code, s.now().Add(s.otpTTL)); err != nil {
		return fmt.Errorf("service/auth: storing reset code for user %s: %w", user.ID, err)
	}

	if err := s.mail.SendOTP(ctx, user.Email, code); err != nil {
		s.logger.Error("failed to send reset code",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		// An undelivered code must not stay redeemable.
		if clearErr := s.users.ClearOTP(context.WithoutCancel(ctx), user.ID, code); clearErr != nil {
			s.logger.Error("failed to withdraw undelivered reset code",
				slog.String("userID", user.ID),
				slog.String("error", clearErr.Error()),
			)
		}
		return fmt.Errorf("service/auth: sending reset code: %w", err)
	}

	s.metrics.RecordOTPIssued()
	s.logger.Info("reset code issued", slog.String("userID", user.ID))
	return nil
}

// CompleteReset redeems a reset code and replaces the password.
//
// Returns apperror.ErrInvalidOTP when no code is pending, the code differs,
// or it has expired. An expired code is cleared on the way out so it can't
// be retried.
func (s *AuthService) CompleteReset(ctx context.Context, email, otp, newPassword string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	otp = strings.TrimSpace(otp)
	if otp == "" {
		return apperror.ValidationFailed("otp", "otp is required")
	}
	if err := validatePassword("newPassword", newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	if !user.HasPendingReset() {
		s.metrics.RecordPasswordReset(false)
		return apperror.InvalidOTP()
	}

	now := s.now()
	if !user.OTPExpiresAt.IsZero() && !now.Before(user.OTPExpiresAt) {
		if err := s.users.ClearOTP(ctx, user.ID, user.OTP); err != nil {
			s.logger.Error("failed to clear expired reset code",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		s.metrics.RecordPasswordReset(false)
		return apperror.InvalidOTP()
	}

	if !auth.MatchOTP(user.OTP, otp) {
		s.metrics.RecordPasswordReset(false)
		return apperror.InvalidOTP()
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}

	// The read above can be stale by now; ConsumeOTP re-checks the code and
	// expiry in the same write that stores the hash.
	if err := s.users.ConsumeOTP(ctx, user.ID, otp, now, hash); err != nil {
		if errors.Is(err, apperror.ErrInvalidOTP) {
			s.metrics.RecordPasswordReset(false)
			return err
		}
		return fmt.Errorf("service/auth: saving new password for user %s: %w", user.ID, err)
	}

	s.metrics.RecordPasswordReset(true)
	s.logger.Info("password reset", slog.String("userID", user.ID))
	return nil
}

// Me returns the user for the given internal ID (the session subject).
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("Unauthorized: Invalid token")
	}
	return s.users.GetByID(ctx, userID)
}

// normalizeEmail trims and lower-cases an address and checks that it parses.
// Display-name forms ("Alice <a@x.com>") are rejected: the stored value must
// be the bare address.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email is not a valid address")
	}
	return email, nil
}

func validatePassword(field, password string) error {
	if len(password) < auth.MinPasswordLength {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be at least %d characters", field, auth.MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be %d bytes or fewer", field, auth.MaxPasswordBytes))
	}
	return nil
}
