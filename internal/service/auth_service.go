// Package service ties the password, session, rate limit and audit
// components into the authentication core.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/metrics"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/password"
	"github.com/amirk1998/secure-auth/internal/ratelimit"
	"github.com/amirk1998/secure-auth/internal/repository"
	"github.com/amirk1998/secure-auth/internal/session"
	apperrors "github.com/amirk1998/secure-auth/pkg/errors"
	"github.com/amirk1998/secure-auth/pkg/validator"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute

	// LoginOperation is the limiter operation for login attempts.
	LoginOperation = "login"

	// MsgLoginFailed replaces any internal failure text in a LoginResult.
	MsgLoginFailed = "login failed, please try again later"

	msgTokenRequired = "session token is required"

	// dummyPassword is hashed once at startup so unknown usernames cost one
	// verification like known ones.
	dummyPassword = "timing-equalizer-not-a-password"
)

// Audit reasons for login events.
const (
	reasonSuccess         = "success"
	reasonValidation      = "validation_error"
	reasonRateLimited     = "rate_limit_exceeded"
	reasonUserNotFound    = "user_not_found"
	reasonAccountLocked   = "account_locked"
	reasonInvalidPassword = "invalid_password"
	reasonInternalError   = "internal_error"
)

type AuthConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	// AtomicRateLimit replaces check-then-record with one TryConsume per
	// attempt. Every attempt then counts, including successful ones.
	AtomicRateLimit bool
}

func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		LockoutDuration:   DefaultLockoutDuration,
	}
}

// LoginResult is the business outcome of Login. Error is always safe to show.
type LoginResult struct {
	Success       bool       `json:"success"`
	SessionToken  string     `json:"session_token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	AccountLocked bool       `json:"account_locked,omitempty"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
}

type Option func(*AuthService)

func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAuthConfig(cfg AuthConfig) Option {
	return func(s *AuthService) {
		if cfg.MaxFailedAttempts > 0 {
			s.cfg.MaxFailedAttempts = cfg.MaxFailedAttempts
		}
		if cfg.LockoutDuration > 0 {
			s.cfg.LockoutDuration = cfg.LockoutDuration
		}
		s.cfg.AtomicRateLimit = cfg.AtomicRateLimit
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

type AuthService struct {
	users     repository.UserRepository
	passwords *password.Manager
	sessions  *session.Manager
	limiter   *ratelimit.Limiter
	audit     *audit.Logger
	validator *validator.Validator
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
	cfg       AuthConfig
	dummyHash string
}

// NewAuthService creates a new authentication service
func NewAuthService(
	users repository.UserRepository,
	passwords *password.Manager,
	sessions *session.Manager,
	limiter *ratelimit.Limiter,
	auditLog *audit.Logger,
	log *zap.Logger,
	opts ...Option,
) (*AuthService, error) {
	s := &AuthService{
		users:     users,
		passwords: passwords,
		sessions:  sessions,
		limiter:   limiter,
		audit:     auditLog,
		validator: validator.New(nil),
		log:       logger.OrNop(log).Named("auth"),
		now:       func() time.Time { return time.Now().UTC() },
		cfg:       DefaultAuthConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}

	hash, err := passwords.HashPassword(dummyPassword)
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").Wrap(err)
	}
	s.dummyHash = hash
	return s, nil
}

// Register creates a new account after validating every field.
func (s *AuthService) Register(ctx context.Context, username, email, plain string) (*models.User, error) {
	username = s.validator.SanitizeString(username)
	email = s.validator.SanitizeString(email)

	if err := s.validator.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateEmail(email); err != nil {
		return nil, err
	}
	if res := s.passwords.ValidatePasswordStrength(plain); !res.Valid {
		return nil, apperrors.NewPasswordValidationError(res.Errors)
	}

	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return nil, apperrors.NewValidationError("username", "username is already taken")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewInternalError(err)
	}
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, apperrors.NewValidationError("email", "email is already registered")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewInternalError(err)
	}

	hash, err := s.passwords.HashPassword(plain)
	if err != nil {
		return nil, err
	}
	user := models.NewUser(username, email, hash, s.now())
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewValidationError("username", "username or email is already taken")
		}
		logger.LogError(s.log, "failed to create user", err, zap.String("username", username))
		return nil, apperrors.NewInternalError(err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

type loginAttempt struct {
	userID   string
	username string
	reason   string
	failures int
}

// Login authenticates a user and opens a session. Validation, rate limit
// and lockout failures are returned as errors or flagged in the result;
// bad credentials always produce the same generic message whether or not
// the user exists. Each call writes exactly one login audit event.
func (s *AuthService) Login(ctx context.Context, username, plain string) (*LoginResult, error) {
	a := &loginAttempt{username: username}
	res, err := s.login(ctx, a, username, plain)

	if err != nil && !apperrors.IsRecognized(err) {
		a.reason = reasonInternalError
		logger.LogError(s.log, "login failed", err, zap.String("username", username))
		res, err = &LoginResult{Error: MsgLoginFailed}, nil
	}

	success := err == nil && res != nil && res.Success
	meta := map[string]any{"reason": a.reason}
	if a.failures > 0 {
		meta["failed_attempts"] = a.failures
	}
	if res != nil && res.AccountLocked {
		meta["locked"] = true
	}
	s.metrics.RecordLogin(a.reason)
	s.logEvent(ctx, audit.Event{
		Type:     models.EventLogin,
		UserID:   a.userID,
		Username: a.username,
		Success:  success,
		Metadata: meta,
	})
	return res, err
}

func (s *AuthService) login(ctx context.Context, a *loginAttempt, username, plain string) (*LoginResult, error) {
	if username == "" {
		a.reason = reasonValidation
		return nil, apperrors.NewValidationError("username", "username is required")
	}
	if plain == "" {
		a.reason = reasonValidation
		return nil, apperrors.NewValidationError("password", validator.MsgPasswordRequired)
	}

	key := limiterKey(username)
	allowed, err := s.admit(ctx, key)
	if err != nil {
		return nil, err
	}
	if !allowed {
		a.reason = reasonRateLimited
		s.metrics.RecordRateLimited(LoginOperation)
		wait, err := s.limiter.RetryAfter(ctx, key, LoginOperation)
		if err != nil {
			logger.LogError(s.log, "retry-after lookup failed", err)
		}
		return nil, apperrors.NewRateLimitError(wait)
	}

	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		a.reason = reasonUserNotFound
		s.passwords.VerifyPassword(plain, s.dummyHash)
		if err := s.recordFailure(ctx, key); err != nil {
			return nil, err
		}
		return &LoginResult{Error: apperrors.MsgInvalidCredentials}, nil
	}
	if err != nil {
		return nil, err
	}
	a.userID = user.ID
	a.username = user.Username

	now := s.now()
	if user.IsLockedAt(now) {
		a.reason = reasonAccountLocked
		return &LoginResult{
			Error:         apperrors.MsgAccountLocked,
			AccountLocked: true,
			LockedUntil:   user.LockedUntil,
		}, nil
	}

	if !s.passwords.VerifyPassword(plain, user.PasswordHash) {
		a.reason = reasonInvalidPassword
		return s.rejectPassword(ctx, a, user.ID, key, now)
	}

	_, err = s.users.Update(ctx, user.ID, func(u *models.User) error {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.LastLoginAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.limiter.ResetLimit(ctx, key, LoginOperation); err != nil {
		return nil, err
	}

	sess, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.rehashIfNeeded(ctx, user, plain)

	a.reason = reasonSuccess
	s.log.Info("login succeeded", zap.String("user_id", user.ID))
	expiresAt := sess.ExpiresAt
	return &LoginResult{
		Success:      true,
		SessionToken: sess.Token,
		ExpiresAt:    &expiresAt,
	}, nil
}

// limiterKey folds case the way user lookup does, so every spelling of a
// username shares one limiter bucket.
func limiterKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// admit consults the limiter. In atomic mode the attempt is recorded here.
func (s *AuthService) admit(ctx context.Context, key string) (bool, error) {
	if s.cfg.AtomicRateLimit {
		return s.limiter.TryConsume(ctx, key, LoginOperation)
	}
	return s.limiter.CheckLimit(ctx, key, LoginOperation)
}

func (s *AuthService) recordFailure(ctx context.Context, key string) error {
	if s.cfg.AtomicRateLimit {
		return nil
	}
	return s.limiter.RecordAttempt(ctx, key, LoginOperation)
}

// rejectPassword bumps the failure counter and locks the account once it
// reaches the threshold.
func (s *AuthService) rejectPassword(ctx context.Context, a *loginAttempt, userID, key string, now time.Time) (*LoginResult, error) {
	updated, err := s.users.Update(ctx, userID, func(u *models.User) error {
		u.FailedLoginAttempts++
		if u.FailedLoginAttempts >= s.cfg.MaxFailedAttempts {
			until := now.Add(s.cfg.LockoutDuration)
			u.LockedUntil = &until
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.recordFailure(ctx, key); err != nil {
		return nil, err
	}
	a.failures = updated.FailedLoginAttempts

	res := &LoginResult{Error: apperrors.MsgInvalidCredentials}
	if updated.IsLockedAt(now) {
		res.AccountLocked = true
		res.LockedUntil = updated.LockedUntil
		s.log.Warn("account locked after repeated failures",
			zap.String("user_id", userID),
			zap.Int("failed_attempts", updated.FailedLoginAttempts),
			zap.Time("locked_until", *updated.LockedUntil),
		)
	}
	return res, nil
}

// rehashIfNeeded upgrades a hash made with an older work factor. Failures
// only cost the upgrade.
func (s *AuthService) rehashIfNeeded(ctx context.Context, user *models.User, plain string) {
	if !s.passwords.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.passwords.HashPassword(plain)
	if err != nil {
		logger.LogError(s.log, "password rehash failed", err, zap.String("user_id", user.ID))
		return
	}
	_, err = s.users.Update(ctx, user.ID, func(u *models.User) error {
		if u.PasswordHash == user.PasswordHash {
			u.PasswordHash = hash
		}
		return nil
	})
	if err != nil {
		logger.LogError(s.log, "password rehash failed", err, zap.String("user_id", user.ID))
		return
	}
	s.log.Info("password hash upgraded", zap.String("user_id", user.ID))
}

// Logout ends the session. An unknown token is a no-op.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.NewValidationError("token", msgTokenRequired)
	}

	sess, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		logger.LogError(s.log, "logout lookup failed", err)
		return apperrors.NewInternalError(err)
	}
	if sess == nil {
		return nil
	}

	existed, err := s.sessions.InvalidateSession(ctx, token)
	if err != nil {
		logger.LogError(s.log, "logout failed", err, zap.String("user_id", sess.UserID))
		return apperrors.NewInternalError(err)
	}
	if !existed {
		return nil
	}

	s.metrics.RecordSessionsInvalidated("logout", 1)
	s.logEvent(ctx, audit.Event{
		Type:    models.EventLogout,
		UserID:  sess.UserID,
		Success: true,
	})
	return nil
}

// ValidateSession returns the live session for token, or nil when the token
// is empty, unknown or expired. Expired sessions are removed on sight.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, nil
	}

	sess, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		logger.LogError(s.log, "session lookup failed", err)
		return nil, apperrors.NewInternalError(err)
	}
	if sess == nil {
		return nil, nil
	}

	if sess.IsExpiredAt(s.now()) {
		if _, err := s.sessions.InvalidateSession(ctx, token); err != nil {
			logger.LogError(s.log, "failed to remove expired session", err, zap.String("user_id", sess.UserID))
			return nil, apperrors.NewInternalError(err)
		}
		s.metrics.RecordSessionsInvalidated("expired", 1)
		s.logEvent(ctx, audit.Event{
			Type:     models.EventSessionExpired,
			UserID:   sess.UserID,
			Success:  true,
			Metadata: map[string]any{"expired_at": sess.ExpiresAt},
		})
		return nil, nil
	}

	if err := s.sessions.Touch(ctx, token); err != nil {
		logger.LogError(s.log, "session touch failed", err, zap.String("user_id", sess.UserID))
	}
	return sess, nil
}

func (s *AuthService) logEvent(ctx context.Context, ev audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogAuthEvent(ctx, ev); err != nil {
		logger.LogError(s.log, "failed to record audit event", err, zap.String("event_type", string(ev.Type)))
	}
}
