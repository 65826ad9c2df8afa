// Package password implements password hashing, strength checks and the
// reset-by-token workflow.
package password

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/email"
	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/metrics"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/ratelimit"
	"github.com/amirk1998/secure-auth/internal/repository"
	"github.com/amirk1998/secure-auth/internal/session"
	apperrors "github.com/amirk1998/secure-auth/pkg/errors"
	"github.com/amirk1998/secure-auth/pkg/validator"
)

const (
	DefaultResetTTL = time.Hour

	// ResetOperation is the limiter operation for reset requests.
	ResetOperation = "password_reset"
)

// Hasher is satisfied by security.PasswordHasher.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsRehash(encodedHash string) bool
}

// ValidationResult lists every violated strength rule.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ResetResult is the business outcome of CompletePasswordReset.
type ResetResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithResetTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.resetTTL = ttl
		}
	}
}

func WithHistorySize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historySize = n
		}
	}
}

func WithValidator(v *validator.Validator) Option {
	return func(m *Manager) {
		if v != nil {
			m.validator = v
		}
	}
}

// WithLimiter caps reset requests per identifier. Requests over the cap are
// dropped silently.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

type Manager struct {
	users       repository.UserRepository
	resetTokens repository.ResetTokenRepository
	sessions    *session.Manager
	mailer      email.Dispatcher
	audit       *audit.Logger
	hasher      Hasher

	validator   *validator.Validator
	limiter     *ratelimit.Limiter
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
	resetTTL    time.Duration
	historySize int
}

func NewManager(
	users repository.UserRepository,
	resetTokens repository.ResetTokenRepository,
	sessions *session.Manager,
	mailer email.Dispatcher,
	auditLog *audit.Logger,
	hasher Hasher,
	log *zap.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		users:       users,
		resetTokens: resetTokens,
		sessions:    sessions,
		mailer:      mailer,
		audit:       auditLog,
		hasher:      hasher,
		validator:   validator.New(nil),
		log:         logger.OrNop(log).Named("password"),
		now:         func() time.Time { return time.Now().UTC() },
		resetTTL:    DefaultResetTTL,
		historySize: models.DefaultPasswordHistorySize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HashPassword returns a salted adaptive hash. Two calls on the same input
// never return the same string.
func (m *Manager) HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", apperrors.NewValidationError("password", validator.MsgPasswordRequired)
	}
	hash, err := m.hasher.Hash(plain)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	return hash, nil
}

// VerifyPassword is false for empty input or a malformed hash.
func (m *Manager) VerifyPassword(plain, hash string) bool {
	if plain == "" || hash == "" {
		return false
	}
	ok, err := m.hasher.Verify(plain, hash)
	if err != nil {
		m.log.Debug("password hash could not be decoded", logger.ErrorFields(err)...)
		return false
	}
	return ok
}

// NeedsRehash reports whether hash predates the current work factor.
func (m *Manager) NeedsRehash(hash string) bool {
	return m.hasher.NeedsRehash(hash)
}

// ValidatePasswordStrength collects every violated rule.
func (m *Manager) ValidatePasswordStrength(plain string) ValidationResult {
	violations := m.validator.PasswordPolicy().Check(plain)
	return ValidationResult{
		Valid:  len(violations) == 0,
		Errors: append([]string{}, violations...),
	}
}

// usedRecently reports whether plain matches the current hash or any
// retained history entry.
func (m *Manager) usedRecently(plain string, u *models.User) bool {
	if m.VerifyPassword(plain, u.PasswordHash) {
		return true
	}
	for _, old := range u.PasswordHistory {
		if m.VerifyPassword(plain, old) {
			return true
		}
	}
	return false
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
