// Package session issues and revokes server-side login sessions.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
	"github.com/amirk1998/secure-auth/internal/security"
)

const DefaultTTL = 24 * time.Hour

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// Manager owns session lifecycle. Tokens handed to callers are never
// stored; the repository is keyed by their digest.
type Manager struct {
	repo repository.SessionRepository
	ttl  time.Duration
	now  func() time.Time
	log  *zap.Logger
}

func NewManager(repo repository.SessionRepository, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo: repo,
		ttl:  DefaultTTL,
		now:  func() time.Time { return time.Now().UTC() },
		log:  logger.OrNop(log).Named("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// CreateSession mints a new session for userID. The returned value carries
// the plaintext token; it cannot be recovered later.
func (m *Manager) CreateSession(ctx context.Context, userID string) (*models.Session, error) {
	token, err := security.GenerateToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &models.Session{
		Token:          token,
		TokenHash:      security.HashToken(token),
		UserID:         userID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		LastActivityAt: now,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").With("user_id", userID).Wrap(err)
	}

	m.log.Debug("session created", zap.String("user_id", userID), zap.Time("expires_at", s.ExpiresAt))
	return s, nil
}

// GetSession returns the stored session for token regardless of expiry, or
// nil when there is none.
func (m *Manager) GetSession(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, nil
	}
	s, err := m.repo.FindByToken(ctx, security.HashToken(token))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
	}
	s.Token = token
	return s, nil
}

// Touch records activity on the session. A missing session is not an error.
func (m *Manager) Touch(ctx context.Context, token string) error {
	err := m.repo.Touch(ctx, security.HashToken(token), m.now())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return oops.Code("SESSION_TOUCH_FAILED").Wrap(err)
	}
	return nil
}

// InvalidateSession deletes the session and reports whether it existed.
func (m *Manager) InvalidateSession(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	err := m.repo.DeleteByToken(ctx, security.HashToken(token))
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}
	return true, nil
}

func (m *Manager) InvalidateAllUserSessions(ctx context.Context, userID string) (int64, error) {
	n, err := m.repo.DeleteAllByUser(ctx, userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	if n > 0 {
		m.log.Info("user sessions invalidated", zap.String("user_id", userID), zap.Int64("count", n))
	}
	return n, nil
}

// CleanupExpiredSessions removes every session past its expiry.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("SESSION_CLEANUP_FAILED").Wrap(err)
	}
	return n, nil
}
