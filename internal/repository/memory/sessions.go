package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
)

type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*models.Session)}
}

func (r *SessionRepository) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.TokenHash]; ok {
		return oops.Code("SESSION_EXISTS").Wrap(repository.ErrConflict)
	}
	stored := session.Clone()
	stored.Token = ""
	r.sessions[session.TokenHash] = stored
	return nil
}

func (r *SessionRepository) FindByToken(_ context.Context, tokenHash string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[tokenHash]; ok {
		return s.Clone(), nil
	}
	return nil, repository.ErrNotFound
}

func (r *SessionRepository) Touch(_ context.Context, tokenHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[tokenHash]
	if !ok {
		return repository.ErrNotFound
	}
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	return nil
}

func (r *SessionRepository) DeleteByToken(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[tokenHash]; !ok {
		return repository.ErrNotFound
	}
	delete(r.sessions, tokenHash)
	return nil
}

func (r *SessionRepository) DeleteAllByUser(_ context.Context, userID string) (int64, error) {
	return r.deleteWhere(func(s *models.Session) bool { return s.UserID == userID }), nil
}

func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(func(s *models.Session) bool { return s.IsExpiredAt(now) }), nil
}

func (r *SessionRepository) deleteWhere(match func(*models.Session) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, s := range r.sessions {
		if match(s) {
			delete(r.sessions, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions.
func (r *SessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
