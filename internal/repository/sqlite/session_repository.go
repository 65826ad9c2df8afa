package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
)

type SessionRepository struct {
	db *sql.DB
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO sessions (token_hash, user_id, created_at, expires_at, last_activity_at)
        VALUES (?, ?, ?, ?, ?)
    `, s.TokenHash, s.UserID, utc(s.CreatedAt), utc(s.ExpiresAt), utc(s.LastActivityAt))
	if isUniqueViolation(err) {
		return oops.Code("SESSION_EXISTS").With("user_id", s.UserID).Wrap(repository.ErrConflict)
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", s.UserID).
			Wrap(err)
	}
	return nil
}

func (r *SessionRepository) FindByToken(ctx context.Context, tokenHash string) (*models.Session, error) {
	s := &models.Session{}
	err := r.db.QueryRowContext(ctx, `
        SELECT token_hash, user_id, created_at, expires_at, last_activity_at
        FROM sessions
        WHERE token_hash = ?
    `, tokenHash).Scan(&s.TokenHash, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(repository.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_QUERY_FAILED").Wrap(err)
	}
	return s, nil
}

func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
        UPDATE sessions SET last_activity_at = ?
        WHERE token_hash = ? AND last_activity_at < ?
    `, utc(at), tokenHash, utc(at))
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").Wrap(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE token_hash = ?`, tokenHash).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return oops.Code("SESSION_NOT_FOUND").Wrap(repository.ErrNotFound)
		}
		if err != nil {
			return oops.Code("SESSION_QUERY_FAILED").Wrap(err)
		}
	}
	return nil
}

func (r *SessionRepository) DeleteByToken(ctx context.Context, tokenHash string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(repository.ErrNotFound)
	}
	return nil
}

func (r *SessionRepository) DeleteAllByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return result.RowsAffected()
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, utc(now))
	if err != nil {
		return 0, oops.Code("SESSION_CLEANUP_FAILED").Wrap(err)
	}
	return result.RowsAffected()
}
