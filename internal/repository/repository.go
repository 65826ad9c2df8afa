package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirk1998/secure-auth/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique field is already taken.
	ErrConflict = errors.New("conflict")
)

// UserMutator edits a user inside an atomic update. Returning an error
// aborts the update and leaves the stored user untouched.
type UserMutator func(u *models.User) error

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// Update applies fn to the latest stored user as one atomic
	// read-modify-write and returns the result.
	Update(ctx context.Context, id string, fn UserMutator) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

// SessionRepository stores sessions keyed by token digest.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByToken(ctx context.Context, tokenHash string) (*models.Session, error)
	Touch(ctx context.Context, tokenHash string, at time.Time) error
	DeleteByToken(ctx context.Context, tokenHash string) error
	DeleteAllByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResetTokenMutator edits a reset token inside an atomic update.
type ResetTokenMutator func(t *models.ResetToken) error

// ResetTokenRepository stores reset tokens keyed by token digest.
type ResetTokenRepository interface {
	Create(ctx context.Context, token *models.ResetToken) error
	FindByToken(ctx context.Context, tokenHash string) (*models.ResetToken, error)
	FindAllByUser(ctx context.Context, userID string) ([]*models.ResetToken, error)
	Update(ctx context.Context, tokenHash string, fn ResetTokenMutator) (*models.ResetToken, error)
	Delete(ctx context.Context, tokenHash string) error
	// InvalidateAllByUser marks every unused token of the user as used.
	InvalidateAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuditLogRepository is append-only.
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	FindByID(ctx context.Context, id string) (*models.AuditLog, error)
	FindByUser(ctx context.Context, userID string) ([]*models.AuditLog, error)
	// FindByTimeRange returns events with start <= timestamp <= end, oldest first.
	FindByTimeRange(ctx context.Context, start, end time.Time) ([]*models.AuditLog, error)
}
