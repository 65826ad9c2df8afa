package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
)

// AuditLogRepository keeps events in insertion order.
type AuditLogRepository struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

var _ repository.AuditLogRepository = (*AuditLogRepository)(nil)

func NewAuditLogRepository() *AuditLogRepository {
	return &AuditLogRepository{}
}

func (r *AuditLogRepository) Create(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.logs {
		if l.ID == log.ID {
			return oops.Code("AUDIT_LOG_EXISTS").With("id", log.ID).Wrap(repository.ErrConflict)
		}
	}
	r.logs = append(r.logs, cloneAuditLog(log))
	return nil
}

func (r *AuditLogRepository) FindByID(_ context.Context, id string) (*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.logs {
		if l.ID == id {
			return cloneAuditLog(l), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *AuditLogRepository) FindByUser(_ context.Context, userID string) ([]*models.AuditLog, error) {
	return r.filter(func(l *models.AuditLog) bool { return l.UserID == userID }), nil
}

func (r *AuditLogRepository) FindByTimeRange(_ context.Context, start, end time.Time) ([]*models.AuditLog, error) {
	return r.filter(func(l *models.AuditLog) bool {
		return !l.Timestamp.Before(start) && !l.Timestamp.After(end)
	}), nil
}

// All returns every stored event in insertion order.
func (r *AuditLogRepository) All() []*models.AuditLog {
	return r.filter(func(*models.AuditLog) bool { return true })
}

func (r *AuditLogRepository) filter(match func(*models.AuditLog) bool) []*models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AuditLog
	for _, l := range r.logs {
		if match(l) {
			out = append(out, cloneAuditLog(l))
		}
	}
	return out
}

// Metadata is already sanitized when it arrives, so a shallow map copy is enough
// to keep callers from mutating stored records.
func cloneAuditLog(l *models.AuditLog) *models.AuditLog {
	c := *l
	if l.Metadata != nil {
		c.Metadata = make(map[string]any, len(l.Metadata))
		for k, v := range l.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
