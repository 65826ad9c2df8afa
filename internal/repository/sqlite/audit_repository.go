package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
)

const auditColumns = `id, event_type, user_id, username, success, timestamp, ip_address, user_agent, metadata`

// AuditLogRepository only ever inserts; there is no update or delete path.
type AuditLogRepository struct {
	db *sql.DB
}

var _ repository.AuditLogRepository = (*AuditLogRepository)(nil)

func NewAuditLogRepository(db *sql.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Create(ctx context.Context, l *models.AuditLog) error {
	var metadata []byte
	if len(l.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(l.Metadata); err != nil {
			return oops.Code("AUDIT_ENCODE_FAILED").With("event", l.EventType).Wrap(err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO audit_logs (`+auditColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		l.ID,
		string(l.EventType),
		nullString(l.UserID),
		nullString(l.Username),
		l.Success,
		utc(l.Timestamp),
		nullString(l.IPAddress),
		nullString(l.UserAgent),
		nullString(string(metadata)),
	)
	if isUniqueViolation(err) {
		return oops.Code("AUDIT_LOG_EXISTS").With("id", l.ID).Wrap(repository.ErrConflict)
	}
	if err != nil {
		return oops.Code("AUDIT_INSERT_FAILED").With("event", l.EventType).Wrap(err)
	}
	return nil
}

func (r *AuditLogRepository) FindByID(ctx context.Context, id string) (*models.AuditLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = ?`, id)
	l, err := scanAuditLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("AUDIT_LOG_NOT_FOUND").With("id", id).Wrap(repository.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").With("id", id).Wrap(err)
	}
	return l, nil
}

func (r *AuditLogRepository) FindByUser(ctx context.Context, userID string) ([]*models.AuditLog, error) {
	return r.query(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE user_id = ? ORDER BY timestamp ASC`, userID)
}

func (r *AuditLogRepository) FindByTimeRange(ctx context.Context, start, end time.Time) ([]*models.AuditLog, error) {
	return r.query(ctx, `
        SELECT `+auditColumns+` FROM audit_logs
        WHERE timestamp >= ? AND timestamp <= ?
        ORDER BY timestamp ASC
    `, utc(start), utc(end))
}

func (r *AuditLogRepository) query(ctx context.Context, query string, args ...any) ([]*models.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").Wrap(err)
	}
	defer rows.Close()

	var out []*models.AuditLog
	for rows.Next() {
		l, err := scanAuditLog(rows)
		if err != nil {
			return nil, oops.Code("AUDIT_QUERY_FAILED").Wrap(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").Wrap(err)
	}
	return out, nil
}

func scanAuditLog(row scanner) (*models.AuditLog, error) {
	var l models.AuditLog
	var eventType string
	var userID, username, ip, agent, rawMetadata sql.NullString
	if err := row.Scan(&l.ID, &eventType, &userID, &username, &l.Success, &l.Timestamp, &ip, &agent, &rawMetadata); err != nil {
		return nil, err
	}
	l.EventType = models.EventType(eventType)
	l.UserID = userID.String
	l.Username = username.String
	l.IPAddress = ip.String
	l.UserAgent = agent.String
	if rawMetadata.Valid && rawMetadata.String != "" {
		if err := json.Unmarshal([]byte(rawMetadata.String), &l.Metadata); err != nil {
			return nil, err
		}
	}
	return &l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
