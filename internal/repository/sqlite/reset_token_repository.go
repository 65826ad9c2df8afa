package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/amirk1998/secure-auth/internal/database"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
)

const resetTokenColumns = `token_hash, user_id, created_at, expires_at, used, used_at`

type ResetTokenRepository struct {
	db *sql.DB
	tm *database.TransactionManager
}

var _ repository.ResetTokenRepository = (*ResetTokenRepository)(nil)

func NewResetTokenRepository(db *sql.DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db, tm: database.NewTransactionManager(db)}
}

func (r *ResetTokenRepository) Create(ctx context.Context, t *models.ResetToken) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO reset_tokens (token_hash, user_id, created_at, expires_at, used, used_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `, t.TokenHash, t.UserID, utc(t.CreatedAt), utc(t.ExpiresAt), t.Used, utcPtr(t.UsedAt))
	if isUniqueViolation(err) {
		return oops.Code("RESET_TOKEN_EXISTS").Wrap(repository.ErrConflict)
	}
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert reset_token").
			With("user_id", t.UserID).
			Wrap(err)
	}
	return nil
}

func (r *ResetTokenRepository) FindByToken(ctx context.Context, tokenHash string) (*models.ResetToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+resetTokenColumns+` FROM reset_tokens WHERE token_hash = ?`, tokenHash)
	t, err := scanResetToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(repository.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_QUERY_FAILED").Wrap(err)
	}
	return t, nil
}

func (r *ResetTokenRepository) FindAllByUser(ctx context.Context, userID string) ([]*models.ResetToken, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+resetTokenColumns+`
        FROM reset_tokens
        WHERE user_id = ?
        ORDER BY created_at ASC
    `, userID)
	if err != nil {
		return nil, oops.Code("RESET_QUERY_FAILED").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var out []*models.ResetToken
	for rows.Next() {
		t, err := scanResetToken(rows)
		if err != nil {
			return nil, oops.Code("RESET_QUERY_FAILED").With("user_id", userID).Wrap(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("RESET_QUERY_FAILED").With("user_id", userID).Wrap(err)
	}
	return out, nil
}

func (r *ResetTokenRepository) Update(ctx context.Context, tokenHash string, fn repository.ResetTokenMutator) (*models.ResetToken, error) {
	var updated *models.ResetToken
	err := r.tm.Execute(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+resetTokenColumns+` FROM reset_tokens WHERE token_hash = ?`, tokenHash)
		t, err := scanResetToken(row)
		if errors.Is(err, sql.ErrNoRows) {
			return oops.Code("RESET_NOT_FOUND").Wrap(repository.ErrNotFound)
		}
		if err != nil {
			return oops.Code("RESET_QUERY_FAILED").Wrap(err)
		}

		if err := fn(t); err != nil {
			return err
		}
		t.TokenHash = tokenHash

		_, err = tx.ExecContext(ctx, `
            UPDATE reset_tokens SET expires_at = ?, used = ?, used_at = ?
            WHERE token_hash = ?
        `, utc(t.ExpiresAt), t.Used, utcPtr(t.UsedAt), tokenHash)
		if err != nil {
			return oops.Code("RESET_UPDATE_FAILED").With("user_id", t.UserID).Wrap(err)
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *ResetTokenRepository) Delete(ctx context.Context, tokenHash string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reset_tokens WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").Wrap(err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return oops.Code("RESET_NOT_FOUND").Wrap(repository.ErrNotFound)
	}
	return nil
}

func (r *ResetTokenRepository) InvalidateAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
        UPDATE reset_tokens SET used = 1, used_at = ?
        WHERE user_id = ? AND used = 0
    `, utc(at), userID)
	if err != nil {
		return 0, oops.Code("RESET_INVALIDATE_FAILED").With("user_id", userID).Wrap(err)
	}
	return result.RowsAffected()
}

func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reset_tokens WHERE expires_at < ?`, utc(now))
	if err != nil {
		return 0, oops.Code("RESET_CLEANUP_FAILED").Wrap(err)
	}
	return result.RowsAffected()
}

func scanResetToken(row scanner) (*models.ResetToken, error) {
	t := &models.ResetToken{}
	if err := row.Scan(&t.TokenHash, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.Used, &t.UsedAt); err != nil {
		return nil, err
	}
	return t, nil
}
