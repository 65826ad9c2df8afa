package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/amirk1998/secure-auth/internal/database"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
)

const userColumns = `id, username, email, password_hash, password_history, created_at, updated_at,
               last_login_at, failed_login_attempts, locked_until`

type UserRepository struct {
	db *sql.DB
	tm *database.TransactionManager
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, tm: database.NewTransactionManager(db)}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	history, err := json.Marshal(nonNil(user.PasswordHistory))
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").Wrap(err)
	}

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO users (id, username, email, password_hash, password_history, created_at, updated_at,
                           last_login_at, failed_login_attempts, locked_until)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		string(history),
		utc(user.CreatedAt),
		utc(user.UpdatedAt),
		utcPtr(user.LastLoginAt),
		user.FailedLoginAttempts,
		utcPtr(user.LockedUntil),
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_EXISTS").With("username", user.Username).Wrap(repository.ErrConflict)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").With("username", user.Username).Wrap(err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, "username", username)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email", email)
}

// column is always one of the constants above, never caller input.
func (r *UserRepository) findOne(ctx context.Context, column, value string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With(column, value).Wrap(repository.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With(column, value).Wrap(err)
	}
	return user, nil
}

// Update reads, mutates and writes the row inside one immediate transaction.
func (r *UserRepository) Update(ctx context.Context, id string, fn repository.UserMutator) (*models.User, error) {
	var updated *models.User
	err := r.tm.Execute(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
		user, err := scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(repository.ErrNotFound)
		}
		if err != nil {
			return oops.Code("USER_QUERY_FAILED").With("user_id", id).Wrap(err)
		}

		if err := fn(user); err != nil {
			return err
		}
		user.ID = id
		user.UpdatedAt = time.Now()

		history, err := json.Marshal(nonNil(user.PasswordHistory))
		if err != nil {
			return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
		}

		_, err = tx.ExecContext(ctx, `
            UPDATE users
            SET username = ?, email = ?, password_hash = ?, password_history = ?, updated_at = ?,
                last_login_at = ?, failed_login_attempts = ?, locked_until = ?
            WHERE id = ?
        `,
			user.Username,
			user.Email,
			user.PasswordHash,
			string(history),
			utc(user.UpdatedAt),
			utcPtr(user.LastLoginAt),
			user.FailedLoginAttempts,
			utcPtr(user.LockedUntil),
			id,
		)
		if isUniqueViolation(err) {
			return oops.Code("USER_EXISTS").With("user_id", id).Wrap(repository.ErrConflict)
		}
		if err != nil {
			return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").With("user_id", id).Wrap(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").With("user_id", id).Wrap(err)
	}
	if rows == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(repository.ErrNotFound)
	}
	return nil
}

func scanUser(row scanner) (*models.User, error) {
	user := &models.User{}
	var history string
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&history,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
		&user.FailedLoginAttempts,
		&user.LockedUntil,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &user.PasswordHistory); err != nil {
		return nil, err
	}
	return user, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
