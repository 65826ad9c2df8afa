// Package memory holds mutex-guarded in-memory implementations of the
// repository contracts, used by tests and single-process deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
)

type UserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User
	now   func() time.Time
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]*models.User), now: time.Now}
}

func (r *UserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return oops.Code("USER_EXISTS").With("user_id", user.ID).Wrap(repository.ErrConflict)
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return oops.Code("USER_EXISTS").With("username", user.Username).Wrap(repository.ErrConflict)
		}
	}
	r.users[user.ID] = user.Clone()
	return nil
}

func (r *UserRepository) FindByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, repository.ErrNotFound
}

func (r *UserRepository) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return r.findBy(func(u *models.User) bool { return strings.EqualFold(u.Username, username) })
}

func (r *UserRepository) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return r.findBy(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *UserRepository) findBy(match func(*models.User) bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if match(u) {
			return u.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

// Update holds the store lock for the whole read-modify-write.
func (r *UserRepository) Update(_ context.Context, id string, fn repository.UserMutator) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.UpdatedAt = r.now()
	r.users[id] = next
	return next.Clone(), nil
}

func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}
