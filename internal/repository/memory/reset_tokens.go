package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
)

type ResetTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.ResetToken
}

var _ repository.ResetTokenRepository = (*ResetTokenRepository)(nil)

func NewResetTokenRepository() *ResetTokenRepository {
	return &ResetTokenRepository{tokens: make(map[string]*models.ResetToken)}
}

func (r *ResetTokenRepository) Create(_ context.Context, token *models.ResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token.TokenHash]; ok {
		return oops.Code("RESET_TOKEN_EXISTS").Wrap(repository.ErrConflict)
	}
	r.tokens[token.TokenHash] = token.Clone()
	return nil
}

func (r *ResetTokenRepository) FindByToken(_ context.Context, tokenHash string) (*models.ResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tokens[tokenHash]; ok {
		return t.Clone(), nil
	}
	return nil, repository.ErrNotFound
}

// FindAllByUser returns the user's tokens, oldest first.
func (r *ResetTokenRepository) FindAllByUser(_ context.Context, userID string) ([]*models.ResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.ResetToken
	for _, t := range r.tokens {
		if t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *ResetTokenRepository) Update(_ context.Context, tokenHash string, fn repository.ResetTokenMutator) (*models.ResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tokens[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.TokenHash = current.TokenHash
	r.tokens[tokenHash] = next
	return next.Clone(), nil
}

func (r *ResetTokenRepository) Delete(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[tokenHash]; !ok {
		return repository.ErrNotFound
	}
	delete(r.tokens, tokenHash)
	return nil
}

func (r *ResetTokenRepository) InvalidateAllByUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.tokens {
		if t.UserID == userID && !t.Used {
			t.MarkUsed(at)
			n++
		}
	}
	return n, nil
}

func (r *ResetTokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, t := range r.tokens {
		if t.IsExpiredAt(now) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (r *ResetTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
