package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultPasswordHistorySize is how many previous hashes a user keeps.
const DefaultPasswordHistorySize = 5

type User struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"` // Never expose in JSON
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	// PasswordHistory holds previous hashes, newest first.
	PasswordHistory []string `json:"-"`
}

// NewUser builds a user with a fresh ULID. The hash must already be computed.
func NewUser(username, email, passwordHash string, now time.Time) *User {
	return &User{
		ID:           ulid.Make().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsLockedAt reports whether the lockout window is still open at now.
func (u *User) IsLockedAt(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// PushPasswordHistory prepends hash and evicts the oldest entries beyond max.
func (u *User) PushPasswordHistory(hash string, max int) {
	if hash == "" || max <= 0 {
		return
	}
	history := make([]string, 0, max)
	history = append(history, hash)
	for _, h := range u.PasswordHistory {
		if len(history) == max {
			break
		}
		history = append(history, h)
	}
	u.PasswordHistory = history
}

// Clone returns a deep copy safe to hand across store boundaries.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.LastLoginAt = cloneTime(u.LastLoginAt)
	c.LockedUntil = cloneTime(u.LockedUntil)
	c.PasswordHistory = append([]string(nil), u.PasswordHistory...)
	return &c
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
