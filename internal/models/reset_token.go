package models

import "time"

// ResetToken is a single-use password reset credential.
type ResetToken struct {
	TokenHash string     `json:"-"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

func (t *ResetToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsUsableAt reports whether the token can still complete a reset.
func (t *ResetToken) IsUsableAt(now time.Time) bool {
	return !t.Used && !t.IsExpiredAt(now)
}

// MarkUsed flips the token to used. It is a no-op on an already used token.
func (t *ResetToken) MarkUsed(now time.Time) {
	if t.Used {
		return
	}
	t.Used = true
	t.UsedAt = &now
}

func (t *ResetToken) Clone() *ResetToken {
	if t == nil {
		return nil
	}
	c := *t
	c.UsedAt = cloneTime(t.UsedAt)
	return &c
}
