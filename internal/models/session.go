package models

import "time"

// Session is a server-side login session. Stores only ever see TokenHash;
// Token is populated on the value returned from creation.
type Session struct {
	Token          string    `json:"-"`
	TokenHash      string    `json:"-"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// IsExpiredAt reports whether the session is past its expiry. A session is
// still valid at exactly ExpiresAt.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
