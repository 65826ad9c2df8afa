package models

import "time"

// EventType is the closed set of audited authentication events.
type EventType string

const (
	EventLogin                 EventType = "login"
	EventLogout                EventType = "logout"
	EventPasswordResetRequest  EventType = "password_reset_request"
	EventPasswordResetComplete EventType = "password_reset_complete"
	EventSessionExpired        EventType = "session_expired"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventLogin, EventLogout, EventPasswordResetRequest, EventPasswordResetComplete, EventSessionExpired:
		return true
	default:
		return false
	}
}

// AuditLog is an append-only security event record. Metadata is sanitized
// before it reaches a store.
type AuditLog struct {
	ID        string         `json:"id"`
	EventType EventType      `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	Username  string         `json:"username,omitempty"`
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
