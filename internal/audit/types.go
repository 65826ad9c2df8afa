package audit

import (
	"time"

	"github.com/amirk1998/secure-auth/internal/models"
)

// Event is the caller-facing input to LogAuthEvent. ID and Timestamp are
// assigned by the logger.
type Event struct {
	Type      models.EventType
	UserID    string
	Username  string
	Success   bool
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// QueryFilters narrows Query results. Zero values mean "any".
type QueryFilters struct {
	Start    time.Time
	End      time.Time
	UserID   string
	Username string
	Type     models.EventType
	Success  *bool
	Limit    int
}

const defaultQueryLimit = 100
