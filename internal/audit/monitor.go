package audit

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/metrics"
	"github.com/amirk1998/secure-auth/internal/models"
)

const (
	DefaultAlertWindow    = 5 * time.Minute
	DefaultAlertThreshold = 5
)

// Alert reports an account with repeated failed logins.
type Alert struct {
	Username string
	UserID   string
	Failures int
	First    time.Time
	Last     time.Time
}

// Monitor scans the audit trail for suspicious activity.
type Monitor struct {
	audit   *Logger
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewMonitor(audit *Logger, log *zap.Logger, m *metrics.Metrics) *Monitor {
	return &Monitor{
		audit:   audit,
		log:     logger.OrNop(log).Named("monitor"),
		metrics: m,
	}
}

// DetectFailedLogins counts failed login events per account in the trailing
// window and returns one alert per account at or above threshold, worst first.
// Events for unknown usernames are grouped by the attempted name.
func (m *Monitor) DetectFailedLogins(ctx context.Context, window time.Duration, threshold int) ([]Alert, error) {
	if window <= 0 {
		window = DefaultAlertWindow
	}
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}

	now := m.audit.now().UTC()
	events, err := m.audit.FindByTimeRange(ctx, now.Add(-window), now)
	if err != nil {
		return nil, err
	}

	byAccount := make(map[string]*Alert)
	for _, ev := range events {
		if ev.EventType != models.EventLogin || ev.Success {
			continue
		}
		key := ev.Username
		if key == "" {
			key = ev.UserID
		}
		if key == "" {
			continue
		}
		a, ok := byAccount[key]
		if !ok {
			a = &Alert{Username: ev.Username, UserID: ev.UserID, First: ev.Timestamp}
			byAccount[key] = a
		}
		if a.UserID == "" {
			a.UserID = ev.UserID
		}
		a.Failures++
		if ev.Timestamp.Before(a.First) {
			a.First = ev.Timestamp
		}
		if ev.Timestamp.After(a.Last) {
			a.Last = ev.Timestamp
		}
	}

	var alerts []Alert
	for _, a := range byAccount {
		if a.Failures >= threshold {
			alerts = append(alerts, *a)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Failures != alerts[j].Failures {
			return alerts[i].Failures > alerts[j].Failures
		}
		return alerts[i].Username < alerts[j].Username
	})

	for _, a := range alerts {
		m.log.Warn("security alert: repeated failed logins",
			zap.String("username", a.Username),
			zap.String("user_id", a.UserID),
			zap.Int("failures", a.Failures),
			zap.Duration("window", window),
		)
	}
	m.metrics.RecordSecurityAlerts(len(alerts))

	return alerts, nil
}
