package service

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/metrics"
	"github.com/amirk1998/secure-auth/internal/ratelimit"
	"github.com/amirk1998/secure-auth/internal/repository"
	"github.com/amirk1998/secure-auth/internal/session"
)

// DefaultThrottleIdle is how long an email throttle bucket may sit unused
// before a maintenance pass drops it.
const DefaultThrottleIdle = time.Hour

// MaintenanceReport counts what one pass removed.
type MaintenanceReport struct {
	LimiterKeys     int
	Sessions        int64
	ResetTokens     int64
	ThrottleBuckets int
	Alerts          []audit.Alert
}

type MaintenanceOption func(*Maintenance)

func WithMaintenanceClock(now func() time.Time) MaintenanceOption {
	return func(m *Maintenance) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMonitor adds a failed-login scan to every pass.
func WithMonitor(mon *audit.Monitor, window time.Duration, threshold int) MaintenanceOption {
	return func(m *Maintenance) {
		m.monitor = mon
		m.alertWindow = window
		m.alertThreshold = threshold
	}
}

// WithLimiter sweeps another limiter in every pass.
func WithLimiter(l *ratelimit.Limiter) MaintenanceOption {
	return func(m *Maintenance) {
		if l != nil {
			m.limiters = append(m.limiters, l)
		}
	}
}

// WithEmailThrottle evicts idle buckets from the outbound email throttle.
func WithEmailThrottle(t *ratelimit.Throttle, idle time.Duration) MaintenanceOption {
	return func(m *Maintenance) {
		m.throttle = t
		if idle > 0 {
			m.throttleIdle = idle
		}
	}
}

func WithMaintenanceMetrics(mt *metrics.Metrics) MaintenanceOption {
	return func(m *Maintenance) { m.metrics = mt }
}

// Maintenance runs the explicit hygiene sweeps. Nothing expires on its own;
// a pass removes stale limiter keys, expired sessions and expired reset
// tokens.
type Maintenance struct {
	limiters    []*ratelimit.Limiter
	sessions    *session.Manager
	resetTokens repository.ResetTokenRepository

	monitor        *audit.Monitor
	alertWindow    time.Duration
	alertThreshold int
	throttle       *ratelimit.Throttle
	throttleIdle   time.Duration

	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewMaintenance(
	limiter *ratelimit.Limiter,
	sessions *session.Manager,
	resetTokens repository.ResetTokenRepository,
	log *zap.Logger,
	opts ...MaintenanceOption,
) *Maintenance {
	m := &Maintenance{
		sessions:     sessions,
		resetTokens:  resetTokens,
		throttleIdle: DefaultThrottleIdle,
		log:          logger.OrNop(log).Named("maintenance"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	if limiter != nil {
		m.limiters = append(m.limiters, limiter)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOnce performs every sweep. A failing step does not stop the others;
// their errors are joined.
func (m *Maintenance) RunOnce(ctx context.Context) (*MaintenanceReport, error) {
	report := &MaintenanceReport{}
	var errs []error

	for _, l := range m.limiters {
		n, err := l.Sweep(ctx)
		report.LimiterKeys += n
		m.metrics.RecordRemoved("limiter_keys", int64(n))
		if err != nil {
			errs = append(errs, err)
		}
	}

	if m.sessions != nil {
		n, err := m.sessions.CleanupExpiredSessions(ctx)
		report.Sessions = n
		m.metrics.RecordRemoved("sessions", n)
		m.metrics.RecordSessionsInvalidated("expired", n)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if m.resetTokens != nil {
		n, err := m.resetTokens.DeleteExpired(ctx, m.now())
		report.ResetTokens = n
		m.metrics.RecordRemoved("reset_tokens", n)
		if err != nil {
			errs = append(errs, oops.Code("RESET_TOKEN_CLEANUP_FAILED").Wrap(err))
		}
	}

	if m.throttle != nil {
		report.ThrottleBuckets = m.throttle.Cleanup(m.throttleIdle)
		m.metrics.RecordRemoved("throttle_buckets", int64(report.ThrottleBuckets))
	}

	if m.monitor != nil {
		alerts, err := m.monitor.DetectFailedLogins(ctx, m.alertWindow, m.alertThreshold)
		report.Alerts = alerts
		if err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	fields := []zap.Field{
		zap.Int("limiter_keys", report.LimiterKeys),
		zap.Int64("sessions", report.Sessions),
		zap.Int64("reset_tokens", report.ResetTokens),
		zap.Int("throttle_buckets", report.ThrottleBuckets),
		zap.Int("alerts", len(report.Alerts)),
	}
	if err != nil {
		logger.LogError(m.log, "maintenance pass incomplete", err, fields...)
	} else {
		m.log.Debug("maintenance pass complete", fields...)
	}
	return report, err
}

// Run calls RunOnce every interval until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("maintenance started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("maintenance stopped")
			return
		case <-ticker.C:
			_, _ = m.RunOnce(ctx)
		}
	}
}
