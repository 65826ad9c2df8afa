// Package metrics exposes Prometheus counters for authentication events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "secure_auth"

// Metrics groups the auth counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	LoginAttempts       *prometheus.CounterVec
	PasswordResets      *prometheus.CounterVec
	SessionsInvalidated *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	AuditWriteFailures  prometheus.Counter
	MaintenanceRemoved  *prometheus.CounterVec
	SecurityAlerts      prometheus.Counter
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		PasswordResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "password_resets_total",
				Help:      "Password reset requests and completions by outcome",
			},
			[]string{"stage", "outcome"},
		),
		SessionsInvalidated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_invalidated_total",
				Help:      "Sessions removed by reason",
			},
			[]string{"reason"},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Requests rejected by the rate limiter by operation",
			},
			[]string{"operation"},
		),
		AuditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_failures_total",
				Help:      "Audit events that could not be persisted",
			},
		),
		MaintenanceRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_removed_total",
				Help:      "Records removed by maintenance sweeps by kind",
			},
			[]string{"kind"},
		),
		SecurityAlerts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "security_alerts_total",
				Help:      "Failed-login alerts raised by the audit monitor",
			},
		),
	}

	reg.MustRegister(
		m.LoginAttempts,
		m.PasswordResets,
		m.SessionsInvalidated,
		m.RateLimitRejections,
		m.AuditWriteFailures,
		m.MaintenanceRemoved,
		m.SecurityAlerts,
	)
	return m
}

func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPasswordReset(stage, outcome string) {
	if m == nil {
		return
	}
	m.PasswordResets.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) RecordSessionsInvalidated(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsInvalidated.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) RecordRateLimited(operation string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

func (m *Metrics) RecordRemoved(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.MaintenanceRemoved.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) RecordSecurityAlerts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SecurityAlerts.Add(float64(n))
}
