package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/ratelimit"
	"github.com/amirk1998/secure-auth/internal/service"
	"github.com/amirk1998/secure-auth/internal/session"
)

func TestMaintenance_RunOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	alice := e.addUser(t, "alice", "Correct1!")

	// Stale state: one limiter key, one session and one reset token, all
	// created at t0.
	_, err := e.svc.Login(ctx, "ghost", "Whatever1!")
	require.NoError(t, err)
	_, err = e.sessions.CreateSession(ctx, alice.ID)
	require.NoError(t, err)
	require.NoError(t, e.passwords.InitiatePasswordReset(ctx, "alice"))

	throttle := ratelimit.NewThrottle(1, 1)
	require.True(t, throttle.Allow("alice@example.com"))

	mon := audit.NewMonitor(e.auditLog, nil, e.metrics)
	m := service.NewMaintenance(e.limiter, e.sessions, e.tokens, nil,
		service.WithMaintenanceClock(e.clock.Now),
		service.WithMonitor(mon, time.Hour, 1),
		service.WithEmailThrottle(throttle, time.Millisecond),
		service.WithMaintenanceMetrics(e.metrics),
	)

	report, err := m.RunOnce(ctx)
	require.NoError(t, err)
	evicted := report.ThrottleBuckets
	assert.Zero(t, report.LimiterKeys)
	assert.Zero(t, report.Sessions)
	assert.Zero(t, report.ResetTokens)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, "ghost", report.Alerts[0].Username)

	time.Sleep(5 * time.Millisecond)
	e.clock.Advance(session.DefaultTTL + time.Second)

	report, err = m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LimiterKeys)
	assert.EqualValues(t, 1, report.Sessions)
	assert.EqualValues(t, 1, report.ResetTokens)
	assert.Equal(t, 1, evicted+report.ThrottleBuckets)
	assert.Empty(t, report.Alerts, "failures fell out of the alert window")

	assert.Zero(t, e.sessRepo.Len())
	assert.Zero(t, e.tokens.Len())
	assert.Zero(t, throttle.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.MaintenanceRemoved.WithLabelValues("sessions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.MaintenanceRemoved.WithLabelValues("reset_tokens")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.SecurityAlerts))
}

func TestMaintenance_KeepsLiveState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	alice := e.addUser(t, "alice", "Correct1!")

	_, err := e.sessions.CreateSession(ctx, alice.ID)
	require.NoError(t, err)
	require.NoError(t, e.passwords.InitiatePasswordReset(ctx, "alice"))
	e.clock.Advance(30 * time.Minute)

	report, err := service.NewMaintenance(e.limiter, e.sessions, e.tokens, nil,
		service.WithMaintenanceClock(e.clock.Now)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Sessions)
	assert.Zero(t, report.ResetTokens)
	assert.Equal(t, 1, e.sessRepo.Len())
	assert.Equal(t, 1, e.tokens.Len())

	events := e.events(models.EventPasswordResetRequest)
	require.Len(t, events, 1)
}

func TestMaintenance_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEnv(t, envConfig{})
	m := service.NewMaintenance(e.limiter, e.sessions, e.tokens, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance did not stop")
	}
}
