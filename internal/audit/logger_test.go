package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/clock"
	"github.com/amirk1998/secure-auth/internal/metrics"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLogger(t *testing.T, cfg audit.Config, opts ...audit.Option) (*audit.Logger, *memory.AuditLogRepository) {
	t.Helper()
	repo := memory.NewAuditLogRepository()
	l, err := audit.NewLogger(repo, cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, repo
}

func TestLogger_LogAuthEvent(t *testing.T) {
	ctx := audit.WithUserAgent(audit.WithClientIP(context.Background(), "203.0.113.7"), "curl/8.0")
	l, repo := newTestLogger(t, audit.Config{}, audit.WithClock(clock.NewFake(t0).Now))

	err := l.LogAuthEvent(ctx, audit.Event{
		Type:     models.EventLogin,
		UserID:   "u1",
		Username: "alice",
		Metadata: map[string]any{"reason": "invalid_password", "password": "wrong"},
	})
	require.NoError(t, err)

	logs := repo.All()
	require.Len(t, logs, 1)
	rec := logs[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.EventLogin, rec.EventType)
	assert.Equal(t, "alice", rec.Username)
	assert.False(t, rec.Success)
	assert.Equal(t, t0, rec.Timestamp)
	assert.Equal(t, "203.0.113.7", rec.IPAddress)
	assert.Equal(t, "curl/8.0", rec.UserAgent)
	assert.Equal(t, "invalid_password", rec.Metadata["reason"])
	assert.Equal(t, audit.Redacted, rec.Metadata["password"])
}

func TestLogger_ExplicitClientInfoWins(t *testing.T) {
	ctx := audit.WithClientIP(context.Background(), "10.0.0.1")
	l, repo := newTestLogger(t, audit.Config{})

	require.NoError(t, l.LogAuthEvent(ctx, audit.Event{Type: models.EventLogout, IPAddress: "10.0.0.2", Success: true}))
	assert.Equal(t, "10.0.0.2", repo.All()[0].IPAddress)
}

func TestLogger_RejectsUnknownEventType(t *testing.T) {
	l, repo := newTestLogger(t, audit.Config{})
	err := l.LogAuthEvent(context.Background(), audit.Event{Type: "password_changed"})
	assert.Error(t, err)
	assert.Empty(t, repo.All())
}

func TestLogger_MirrorsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l, _ := newTestLogger(t, audit.Config{}, audit.WithWriter(&buf))

	require.NoError(t, l.LogAuthEvent(context.Background(), audit.Event{
		Type:     models.EventPasswordResetRequest,
		Username: "bob",
		Metadata: map[string]any{"token": "secret-value"},
	}))
	require.NoError(t, l.LogAuthEvent(context.Background(), audit.Event{Type: models.EventLogout, Success: true}))

	scanner := bufio.NewScanner(&buf)
	var lines []models.AuditLog
	for scanner.Scan() {
		var rec models.AuditLog
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, models.EventPasswordResetRequest, lines[0].EventType)
	assert.Equal(t, audit.Redacted, lines[0].Metadata["token"])
	assert.NotContains(t, buf.String(), "secret-value")
}

func TestLogger_FilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")
	l, err := audit.NewLogger(memory.NewAuditLogRepository(), audit.Config{FilePath: path}, nil)
	require.NoError(t, err)

	require.NoError(t, l.LogAuthEvent(context.Background(), audit.Event{Type: models.EventLogin, Success: true}))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"login"`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLogger_AsyncDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := memory.NewAuditLogRepository()
	l, err := audit.NewLogger(repo, audit.Config{Async: true, QueueSize: 4}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.LogAuthEvent(context.Background(), audit.Event{Type: models.EventLogin}))
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	assert.Len(t, repo.All(), 50)
	assert.ErrorIs(t, l.LogAuthEvent(context.Background(), audit.Event{Type: models.EventLogin}), audit.ErrClosed)
}

type failingRepo struct {
	*memory.AuditLogRepository
}

func (failingRepo) Create(context.Context, *models.AuditLog) error {
	return errors.New("disk full")
}

func TestLogger_StoreFailureStillMirrors(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.New(prometheus.NewRegistry())
	l, err := audit.NewLogger(failingRepo{memory.NewAuditLogRepository()}, audit.Config{}, nil,
		audit.WithWriter(&buf), audit.WithMetrics(m))
	require.NoError(t, err)
	defer l.Close()

	err = l.LogAuthEvent(context.Background(), audit.Event{Type: models.EventLogin})
	assert.Error(t, err)
	assert.Contains(t, buf.String(), `"event_type":"login"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWriteFailures))
}

func TestLogger_Query(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	l, _ := newTestLogger(t, audit.Config{}, audit.WithClock(clk.Now))

	events := []audit.Event{
		{Type: models.EventLogin, UserID: "u1", Username: "alice", Success: false},
		{Type: models.EventLogin, UserID: "u1", Username: "alice", Success: true},
		{Type: models.EventLogout, UserID: "u1", Username: "alice", Success: true},
		{Type: models.EventLogin, UserID: "u2", Username: "carol", Success: false},
	}
	for _, ev := range events {
		require.NoError(t, l.LogAuthEvent(ctx, ev))
		clk.Advance(time.Minute)
	}

	no := false
	failed, err := l.Query(ctx, audit.QueryFilters{Type: models.EventLogin, Success: &no})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "carol", failed[0].Username, "newest first")

	alice, err := l.Query(ctx, audit.QueryFilters{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, models.EventLogout, alice[0].EventType)

	window, err := l.Query(ctx, audit.QueryFilters{Start: t0.Add(time.Minute), End: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	byUser, err := l.FindByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}
