package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/clock"
	"github.com/amirk1998/secure-auth/internal/email"
	"github.com/amirk1998/secure-auth/internal/metrics"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/password"
	"github.com/amirk1998/secure-auth/internal/ratelimit"
	"github.com/amirk1998/secure-auth/internal/repository"
	"github.com/amirk1998/secure-auth/internal/repository/memory"
	"github.com/amirk1998/secure-auth/internal/security"
	"github.com/amirk1998/secure-auth/internal/service"
	"github.com/amirk1998/secure-auth/internal/session"
	apperrors "github.com/amirk1998/secure-auth/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	svc       *service.AuthService
	users     repository.UserRepository
	userRepo  *memory.UserRepository
	sessRepo  *memory.SessionRepository
	tokens    *memory.ResetTokenRepository
	audits    *memory.AuditLogRepository
	auditLog  *audit.Logger
	sessions  *session.Manager
	passwords *password.Manager
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	clock     *clock.Fake
}

type envConfig struct {
	limiter ratelimit.Config
	auth    service.AuthConfig
	users   repository.UserRepository
}

func newEnv(t *testing.T, cfg envConfig) *env {
	t.Helper()
	e := &env{
		userRepo: memory.NewUserRepository(),
		sessRepo: memory.NewSessionRepository(),
		tokens:   memory.NewResetTokenRepository(),
		audits:   memory.NewAuditLogRepository(),
		metrics:  metrics.New(prometheus.NewRegistry()),
		clock:    clock.NewFake(t0),
	}
	e.users = e.userRepo
	if cfg.users != nil {
		e.users = cfg.users
	}

	auditLog, err := audit.NewLogger(e.audits, audit.Config{}, nil, audit.WithClock(e.clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })
	e.auditLog = auditLog

	e.sessions = session.NewManager(e.sessRepo, nil, session.WithClock(e.clock.Now))
	hasher := security.NewPasswordHasher(security.HasherConfig{Time: 1, Memory: 1024, Threads: 1})
	e.passwords = password.NewManager(e.users, e.tokens, e.sessions,
		email.NewLogDispatcher(email.Config{BaseURL: "https://example.com"}, nil),
		auditLog, hasher, nil, password.WithClock(e.clock.Now))
	e.limiter = ratelimit.New(ratelimit.NewMemoryStore(), cfg.limiter, ratelimit.WithClock(e.clock.Now))

	e.svc, err = service.NewAuthService(e.users, e.passwords, e.sessions, e.limiter, auditLog, nil,
		service.WithClock(e.clock.Now),
		service.WithAuthConfig(cfg.auth),
		service.WithMetrics(e.metrics),
	)
	require.NoError(t, err)
	return e
}

func (e *env) addUser(t *testing.T, username, plain string) *models.User {
	t.Helper()
	hash, err := e.passwords.HashPassword(plain)
	require.NoError(t, err)
	u := models.NewUser(username, username+"@example.com", hash, t0)
	require.NoError(t, e.userRepo.Create(context.Background(), u))
	return u
}

func (e *env) user(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := e.userRepo.FindByUsername(context.Background(), username)
	require.NoError(t, err)
	return u
}

func (e *env) events(typ models.EventType) []*models.AuditLog {
	var out []*models.AuditLog
	for _, l := range e.audits.All() {
		if l.EventType == typ {
			out = append(out, l)
		}
	}
	return out
}

func (e *env) logins(outcome string) float64 {
	return testutil.ToFloat64(e.metrics.LoginAttempts.WithLabelValues(outcome))
}

func TestLogin_Success(t *testing.T) {
	ctx := audit.WithClientIP(context.Background(), "198.51.100.4")
	e := newEnv(t, envConfig{})
	u := e.addUser(t, "alice", "Correct1!")

	res, err := e.svc.Login(ctx, "alice", "Correct1!")
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.SessionToken, 2*security.TokenBytes)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, t0.Add(session.DefaultTTL), *res.ExpiresAt)
	assert.Empty(t, res.Error)

	stored := e.user(t, "alice")
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, t0, *stored.LastLoginAt)

	sess, err := e.svc.ValidateSession(ctx, res.SessionToken)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, u.ID, sess.UserID)

	events := e.events(models.EventLogin)
	require.Len(t, events, 1)
	assert.True(t, events[0].Success)
	assert.Equal(t, u.ID, events[0].UserID)
	assert.Equal(t, "198.51.100.4", events[0].IPAddress)
	assert.Equal(t, "success", events[0].Metadata["reason"])
	assert.Equal(t, 1.0, e.logins("success"))
}

func TestLogin_Validation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})

	tests := []struct {
		name     string
		username string
		password string
		field    string
	}{
		{"missing username", "", "Correct1!", "username"},
		{"missing password", "alice", "", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.svc.Login(ctx, tt.username, tt.password)
			assert.Nil(t, res)
			var authErr *apperrors.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, apperrors.KindValidation, authErr.Kind)
			assert.Equal(t, tt.field, authErr.Field)
		})
	}

	events := e.events(models.EventLogin)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.False(t, ev.Success)
		assert.Equal(t, "validation_error", ev.Metadata["reason"])
	}
}

// Five wrong passwords lock the account; the correct password is refused
// until the lockout elapses.
func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{limiter: ratelimit.Config{MaxAttempts: 10}})
	e.addUser(t, "alice", "Correct1!")

	for i := 1; i <= 4; i++ {
		res, err := e.svc.Login(ctx, "alice", "wrong-password")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, apperrors.MsgInvalidCredentials, res.Error)
		assert.False(t, res.AccountLocked, "attempt %d", i)
		assert.Equal(t, i, e.user(t, "alice").FailedLoginAttempts)
	}

	res, err := e.svc.Login(ctx, "alice", "wrong-password")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.MsgInvalidCredentials, res.Error)
	assert.True(t, res.AccountLocked)
	require.NotNil(t, res.LockedUntil)
	lockedUntil := t0.Add(service.DefaultLockoutDuration)
	assert.Equal(t, lockedUntil, *res.LockedUntil)

	res, err = e.svc.Login(ctx, "alice", "Correct1!")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.AccountLocked)
	assert.Equal(t, apperrors.MsgAccountLocked, res.Error)
	assert.Empty(t, res.SessionToken)
	assert.Zero(t, e.sessRepo.Len())

	e.clock.Advance(service.DefaultLockoutDuration + time.Second)
	res, err = e.svc.Login(ctx, "alice", "Correct1!")
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)

	stored := e.user(t, "alice")
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)

	reasons := []string{}
	for _, ev := range e.events(models.EventLogin) {
		reasons = append(reasons, ev.Metadata["reason"].(string))
	}
	assert.Equal(t, []string{
		"invalid_password", "invalid_password", "invalid_password", "invalid_password", "invalid_password",
		"account_locked", "success",
	}, reasons)
	assert.Equal(t, 5.0, e.logins("invalid_password"))
	assert.Equal(t, 1.0, e.logins("account_locked"))
}

func TestLogin_UnknownUserLooksLikeWrongPassword(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	e.addUser(t, "alice", "Correct1!")

	unknown, err := e.svc.Login(ctx, "mallory", "Correct1!")
	require.NoError(t, err)
	wrong, err := e.svc.Login(ctx, "alice", "Wrong1!!")
	require.NoError(t, err)

	assert.Equal(t, unknown.Error, wrong.Error)
	assert.Equal(t, unknown.Success, wrong.Success)
	assert.Equal(t, unknown.AccountLocked, wrong.AccountLocked)

	events := e.events(models.EventLogin)
	require.Len(t, events, 2)
	assert.Equal(t, "user_not_found", events[0].Metadata["reason"])
	assert.Equal(t, "mallory", events[0].Username)
	assert.Empty(t, events[0].UserID)
}

func TestLogin_RateLimited(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})

	for i := 0; i < ratelimit.DefaultMaxAttempts; i++ {
		res, err := e.svc.Login(ctx, "bob", "Whatever1!")
		require.NoError(t, err)
		assert.False(t, res.Success)
	}

	res, err := e.svc.Login(ctx, "bob", "Whatever1!")
	assert.Nil(t, res)
	require.ErrorIs(t, err, apperrors.ErrRateLimit)
	var authErr *apperrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ratelimit.DefaultLockoutDuration, authErr.RetryAfter)

	events := e.events(models.EventLogin)
	require.Len(t, events, ratelimit.DefaultMaxAttempts+1)
	assert.Equal(t, "rate_limit_exceeded", events[len(events)-1].Metadata["reason"])
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RateLimitRejections.WithLabelValues(service.LoginOperation)))

	e.clock.Advance(ratelimit.DefaultLockoutDuration + time.Second)
	res, err = e.svc.Login(ctx, "bob", "Whatever1!")
	require.NoError(t, err)
	assert.Equal(t, apperrors.MsgInvalidCredentials, res.Error)
}

func TestLogin_SuccessResetsCounters(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	e.addUser(t, "alice", "Correct1!")

	fail := func() *service.LoginResult {
		t.Helper()
		res, err := e.svc.Login(ctx, "alice", "nope")
		require.NoError(t, err)
		return res
	}

	for i := 0; i < 4; i++ {
		fail()
	}
	res, err := e.svc.Login(ctx, "alice", "Correct1!")
	require.NoError(t, err)
	require.True(t, res.Success)

	for i := 0; i < 4; i++ {
		assert.False(t, fail().AccountLocked)
	}
	assert.True(t, fail().AccountLocked, "fifth failure after the reset locks again")
}

func TestLogin_AtomicRateLimit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{
		limiter: ratelimit.Config{MaxAttempts: 3},
		auth:    service.AuthConfig{AtomicRateLimit: true},
	})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		limited  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.svc.Login(ctx, "ghost", "Whatever1!")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res != nil:
				admitted++
			case errors.Is(err, apperrors.ErrRateLimit):
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, admitted)
	assert.Equal(t, 7, limited)
	assert.Len(t, e.events(models.EventLogin), 10)
}

type failingUsers struct {
	*memory.UserRepository
}

func (failingUsers) FindByUsername(context.Context, string) (*models.User, error) {
	return nil, errors.New("connection reset by peer")
}

func TestLogin_InternalErrorIsHidden(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{users: failingUsers{memory.NewUserRepository()}})

	res, err := e.svc.Login(ctx, "alice", "Correct1!")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, service.MsgLoginFailed, res.Error)
	assert.NotContains(t, res.Error, "connection reset")

	events := e.events(models.EventLogin)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Equal(t, "internal_error", events[0].Metadata["reason"])
}

func TestLogin_UpgradesOutdatedHash(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})

	old := security.NewPasswordHasher(security.HasherConfig{Time: 2, Memory: 2048, Threads: 1})
	hash, err := old.Hash("Correct1!")
	require.NoError(t, err)
	require.NoError(t, e.userRepo.Create(ctx, models.NewUser("alice", "alice@example.com", hash, t0)))
	require.True(t, e.passwords.NeedsRehash(hash))

	res, err := e.svc.Login(ctx, "alice", "Correct1!")
	require.NoError(t, err)
	require.True(t, res.Success)

	upgraded := e.user(t, "alice").PasswordHash
	assert.NotEqual(t, hash, upgraded)
	assert.False(t, e.passwords.NeedsRehash(upgraded))
	assert.True(t, e.passwords.VerifyPassword("Correct1!", upgraded))
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	u := e.addUser(t, "alice", "Correct1!")

	err := e.svc.Logout(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	res, err := e.svc.Login(ctx, "alice", "Correct1!")
	require.NoError(t, err)

	require.NoError(t, e.svc.Logout(ctx, res.SessionToken))
	sess, err := e.svc.ValidateSession(ctx, res.SessionToken)
	require.NoError(t, err)
	assert.Nil(t, sess)

	require.NoError(t, e.svc.Logout(ctx, res.SessionToken), "second logout is a no-op")
	require.NoError(t, e.svc.Logout(ctx, "never-issued"))

	events := e.events(models.EventLogout)
	require.Len(t, events, 1)
	assert.Equal(t, u.ID, events[0].UserID)
	assert.True(t, events[0].Success)
}

func TestValidateSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	u := e.addUser(t, "alice", "Correct1!")

	sess, err := e.svc.ValidateSession(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, sess)

	sess, err = e.svc.ValidateSession(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, sess)

	res, err := e.svc.Login(ctx, "alice", "Correct1!")
	require.NoError(t, err)

	t.Run("touches last activity", func(t *testing.T) {
		e.clock.Advance(time.Hour)
		sess, err := e.svc.ValidateSession(ctx, res.SessionToken)
		require.NoError(t, err)
		require.NotNil(t, sess)

		stored, err := e.sessRepo.FindByToken(ctx, security.HashToken(res.SessionToken))
		require.NoError(t, err)
		assert.Equal(t, t0.Add(time.Hour), stored.LastActivityAt)
	})

	t.Run("valid at exactly the expiry", func(t *testing.T) {
		e.clock.Set(t0.Add(session.DefaultTTL))
		sess, err := e.svc.ValidateSession(ctx, res.SessionToken)
		require.NoError(t, err)
		assert.NotNil(t, sess)
	})

	t.Run("expired sessions are removed", func(t *testing.T) {
		e.clock.Set(t0.Add(session.DefaultTTL + time.Second))
		sess, err := e.svc.ValidateSession(ctx, res.SessionToken)
		require.NoError(t, err)
		assert.Nil(t, sess)
		assert.Zero(t, e.sessRepo.Len())

		events := e.events(models.EventSessionExpired)
		require.Len(t, events, 1)
		assert.Equal(t, u.ID, events[0].UserID)

		sess, err = e.svc.ValidateSession(ctx, res.SessionToken)
		require.NoError(t, err)
		assert.Nil(t, sess)
		assert.Len(t, e.events(models.EventSessionExpired), 1)
	})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})

	u, err := e.svc.Register(ctx, "  alice ", "alice@example.com", "Correct1!")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.NotEmpty(t, u.ID)
	assert.True(t, e.passwords.VerifyPassword("Correct1!", u.PasswordHash))

	tests := []struct {
		name     string
		username string
		email    string
		password string
		kind     apperrors.Kind
		field    string
	}{
		{"bad username", "a", "a@example.com", "Correct1!", apperrors.KindValidation, "username"},
		{"bad email", "carol", "carol@", "Correct1!", apperrors.KindValidation, "email"},
		{"weak password", "carol", "carol@example.com", "short", apperrors.KindPasswordValidation, ""},
		{"duplicate username", "ALICE", "other@example.com", "Correct1!", apperrors.KindValidation, "username"},
		{"duplicate email", "carol", "alice@example.com", "Correct1!", apperrors.KindValidation, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Register(ctx, tt.username, tt.email, tt.password)
			var authErr *apperrors.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.kind, authErr.Kind)
			assert.Equal(t, tt.field, authErr.Field)
		})
	}

	_, err = e.svc.Register(ctx, "carol", "carol@example.com", "short")
	var authErr *apperrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.GreaterOrEqual(t, len(authErr.Violations), 2)
}

// End to end: failed logins, a reset, and the audit trail never holding a
// secret.
func TestAuditTrailHoldsNoSecrets(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	e.addUser(t, "alice", "Correct1!")

	_, err := e.svc.Login(ctx, "alice", "Guess-1!")
	require.NoError(t, err)
	res, err := e.svc.Login(ctx, "alice", "Correct1!")
	require.NoError(t, err)
	require.NoError(t, e.svc.Logout(ctx, res.SessionToken))

	require.NoError(t, e.passwords.InitiatePasswordReset(ctx, "alice"))
	tokens, err := e.tokens.FindAllByUser(ctx, e.user(t, "alice").ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	require.NoError(t, e.auditLog.LogAuthEvent(ctx, audit.Event{
		Type:    models.EventLogin,
		Success: false,
		Metadata: map[string]any{
			"attempt": map[string]any{"password": "Guess-2!", "nested": []any{map[string]any{"api_key": "k-123"}}},
		},
	}))

	raw, err := json.Marshal(e.audits.All())
	require.NoError(t, err)
	for _, secret := range []string{"Correct1!", "Guess-1!", "Guess-2!", "k-123", res.SessionToken, tokens[0].TokenHash} {
		assert.NotContains(t, string(raw), secret)
	}
	assert.Contains(t, string(raw), audit.Redacted)
}

func TestLogin_UsernameCaseSharesLimiterBucket(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})

	spellings := []string{"mallory", "Mallory", "MALLORY", " mallory ", "mAlLoRy"}
	require.Len(t, spellings, ratelimit.DefaultMaxAttempts)
	for _, name := range spellings {
		res, err := e.svc.Login(ctx, name, "Whatever1!")
		require.NoError(t, err, name)
		assert.False(t, res.Success)
	}

	_, err := e.svc.Login(ctx, "MaLlOrY", "Whatever1!")
	require.ErrorIs(t, err, apperrors.ErrRateLimit)
}

func TestLogin_CorruptStoredHashIsAFailedLogin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	corrupt := "$argon2id$v=19$m=65536,t=0,p=2$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNo"
	require.NoError(t, e.userRepo.Create(ctx, models.NewUser("eve", "eve@example.com", corrupt, t0)))

	var res *service.LoginResult
	var err error
	require.NotPanics(t, func() {
		res, err = e.svc.Login(ctx, "eve", "Whatever1!")
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.MsgInvalidCredentials, res.Error)

	events := e.events(models.EventLogin)
	require.Len(t, events, 1)
	assert.Equal(t, "invalid_password", events[0].Metadata["reason"])
}
