package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirk1998/secure-auth/internal/config"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, config.StoreMemory, cfg.StoreBackend)
	assert.Equal(t, config.StoreMemory, cfg.RateLimitBackend)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 5, cfg.RateLimitMax)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitLockout)
	assert.Equal(t, 5, cfg.MaxFailedLogins)
	assert.Equal(t, 15*time.Minute, cfg.LockoutDuration)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, time.Hour, cfg.ResetTokenTTL)
	assert.Equal(t, 5, cfg.PasswordHistorySize)
	assert.False(t, cfg.AtomicRateLimit)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW", "30m")
	t.Setenv("RATE_LIMIT_MAX_ATTEMPTS", "10")
	t.Setenv("AUTH_ATOMIC_RATE_LIMIT", "true")
	t.Setenv("SESSION_TTL", "not-a-duration")
	t.Setenv("MAIL_RATE_PER_SECOND", "1.5")

	cfg, err := config.Load(missingEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.True(t, cfg.AtomicRateLimit)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL, "unparseable values fall back to the default")
	assert.Equal(t, 1.5, cfg.MailRate)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SECURE_AUTH_TEST_ALERT_WINDOW=1m\nALERT_THRESHOLD=9\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("SECURE_AUTH_TEST_ALERT_WINDOW")
		_ = os.Unsetenv("ALERT_THRESHOLD")
	})

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.AlertThreshold)
	assert.Equal(t, "1m", os.Getenv("SECURE_AUTH_TEST_ALERT_WINDOW"))
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg, err := config.Load(missingEnvFile(t))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"unknown store", func(c *config.Config) { c.StoreBackend = "postgres" }},
		{"sqlite without key", func(c *config.Config) { c.StoreBackend = config.StoreSQLite }},
		{"sqlite with short key", func(c *config.Config) {
			c.StoreBackend = config.StoreSQLite
			c.DBEncryptionKey = "short"
		}},
		{"unknown limiter backend", func(c *config.Config) { c.RateLimitBackend = "memcached" }},
		{"redis without address", func(c *config.Config) {
			c.RateLimitBackend = config.StoreRedis
			c.RedisAddr = ""
		}},
		{"zero attempts", func(c *config.Config) { c.RateLimitMax = 0 }},
		{"negative lockout", func(c *config.Config) { c.LockoutDuration = -time.Minute }},
		{"weak minimum length", func(c *config.Config) { c.PasswordMinLength = 4 }},
		{"score out of range", func(c *config.Config) { c.PasswordMinScore = 5 }},
		{"too many threads", func(c *config.Config) { c.Argon2Threads = 300 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := valid()
	cfg.StoreBackend = config.StoreSQLite
	cfg.DBEncryptionKey = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.Validate())
}
