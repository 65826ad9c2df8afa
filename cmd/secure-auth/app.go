package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/config"
	"github.com/amirk1998/secure-auth/internal/database"
	"github.com/amirk1998/secure-auth/internal/email"
	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/metrics"
	"github.com/amirk1998/secure-auth/internal/password"
	"github.com/amirk1998/secure-auth/internal/ratelimit"
	"github.com/amirk1998/secure-auth/internal/repository"
	"github.com/amirk1998/secure-auth/internal/repository/memory"
	"github.com/amirk1998/secure-auth/internal/repository/sqlite"
	"github.com/amirk1998/secure-auth/internal/security"
	"github.com/amirk1998/secure-auth/internal/service"
	"github.com/amirk1998/secure-auth/internal/session"
	"github.com/amirk1998/secure-auth/pkg/validator"
)

// Application holds every wired component for one command invocation.
type Application struct {
	config      *config.Config
	log         *zap.Logger
	db          *sql.DB
	redis       *redis.Client
	metrics     *metrics.Metrics
	users       repository.UserRepository
	resetTokens repository.ResetTokenRepository
	auditLogger *audit.Logger
	monitor     *audit.Monitor
	sessions    *session.Manager
	limiter     *ratelimit.Limiter
	throttle    *ratelimit.Throttle
	passwords   *password.Manager
	auth        *service.AuthService
	maintenance *service.Maintenance
}

type stores struct {
	users       repository.UserRepository
	sessions    repository.SessionRepository
	resetTokens repository.ResetTokenRepository
	audit       repository.AuditLogRepository
}

// newApplication wires the components described by cfg. m may be nil.
func newApplication(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*Application, error) {
	app := &Application{config: cfg, log: log, metrics: m}
	if app.metrics == nil {
		app.metrics = metrics.New(prometheus.NewRegistry())
	}

	st, err := app.openStores()
	if err != nil {
		return nil, err
	}
	app.users = st.users
	app.resetTokens = st.resetTokens

	store, err := app.limiterStore(ctx, service.LoginOperation)
	if err != nil {
		app.Close()
		return nil, err
	}
	resetStore, err := app.limiterStore(ctx, password.ResetOperation)
	if err != nil {
		app.Close()
		return nil, err
	}
	limiterCfg := ratelimit.Config{
		Window:          cfg.RateLimitWindow,
		MaxAttempts:     cfg.RateLimitMax,
		LockoutDuration: cfg.RateLimitLockout,
	}
	app.limiter = ratelimit.New(store, limiterCfg, ratelimit.WithLogger(log.Named("ratelimit")))

	app.auditLogger, err = audit.NewLogger(st.audit, audit.Config{
		FilePath:  cfg.AuditLogPath,
		Async:     cfg.AuditAsyncMode,
		QueueSize: cfg.AuditQueueSize,
	}, log, audit.WithMetrics(app.metrics))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	app.monitor = audit.NewMonitor(app.auditLogger, log, app.metrics)

	app.sessions = session.NewManager(st.sessions, log, session.WithTTL(cfg.SessionTTL))

	hasher := security.NewPasswordHasher(security.HasherConfig{
		Time:    uint32(cfg.Argon2Time),
		Memory:  uint32(cfg.Argon2Memory),
		Threads: uint8(cfg.Argon2Threads),
	})
	policy := validator.NewPasswordPolicy(
		validator.MinLengthRule(cfg.PasswordMinLength),
		validator.RequireLetterRule(),
		validator.RequireDigitRule(),
		validator.RequireSymbolRule(),
		validator.MinStrengthScoreRule(cfg.PasswordMinScore),
	)
	resetLimiter := ratelimit.New(resetStore, ratelimit.Config{
		Window:          cfg.ResetTokenTTL,
		MaxAttempts:     cfg.ResetRateLimitMax,
		LockoutDuration: cfg.ResetTokenTTL,
	}, ratelimit.WithLogger(log.Named("ratelimit")))

	app.passwords = password.NewManager(st.users, st.resetTokens, app.sessions, app.mailer(), app.auditLogger, hasher, log,
		password.WithResetTTL(cfg.ResetTokenTTL),
		password.WithHistorySize(cfg.PasswordHistorySize),
		password.WithValidator(validator.New(policy)),
		password.WithLimiter(resetLimiter),
		password.WithMetrics(app.metrics),
	)

	app.auth, err = service.NewAuthService(st.users, app.passwords, app.sessions, app.limiter, app.auditLogger, log,
		service.WithAuthConfig(service.AuthConfig{
			MaxFailedAttempts: cfg.MaxFailedLogins,
			LockoutDuration:   cfg.LockoutDuration,
			AtomicRateLimit:   cfg.AtomicRateLimit,
		}),
		service.WithMetrics(app.metrics),
	)
	if err != nil {
		app.Close()
		return nil, err
	}

	opts := []service.MaintenanceOption{
		service.WithMonitor(app.monitor, cfg.AlertWindow, cfg.AlertThreshold),
		service.WithMaintenanceMetrics(app.metrics),
		service.WithLimiter(resetLimiter),
	}
	if app.throttle != nil {
		opts = append(opts, service.WithEmailThrottle(app.throttle, service.DefaultThrottleIdle))
	}
	app.maintenance = service.NewMaintenance(app.limiter, app.sessions, st.resetTokens, log, opts...)

	return app, nil
}

func (app *Application) openStores() (*stores, error) {
	if app.config.StoreBackend != config.StoreSQLite {
		app.log.Warn("using in-memory stores; state is lost when the process exits")
		return &stores{
			users:       memory.NewUserRepository(),
			sessions:    memory.NewSessionRepository(),
			resetTokens: memory.NewResetTokenRepository(),
			audit:       memory.NewAuditLogRepository(),
		}, nil
	}

	db, err := database.Connect(database.Config{
		Path:          app.config.DBPath,
		EncryptionKey: app.config.DBEncryptionKey,
		MaxOpenConns:  25,
		MaxIdleConns:  5,
		MaxLifetime:   time.Hour,
		MaxIdleTime:   10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	app.db = db

	return &stores{
		users:       sqlite.NewUserRepository(db),
		sessions:    sqlite.NewSessionRepository(db),
		resetTokens: sqlite.NewResetTokenRepository(db),
		audit:       sqlite.NewAuditLogRepository(db),
	}, nil
}

// limiterStore returns a store private to one limiter, so each limiter's
// sweep only sees keys it owns.
func (app *Application) limiterStore(ctx context.Context, name string) (ratelimit.Store, error) {
	cfg := app.config
	if cfg.RateLimitBackend != config.StoreRedis {
		return ratelimit.NewMemoryStore(), nil
	}

	if app.redis == nil {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		app.redis = client
	}

	ttl := ratelimit.TTLFor(ratelimit.Config{Window: cfg.RateLimitWindow, LockoutDuration: cfg.RateLimitLockout})
	if cfg.ResetTokenTTL > ttl {
		ttl = cfg.ResetTokenTTL
	}
	return ratelimit.NewRedisStore(app.redis, ratelimit.RedisConfig{
		KeyPrefix: cfg.RedisKeyPrefix + name,
		TTL:       ttl,
	}), nil
}

// mailer picks SMTP when a host is configured and logs links otherwise.
func (app *Application) mailer() email.Dispatcher {
	cfg := app.config
	base := email.Config{From: cfg.MailFrom, BaseURL: cfg.MailBaseURL, ResetTTL: cfg.ResetTokenTTL}
	if cfg.SMTPHost == "" {
		return email.NewLogDispatcher(base, app.log)
	}

	app.throttle = ratelimit.NewThrottle(cfg.MailRate, cfg.MailBurst)
	return email.NewSMTPDispatcher(email.SMTPConfig{
		Config:   base,
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}, app.log, email.WithThrottle(app.throttle))
}

// Close flushes the audit queue and releases connections.
func (app *Application) Close() {
	if app.auditLogger != nil {
		if err := app.auditLogger.Close(); err != nil {
			logger.LogError(app.log, "failed to close audit logger", err)
		}
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
