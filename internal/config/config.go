package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	// Storage
	StoreBackend    string
	DBPath          string
	DBEncryptionKey string

	// Audit configuration
	AuditLogPath   string
	AuditAsyncMode bool
	AuditQueueSize int

	// Rate limiting
	RateLimitBackend  string
	RateLimitWindow   time.Duration
	RateLimitMax      int
	RateLimitLockout  time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisKeyPrefix    string
	AtomicRateLimit   bool
	ResetRateLimitMax int

	// Authentication
	MaxFailedLogins int
	LockoutDuration time.Duration
	SessionTTL      time.Duration

	// Passwords
	PasswordMinLength   int
	PasswordMinScore    int
	PasswordHistorySize int
	ResetTokenTTL       time.Duration
	Argon2Time          int
	Argon2Memory        int
	Argon2Threads       int

	// Mail
	MailBaseURL  string
	MailFrom     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailRate     float64
	MailBurst    int

	// Background work
	MaintenanceInterval time.Duration
	AlertWindow         time.Duration
	AlertThreshold      int
	MetricsAddr         string

	// Application settings
	Environment string
	LogLevel    string
}

// Load reads configuration from environment variables, after loading the
// given .env files. Missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	if len(envFiles) == 0 {
		// Load .env file if exists (not required in production)
		_ = godotenv.Load()
	}

	config := &Config{
		StoreBackend:        getEnv("STORE_BACKEND", StoreMemory),
		DBPath:              getEnv("DB_PATH", "./data/secure_auth.db"),
		DBEncryptionKey:     getEnv("DB_ENCRYPTION_KEY", ""),
		AuditLogPath:        getEnv("AUDIT_LOG_PATH", "./logs/audit.log"),
		AuditAsyncMode:      getEnvAsBool("AUDIT_ASYNC_MODE", false),
		AuditQueueSize:      getEnvAsInt("AUDIT_QUEUE_SIZE", 1000),
		RateLimitBackend:    getEnv("RATE_LIMIT_BACKEND", StoreMemory),
		RateLimitWindow:     getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMax:        getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
		RateLimitLockout:    getEnvAsDuration("RATE_LIMIT_LOCKOUT", 15*time.Minute),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvAsInt("REDIS_DB", 0),
		RedisKeyPrefix:      getEnv("REDIS_KEY_PREFIX", "secure-auth:ratelimit:"),
		AtomicRateLimit:     getEnvAsBool("AUTH_ATOMIC_RATE_LIMIT", false),
		ResetRateLimitMax:   getEnvAsInt("RESET_RATE_LIMIT_MAX", 3),
		MaxFailedLogins:     getEnvAsInt("AUTH_MAX_FAILED_LOGINS", 5),
		LockoutDuration:     getEnvAsDuration("AUTH_LOCKOUT_DURATION", 15*time.Minute),
		SessionTTL:          getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		PasswordMinLength:   getEnvAsInt("PASSWORD_MIN_LENGTH", 8),
		PasswordMinScore:    getEnvAsInt("PASSWORD_MIN_SCORE", 0),
		PasswordHistorySize: getEnvAsInt("PASSWORD_HISTORY_SIZE", 5),
		ResetTokenTTL:       getEnvAsDuration("RESET_TOKEN_TTL", time.Hour),
		Argon2Time:          getEnvAsInt("ARGON2_TIME", 3),
		Argon2Memory:        getEnvAsInt("ARGON2_MEMORY_KIB", 64*1024),
		Argon2Threads:       getEnvAsInt("ARGON2_THREADS", 2),
		MailBaseURL:         getEnv("MAIL_BASE_URL", "http://localhost:8080"),
		MailFrom:            getEnv("MAIL_FROM", "noreply@localhost"),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		MailRate:            getEnvAsFloat("MAIL_RATE_PER_SECOND", 0.2),
		MailBurst:           getEnvAsInt("MAIL_BURST", 2),
		MaintenanceInterval: getEnvAsDuration("MAINTENANCE_INTERVAL", 5*time.Minute),
		AlertWindow:         getEnvAsDuration("ALERT_WINDOW", 5*time.Minute),
		AlertThreshold:      getEnvAsInt("ALERT_THRESHOLD", 5),
		MetricsAddr:         getEnv("METRICS_ADDR", ":9090"),
		Environment:         getEnv("APP_ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	// Validate critical configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.DBEncryptionKey == "" {
			return fmt.Errorf("DB_ENCRYPTION_KEY is required")
		}
		if len(c.DBEncryptionKey) < 32 {
			return fmt.Errorf("DB_ENCRYPTION_KEY must be at least 32 characters")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMemory, StoreSQLite, c.StoreBackend)
	}

	switch c.RateLimitBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", StoreMemory, StoreRedis, c.RateLimitBackend)
	}

	if c.RateLimitMax < 1 || c.MaxFailedLogins < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS and AUTH_MAX_FAILED_LOGINS must be positive")
	}
	if c.RateLimitWindow <= 0 || c.RateLimitLockout <= 0 || c.LockoutDuration <= 0 {
		return fmt.Errorf("rate limit window and lockout durations must be positive")
	}
	if c.SessionTTL <= 0 || c.ResetTokenTTL <= 0 {
		return fmt.Errorf("SESSION_TTL and RESET_TOKEN_TTL must be positive")
	}
	if c.PasswordMinLength < 8 {
		return fmt.Errorf("PASSWORD_MIN_LENGTH must be at least 8")
	}
	if c.PasswordMinScore < 0 || c.PasswordMinScore > 4 {
		return fmt.Errorf("PASSWORD_MIN_SCORE must be between 0 and 4")
	}
	if c.Argon2Threads < 1 || c.Argon2Threads > 255 {
		return fmt.Errorf("ARGON2_THREADS must be between 1 and 255")
	}
	if c.SMTPHost != "" && c.MailFrom == "" {
		return fmt.Errorf("MAIL_FROM is required when SMTP_HOST is set")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDuration accepts Go duration strings ("15m", "1h30m").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
