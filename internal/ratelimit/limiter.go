package ratelimit

import (
	"context"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/logger"
)

// Defaults: 5 attempts per 15 minute window, then a 15 minute lockout.
const (
	DefaultWindow          = 15 * time.Minute
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 15 * time.Minute
)

type Config struct {
	Window          time.Duration
	MaxAttempts     int
	LockoutDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:          DefaultWindow,
		MaxAttempts:     DefaultMaxAttempts,
		LockoutDuration: DefaultLockoutDuration,
	}
}

// Limiter is a sliding-window attempt counter keyed by (identifier, operation)
// with a lockout once the cap is reached.
type Limiter struct {
	store Store
	cfg   Config
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) { l.log = logger.OrNop(log) }
}

func New(store Store, cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = def.LockoutDuration
	}
	l := &Limiter{store: store, cfg: cfg, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key composes the store key for an identifier and operation.
func Key(identifier, operation string) string {
	return identifier + ":" + operation
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// prune drops attempts outside the window and clears an elapsed lockout.
func (l *Limiter) prune(rec *Record, now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	kept := rec.Attempts[:0]
	for _, ts := range rec.Attempts {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rec.Attempts = kept
	if !rec.LockedUntil.After(now) {
		rec.LockedUntil = time.Time{}
	}
}

// blocked reports whether the window already holds the cap. LockedUntil only
// marks when the cap was last reached; once enough attempts leave the window
// the key is allowed again even if that mark is still in the future.
func (l *Limiter) blocked(rec *Record) bool {
	return len(rec.Attempts) >= l.cfg.MaxAttempts
}

// CheckLimit reports whether another attempt is allowed. It does not record one.
func (l *Limiter) CheckLimit(ctx context.Context, identifier, operation string) (bool, error) {
	now := l.now()
	var allowed bool
	err := l.store.Update(ctx, Key(identifier, operation), func(rec *Record) error {
		l.prune(rec, now)
		allowed = !l.blocked(rec)
		return nil
	})
	if err != nil {
		return false, oops.Code("RATE_LIMIT_CHECK_FAILED").With("operation", operation).Wrap(err)
	}
	return allowed, nil
}

// RecordAttempt appends an attempt and starts or refreshes the lockout once
// the cap is reached.
func (l *Limiter) RecordAttempt(ctx context.Context, identifier, operation string) error {
	now := l.now()
	var locked bool
	err := l.store.Update(ctx, Key(identifier, operation), func(rec *Record) error {
		l.prune(rec, now)
		rec.Attempts = append(rec.Attempts, now)
		if len(rec.Attempts) >= l.cfg.MaxAttempts {
			rec.LockedUntil = now.Add(l.cfg.LockoutDuration)
			locked = true
		}
		return nil
	})
	if err != nil {
		return oops.Code("RATE_LIMIT_RECORD_FAILED").With("operation", operation).Wrap(err)
	}
	if locked {
		l.log.Warn("rate limit reached",
			zap.String("operation", operation),
			zap.Duration("lockout", l.cfg.LockoutDuration))
	}
	return nil
}

// TryConsume checks and records in one atomic step. Attempts made while
// blocked are not recorded, so they do not extend the lockout.
func (l *Limiter) TryConsume(ctx context.Context, identifier, operation string) (bool, error) {
	now := l.now()
	var allowed bool
	err := l.store.Update(ctx, Key(identifier, operation), func(rec *Record) error {
		l.prune(rec, now)
		if l.blocked(rec) {
			return nil
		}
		allowed = true
		rec.Attempts = append(rec.Attempts, now)
		if len(rec.Attempts) >= l.cfg.MaxAttempts {
			rec.LockedUntil = now.Add(l.cfg.LockoutDuration)
		}
		return nil
	})
	if err != nil {
		return false, oops.Code("RATE_LIMIT_CONSUME_FAILED").With("operation", operation).Wrap(err)
	}
	return allowed, nil
}

// RetryAfter estimates how long until the key is allowed again; zero when
// it already is.
func (l *Limiter) RetryAfter(ctx context.Context, identifier, operation string) (time.Duration, error) {
	now := l.now()
	var wait time.Duration
	err := l.store.Update(ctx, Key(identifier, operation), func(rec *Record) error {
		l.prune(rec, now)
		if n := len(rec.Attempts); n >= l.cfg.MaxAttempts {
			// The key frees up once enough of the oldest attempts leave the window.
			oldest := rec.Attempts[n-l.cfg.MaxAttempts]
			if w := oldest.Add(l.cfg.Window).Sub(now); w > 0 {
				wait = w
			}
		}
		return nil
	})
	if err != nil {
		return 0, oops.Code("RATE_LIMIT_CHECK_FAILED").With("operation", operation).Wrap(err)
	}
	return wait, nil
}

// ResetLimit clears all state for the key.
func (l *Limiter) ResetLimit(ctx context.Context, identifier, operation string) error {
	if err := l.store.Delete(ctx, Key(identifier, operation)); err != nil {
		return oops.Code("RATE_LIMIT_RESET_FAILED").With("operation", operation).Wrap(err)
	}
	return nil
}

// Sweep removes keys whose attempts are all stale and whose lockout has
// elapsed. It returns the number of keys removed.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	keys, err := l.store.Keys(ctx)
	if err != nil {
		return 0, oops.Code("RATE_LIMIT_SWEEP_FAILED").Wrap(err)
	}

	now := l.now()
	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		err := l.store.Update(ctx, key, func(rec *Record) error {
			l.prune(rec, now)
			if rec.IsZero() {
				removed++
			}
			return nil
		})
		if err != nil {
			return removed, oops.Code("RATE_LIMIT_SWEEP_FAILED").With("key", key).Wrap(err)
		}
	}

	if removed > 0 {
		l.log.Debug("rate limiter sweep", zap.Int("removed", removed), zap.Int("scanned", len(keys)))
	}
	return removed, nil
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.LogError(l.log, "rate limiter sweep failed", err)
			}
		}
	}
}
