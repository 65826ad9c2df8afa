package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const (
	defaultRedisPrefix = "ratelimit"
	maxTxRetries       = 64
)

// RedisConfig configures the key layout and expiry of a RedisStore.
type RedisConfig struct {
	KeyPrefix string
	// TTL is applied on every write. It must cover max(window, lockout).
	TTL time.Duration
}

// RedisStore shares limiter state between processes. Attempts live in a
// sorted set scored by time; the lockout lives in a sibling string key.
// Updates run as WATCH/MULTI optimistic transactions.
type RedisStore struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, cfg: cfg}
}

// TTLFor returns the key expiry a RedisStore needs for the limiter config.
func TTLFor(cfg Config) time.Duration {
	if cfg.LockoutDuration > cfg.Window {
		return cfg.LockoutDuration
	}
	return cfg.Window
}

func (s *RedisStore) attemptsKey(key string) string {
	return s.cfg.KeyPrefix + ":attempts:" + key
}

func (s *RedisStore) lockKey(key string) string {
	return s.cfg.KeyPrefix + ":lock:" + key
}

func (s *RedisStore) Update(ctx context.Context, key string, fn func(rec *Record) error) error {
	ak, lk := s.attemptsKey(key), s.lockKey(key)

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := s.load(ctx, tx, ak, lk)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, ak, lk)
				if len(rec.Attempts) > 0 {
					members := make([]redis.Z, len(rec.Attempts))
					for i, ts := range rec.Attempts {
						// The index suffix keeps members unique when timestamps collide.
						members[i] = redis.Z{
							Score:  float64(ts.UnixNano()),
							Member: fmt.Sprintf("%d-%d", ts.UnixNano(), i),
						}
					}
					pipe.ZAdd(ctx, ak, members...)
					if s.cfg.TTL > 0 {
						pipe.Expire(ctx, ak, s.cfg.TTL)
					}
				}
				if !rec.LockedUntil.IsZero() {
					pipe.Set(ctx, lk, rec.LockedUntil.UnixNano(), s.cfg.TTL)
				}
				return nil
			})
			return err
		}, ak, lk)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return nil
	}
	return oops.Code("RATE_LIMIT_CONTENTION").With("key", key).Errorf("too many concurrent updates")
}

func (s *RedisStore) load(ctx context.Context, tx *redis.Tx, ak, lk string) (*Record, error) {
	rec := &Record{}

	members, err := tx.ZRangeByScore(ctx, ak, &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	for _, m := range members {
		raw, _, _ := strings.Cut(m, "-")
		ns, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt attempt member %q: %w", m, err)
		}
		rec.Attempts = append(rec.Attempts, time.Unix(0, ns))
	}

	lockedNs, err := tx.Get(ctx, lk).Int64()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("redis get: %w", err)
	default:
		rec.LockedUntil = time.Unix(0, lockedNs)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.attemptsKey(key), s.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	for _, kind := range []string{":attempts:", ":lock:"} {
		prefix := s.cfg.KeyPrefix + kind
		iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			k := strings.TrimPrefix(iter.Val(), prefix)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
	}
	return keys, nil
}
