package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"liveinterview/internal/domain"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore shares session cache entries through a Redis instance.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisStore does not dial; the first command connects lazily.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:    cfg.TTL,
		logger: logger.With().Str("module", "cache.redis").Str("addr", cfg.Addr).Logger(),
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (domain.CachedSessionEntry, bool, error) {
	if err := validSessionID(sessionID); err != nil {
		return domain.CachedSessionEntry{}, false, err
	}

	raw, err := s.client.Get(ctx, Key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CachedSessionEntry{}, false, nil
	}
	if err != nil {
		return domain.CachedSessionEntry{}, false, fmt.Errorf("read cache entry: %w", err)
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		return domain.CachedSessionEntry{}, false, err
	}
	return entry, true, nil
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, entry domain.CachedSessionEntry) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(sessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	s.logger.Debug().Str("session_id", sessionID).Msg("cache entry stored")
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, Key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
