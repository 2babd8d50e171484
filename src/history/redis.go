package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore keeps room histories in Redis lists, newest at the head,
// trimmed to capacity on every write.
type RedisStore struct {
	client   *redis.Client
	cfg      RedisConfig
	capacity int
	logger   zerolog.Logger
}

// NewRedisStore creates a store for the given config. It does not dial;
// call Ping to check reachability.
func NewRedisStore(cfg *RedisConfig, capacity int, logger zerolog.Logger) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
	}
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	return &RedisStore{
		client:   redis.NewClient(opts),
		cfg:      *cfg,
		capacity: capacity,
		logger:   logger.With().Str("component", "redis-history").Logger(),
	}, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Factory returns a Factory producing Redis-backed logs.
func (s *RedisStore) Factory() Factory {
	return func(roomID string) Log { return s.ForRoom(roomID) }
}

// ForRoom returns the Log for a single room.
func (s *RedisStore) ForRoom(roomID string) Log {
	return &redisLog{store: s, key: s.Key(roomID)}
}

// Key returns the list key for a room, e.g. "event:e1:messages".
func (s *RedisStore) Key(roomID string) string {
	return s.cfg.Prefix + roomID + ":messages"
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

type redisLog struct {
	store *RedisStore
	key   string
}

func (l *redisLog) Append(ctx context.Context, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := l.store.withTimeout(ctx)
	defer cancel()

	_, err = l.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, l.key, data)
		pipe.LTrim(ctx, l.key, 0, int64(l.store.capacity-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", l.key, err)
	}
	return nil
}

func (l *redisLog) Snapshot(ctx context.Context) ([]types.Message, error) {
	ctx, cancel := l.store.withTimeout(ctx)
	defer cancel()

	raw, err := l.store.client.LRange(ctx, l.key, 0, int64(l.store.capacity-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.key, err)
	}

	// The list is newest first.
	out := make([]types.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg types.Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			l.store.logger.Warn().Err(err).Str("key", l.key).Msg("skipping undecodable history entry")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (l *redisLog) Discard(ctx context.Context) error {
	ctx, cancel := l.store.withTimeout(ctx)
	defer cancel()
	return l.store.client.Del(ctx, l.key).Err()
}
