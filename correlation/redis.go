package correlation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"argus/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces correlation keys
const DefaultRedisPrefix = "argus:corr:"

// RedisStore is a Store shared between processes. Each (family, key) is a
// sorted set whose scores are expiry instants in Unix milliseconds; the set
// itself expires one window after its newest observation.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *zap.SugaredLogger
}

// RedisOptions configures the client built by NewRedisStoreFromOptions
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient, prefix string, logger *zap.SugaredLogger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

// NewRedisStoreFromOptions creates a client and the store around it
func NewRedisStoreFromOptions(opts RedisOptions, logger *zap.SugaredLogger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	return NewRedisStore(client, opts.Prefix, logger)
}

// Ping tests the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(family, key string) string {
	return s.prefix + family + ":" + key
}

// ttlOf rounds window up to whole milliseconds, the PEXPIRE resolution, so a
// key never outlives less than its window
func ttlOf(window time.Duration) time.Duration {
	ttl := (window + time.Millisecond - 1).Truncate(time.Millisecond)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

// Observe implements Store
func (s *RedisStore) Observe(ctx context.Context, family, key string, now time.Time, window time.Duration) (int, error) {
	rkey := s.key(family, key)
	exp := expiry(now, window)
	member := strconv.FormatInt(exp, 10) + ":" + uuid.NewString()

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(exp), Member: member})
		pipe.ZRemRangeByScore(ctx, rkey, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
		card = pipe.ZCard(ctx, rkey)
		pipe.PExpire(ctx, rkey, ttlOf(window))
		return nil
	})
	if err != nil {
		s.logger.Warnw("Correlation observe failed", "family", family, "error", err)
		return 0, fmt.Errorf("redis correlation observe %s: %w", rkey, err)
	}
	metrics.CorrelationObservationsTotal.WithLabelValues("redis").Inc()
	return int(card.Val()), nil
}

// Count implements Store
func (s *RedisStore) Count(ctx context.Context, family, key string, now time.Time) (int, error) {
	rkey := s.key(family, key)

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, rkey, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
		card = pipe.ZCard(ctx, rkey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis correlation count %s: %w", rkey, err)
	}
	return int(card.Val()), nil
}
