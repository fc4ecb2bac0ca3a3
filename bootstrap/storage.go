package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"argus/config"
	"argus/correlation"

	"go.uber.org/zap"
)

// redisRetryDelays are the waits between Redis connection attempts
var redisRetryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// StoreComponents holds the correlation store and how to release it
type StoreComponents struct {
	Store  correlation.Store
	Memory *correlation.MemoryStore
	Redis  *correlation.RedisStore
}

// Close releases the backend connection, if any
func (s *StoreComponents) Close() error {
	if s == nil || s.Redis == nil {
		return nil
	}
	return s.Redis.Close()
}

// InitCorrelationStore creates the configured correlation backend. The memory
// store's sweeper runs until ctx is cancelled; the Redis store is pinged with
// retries before it is used and then guarded by a circuit breaker.
func InitCorrelationStore(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StoreComponents, error) {
	corr := cfg.Correlation
	switch corr.Backend {
	case config.BackendRedis:
		store := correlation.NewRedisStoreFromOptions(correlation.RedisOptions{
			Addr:     corr.Redis.Addr,
			Password: corr.Redis.Password,
			DB:       corr.Redis.DB,
			PoolSize: corr.Redis.PoolSize,
			Prefix:   corr.Redis.Prefix,
		}, sugar)
		if err := pingWithRetry(ctx, store, corr.Redis.Addr, sugar); err != nil {
			_ = store.Close()
			return nil, err
		}
		sugar.Infow("Connected to Redis correlation store", "addr", corr.Redis.Addr)
		opts := correlation.DefaultBreakerOptions()
		opts.MaxFailures = uint32(corr.Redis.BreakerFailures)
		opts.Cooldown = corr.Redis.BreakerCooldown
		opts.Logger = sugar
		guarded, err := correlation.NewBreakerStore(store, opts)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return &StoreComponents{Store: guarded, Redis: store}, nil

	case config.BackendMemory, "":
		store := correlation.NewMemoryStore(correlation.MemoryOptions{
			LockTimeout:      corr.LockTimeout,
			MaxKeysPerFamily: corr.MaxKeysPerFamily,
			Logger:           sugar,
		})
		if corr.SweepInterval > 0 {
			store.StartSweeper(ctx, corr.SweepInterval)
		}
		return &StoreComponents{Store: store, Memory: store}, nil
	}
	return nil, fmt.Errorf("unknown correlation backend %q", corr.Backend)
}

func pingWithRetry(ctx context.Context, store *correlation.RedisStore, addr string, sugar *zap.SugaredLogger) error {
	var lastErr error
	for attempt := 0; attempt <= len(redisRetryDelays); attempt++ {
		if attempt > 0 {
			delay := redisRetryDelays[attempt-1]
			sugar.Infow("Retrying Redis connection", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = store.Ping(ctx); lastErr == nil {
			return nil
		}
		sugar.Warnw("Redis connection attempt failed", "attempt", attempt+1, "error", lastErr)
	}

	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: Redis Connection Failed\n")
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", ClassifyConnectionError(lastErr, addr))
	fmt.Fprintf(os.Stderr, "========================================\n\n")
	return fmt.Errorf("failed to connect to Redis after %d attempts: %w", len(redisRetryDelays)+1, lastErr)
}
