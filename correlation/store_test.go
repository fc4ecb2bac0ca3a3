package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "", zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func storesUnderTest(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(MemoryOptions{Logger: zaptest.NewLogger(t).Sugar()}),
		"redis":  redisStore,
	}
}

// Three failed logins for the same (domain, user) inside 60s
func TestStore_SlidingWindow(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			window := 60 * time.Second
			key := "corp|alice"

			n, err := store.Observe(ctx, "failed_logins", key, base, window)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = store.Observe(ctx, "failed_logins", key, base.Add(20*time.Second), window)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = store.Observe(ctx, "failed_logins", key, base.Add(40*time.Second), window)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			// other keys and families are independent
			n, err = store.Count(ctx, "failed_logins", "corp|bob", base.Add(40*time.Second))
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			n, err = store.Count(ctx, "other", key, base.Add(40*time.Second))
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			// the first observation expires exactly at base+60s
			n, err = store.Count(ctx, "failed_logins", key, base.Add(60*time.Second))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// after the whole window has passed the count restarts from zero
			n, err = store.Count(ctx, "failed_logins", key, base.Add(101*time.Second))
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			n, err = store.Observe(ctx, "failed_logins", key, base.Add(102*time.Second), window)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestStore_OutOfOrderObservations(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

			_, err := store.Observe(ctx, "f", "k", base.Add(30*time.Second), time.Minute)
			require.NoError(t, err)
			n, err := store.Observe(ctx, "f", "k", base, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = store.Count(ctx, "f", "k", base.Add(70*time.Second))
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestRedisStore_SetsTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Observe(ctx, "f", "k", time.Now(), 90*time.Second)
	require.NoError(t, err)

	rkey := DefaultRedisPrefix + "f:k"
	assert.True(t, mr.Exists(rkey))
	assert.Equal(t, 90*time.Second, mr.TTL(rkey))

	mr.FastForward(91 * time.Second)
	assert.False(t, mr.Exists(rkey))
}

func TestRedisStore_BackendError(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Observe(context.Background(), "f", "k", time.Now(), time.Minute)
	assert.Error(t, err)
}

func TestTTLOf(t *testing.T) {
	assert.Equal(t, time.Millisecond, ttlOf(500*time.Microsecond))
	assert.Equal(t, 2*time.Millisecond, ttlOf(1500*time.Microsecond))
	assert.Equal(t, time.Minute, ttlOf(time.Minute))
	assert.Equal(t, time.Millisecond, ttlOf(0))
}
