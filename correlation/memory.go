package correlation

import (
	"context"
	"sort"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	// DefaultLockTimeout bounds how long an evaluation waits for a family lock
	DefaultLockTimeout = 50 * time.Millisecond
	// DefaultMaxKeysPerFamily bounds memory per family; least recently used keys are evicted
	DefaultMaxKeysPerFamily = 100_000
)

// MemoryOptions configures a MemoryStore
type MemoryOptions struct {
	LockTimeout      time.Duration
	MaxKeysPerFamily int
	Logger           *zap.SugaredLogger
}

// MemoryStore is an in-process Store. Each family has its own lock, taken
// for one short critical section per call, and its own bounded LRU of keys.
type MemoryStore struct {
	mu       sync.Mutex
	families map[string]*family
	opts     MemoryOptions
}

type family struct {
	sem  chan struct{}
	keys *lru.Cache[string, []int64] // ascending expiries in Unix ms
}

// MemoryStats summarizes store occupancy
type MemoryStats struct {
	Families     int
	Keys         int
	Observations int
}

// NewMemoryStore creates an empty store
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.MaxKeysPerFamily <= 0 {
		opts.MaxKeysPerFamily = DefaultMaxKeysPerFamily
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &MemoryStore{families: make(map[string]*family), opts: opts}
}

func (s *MemoryStore) family(name string, create bool) *family {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[name]
	if !ok && create {
		keys, err := lru.New[string, []int64](s.opts.MaxKeysPerFamily)
		if err != nil {
			// only fails for a non-positive size
			panic(err)
		}
		f = &family{sem: make(chan struct{}, 1), keys: keys}
		s.families[name] = f
	}
	return f
}

func (f *family) lock(ctx context.Context, timeout time.Duration) error {
	select {
	case f.sem <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f.sem <- struct{}{}:
		return nil
	case <-timer.C:
		metrics.CorrelationContentionTotal.Inc()
		return core.ErrStoreContention
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *family) unlock() {
	<-f.sem
}

// prune drops expiries <= nowMs from an ascending slice
func prune(expiries []int64, nowMs int64) []int64 {
	i := sort.Search(len(expiries), func(i int) bool { return expiries[i] > nowMs })
	return expiries[i:]
}

// Observe implements Store
func (s *MemoryStore) Observe(ctx context.Context, familyName, key string, now time.Time, window time.Duration) (int, error) {
	f := s.family(familyName, true)
	if err := f.lock(ctx, s.opts.LockTimeout); err != nil {
		return 0, err
	}
	defer f.unlock()

	nowMs := now.UnixMilli()
	exp := expiry(now, window)
	current, _ := f.keys.Get(key)
	live := prune(current, nowMs)

	// fresh slice: the previous one may be aliased by the prune above
	next := make([]int64, 0, len(live)+1)
	i := sort.Search(len(live), func(i int) bool { return live[i] > exp })
	next = append(next, live[:i]...)
	next = append(next, exp)
	next = append(next, live[i:]...)

	if f.keys.Add(key, next) {
		metrics.RecordKeyEviction("capacity", 1)
	}
	metrics.CorrelationObservationsTotal.WithLabelValues("memory").Inc()
	return len(prune(next, nowMs)), nil
}

// Count implements Store
func (s *MemoryStore) Count(ctx context.Context, familyName, key string, now time.Time) (int, error) {
	f := s.family(familyName, false)
	if f == nil {
		return 0, nil
	}
	if err := f.lock(ctx, s.opts.LockTimeout); err != nil {
		return 0, err
	}
	defer f.unlock()

	current, ok := f.keys.Get(key)
	if !ok {
		return 0, nil
	}
	live := prune(current, now.UnixMilli())
	if len(live) == 0 {
		f.keys.Remove(key)
		return 0, nil
	}
	if len(live) != len(current) {
		f.keys.Add(key, live)
	}
	return len(live), nil
}

// Sweep removes every key with no live observation at now and returns how
// many keys were removed. Families whose lock is busy are skipped.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	families := make([]*family, 0, len(s.families))
	for _, f := range s.families {
		families = append(families, f)
	}
	s.mu.Unlock()

	nowMs := now.UnixMilli()
	removed := 0
	for _, f := range families {
		select {
		case f.sem <- struct{}{}:
		default:
			continue
		}
		for _, key := range f.keys.Keys() {
			expiries, ok := f.keys.Peek(key)
			if ok && len(prune(expiries, nowMs)) == 0 {
				f.keys.Remove(key)
				removed++
			}
		}
		f.unlock()
	}
	metrics.RecordKeyEviction("expired", removed)
	return removed
}

// StartSweeper sweeps expired keys every interval until ctx is cancelled
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer goroutine.Recover("correlation-sweeper", s.opts.Logger)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				if n := s.Sweep(now); n > 0 {
					s.opts.Logger.Debugw("Swept expired correlation keys", "removed", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stats returns current occupancy
func (s *MemoryStore) Stats() MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := MemoryStats{Families: len(s.families)}
	for _, f := range s.families {
		for _, key := range f.keys.Keys() {
			if expiries, ok := f.keys.Peek(key); ok {
				stats.Keys++
				stats.Observations += len(expiries)
			}
		}
	}
	return stats
}
