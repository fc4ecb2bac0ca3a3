package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"argus/metrics"

	"go.uber.org/zap"
)

// BreakerState is the state of a BreakerStore's circuit
type BreakerState string

const (
	// BreakerClosed passes calls through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen fails calls immediately
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets a limited number of trial calls through
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrBreakerOpen is returned while the backend is considered down
var ErrBreakerOpen = errors.New("correlation backend unavailable: circuit open")

// BreakerOptions configures a BreakerStore
type BreakerOptions struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before a trial call
	Cooldown time.Duration
	// MaxHalfOpenRequests is the number of concurrent trial calls
	MaxHalfOpenRequests uint32
	Logger              *zap.SugaredLogger
}

// DefaultBreakerOptions returns the defaults used for the Redis backend
func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		MaxFailures:         5,
		Cooldown:            30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Validate checks the options
func (o BreakerOptions) Validate() error {
	switch {
	case o.MaxFailures == 0:
		return errors.New("MaxFailures must be greater than 0")
	case o.Cooldown <= 0:
		return errors.New("Cooldown must be greater than 0")
	case o.MaxHalfOpenRequests == 0:
		return errors.New("MaxHalfOpenRequests must be greater than 0")
	}
	return nil
}

// BreakerStore guards another Store with a circuit breaker, so an unreachable
// backend costs one fast error per call instead of one network timeout.
// Calls abandoned through their context do not count as failures.
type BreakerStore struct {
	next   Store
	opts   BreakerOptions
	logger *zap.SugaredLogger
	now    func() time.Time

	mu           sync.Mutex
	state        BreakerState
	failures     uint32
	openedAt     time.Time
	halfOpenReqs uint32
}

// NewBreakerStore wraps next
func NewBreakerStore(next Store, opts BreakerOptions) (*BreakerStore, error) {
	if next == nil {
		return nil, errors.New("breaker needs a store to wrap")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid breaker options: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BreakerStore{
		next:   next,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		state:  BreakerClosed,
	}, nil
}

// Observe implements Store
func (b *BreakerStore) Observe(ctx context.Context, family, key string, now time.Time, window time.Duration) (int, error) {
	return b.call(ctx, func() (int, error) {
		return b.next.Observe(ctx, family, key, now, window)
	})
}

// Count implements Store
func (b *BreakerStore) Count(ctx context.Context, family, key string, now time.Time) (int, error) {
	return b.call(ctx, func() (int, error) {
		return b.next.Count(ctx, family, key, now)
	})
}

// State returns the current circuit state
func (b *BreakerStore) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerStore) call(ctx context.Context, fn func() (int, error)) (int, error) {
	if err := b.allow(); err != nil {
		return 0, err
	}
	n, err := fn()
	switch {
	case err == nil:
		b.record(true)
	case ctx.Err() != nil:
		b.release()
	default:
		b.record(false)
	}
	return n, err
}

func (b *BreakerStore) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.opts.Cooldown {
			return ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
		b.halfOpenReqs = 1
		return nil
	case BreakerHalfOpen:
		if b.halfOpenReqs >= b.opts.MaxHalfOpenRequests {
			return ErrBreakerOpen
		}
		b.halfOpenReqs++
	}
	return nil
}

// release gives back a half-open slot without judging the backend
func (b *BreakerStore) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen && b.halfOpenReqs > 0 {
		b.halfOpenReqs--
	}
}

func (b *BreakerStore) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state == BreakerHalfOpen {
			b.transition(BreakerClosed)
		}
		return
	}

	b.failures++
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.opts.MaxFailures {
			b.openedAt = b.now()
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}
}

// transition must be called with mu held
func (b *BreakerStore) transition(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.halfOpenReqs = 0
	metrics.CorrelationBreakerTransitionsTotal.WithLabelValues(string(to)).Inc()
	if to == BreakerOpen {
		b.logger.Warnw("Correlation backend circuit opened", "from", string(from), "failures", b.failures, "cooldown", b.opts.Cooldown)
		return
	}
	b.logger.Infow("Correlation backend circuit state changed", "from", string(from), "to", string(to))
}
