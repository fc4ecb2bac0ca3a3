package dataset

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

const (
	// DefaultQueueSize is the command queue capacity used when none is configured
	DefaultQueueSize = 1024
	// DefaultMaxBatch bounds how many commands are folded into one snapshot
	DefaultMaxBatch = 256
	// DefaultBlockingTimeout is how long a blocking queue waits for space
	// when the rule catalog is not configured otherwise
	DefaultBlockingTimeout = 5 * time.Second
)

var errConsumerRunning = errors.New("dataset consumer already running")

// Dataset is the type-erased view of a Handle held by the Registry
type Dataset interface {
	Kind() core.DatasetKind
	// Snapshot returns the current snapshot as a *T for the handle's T
	Snapshot() any
	Policy() Policy
	// Pending returns the number of queued commands
	Pending() int
	Run(ctx context.Context) error
	Close()
}

// HandleOptions configures a Handle
type HandleOptions struct {
	QueueSize int
	MaxBatch  int
	Policy    Policy
	Logger    *zap.SugaredLogger
}

// Handle pairs the published snapshot of one dataset kind with its command
// queue. Get never blocks and never returns nil.
type Handle[T any, E any] struct {
	kind     core.DatasetKind
	current  atomic.Pointer[T]
	commands chan Command[T, E]
	apply    ApplyFunc[T, E]
	policy   Policy
	maxBatch int
	logger   *zap.SugaredLogger

	running   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewHandle creates a handle publishing initial. A nil initial is replaced by
// the zero value of T so readers always observe a valid snapshot.
func NewHandle[T any, E any](kind core.DatasetKind, initial *T, apply ApplyFunc[T, E], opts HandleOptions) *Handle[T, E] {
	if initial == nil {
		initial = new(T)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	h := &Handle[T, E]{
		kind:     kind,
		commands: make(chan Command[T, E], opts.QueueSize),
		apply:    apply,
		policy:   opts.Policy,
		maxBatch: opts.MaxBatch,
		logger:   opts.Logger,
		done:     make(chan struct{}),
	}
	h.current.Store(initial)
	return h
}

// Kind returns the dataset kind served by the handle
func (h *Handle[T, E]) Kind() core.DatasetKind {
	return h.kind
}

// Policy returns the enqueue policy
func (h *Handle[T, E]) Policy() Policy {
	return h.policy
}

// Get returns the currently published snapshot
func (h *Handle[T, E]) Get() *T {
	return h.current.Load()
}

// Snapshot implements Dataset
func (h *Handle[T, E]) Snapshot() any {
	return h.current.Load()
}

// Pending implements Dataset
func (h *Handle[T, E]) Pending() int {
	return len(h.commands)
}

// Publish atomically swaps in snapshot. A nil snapshot is ignored. Commands
// applied by a running consumer after Publish fold on top of snapshot.
func (h *Handle[T, E]) Publish(snapshot *T) {
	if snapshot == nil {
		return
	}
	h.current.Store(snapshot)
	metrics.RecordDatasetPublish(h.kind.String(), 0)
}

// Send enqueues cmd according to the handle's policy
func (h *Handle[T, E]) Send(ctx context.Context, cmd Command[T, E]) error {
	select {
	case <-h.done:
		return h.reject(core.ErrQueueClosed, "closed")
	default:
	}

	if !h.policy.Blocking {
		select {
		case h.commands <- cmd:
			return nil
		default:
			return h.reject(core.ErrQueueFull, "full")
		}
	}

	var timeout <-chan time.Time
	if h.policy.Timeout > 0 {
		timer := time.NewTimer(h.policy.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return h.reject(core.ErrQueueClosed, "closed")
	case <-timeout:
		return h.reject(core.ErrQueueTimeout, "timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle[T, E]) reject(err error, reason string) error {
	metrics.RecordCommandRejected(h.kind.String(), reason)
	return err
}

// Run is the single consumer of the queue. It applies batches until ctx is
// cancelled or the handle is closed; commands still queued at Close are
// applied before Run returns.
func (h *Handle[T, E]) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errConsumerRunning
	}
	defer h.running.Store(false)

	h.logger.Debugw("Dataset consumer started", "kind", h.kind.String(), "policy", h.policy.String())
	batch := make([]Command[T, E], 0, h.maxBatch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			h.drain(batch[:0])
			return nil
		case cmd := <-h.commands:
			batch = append(batch[:0], cmd)
			h.applyBatch(h.collect(batch))
		}
	}
}

// collect appends queued commands to batch without blocking
func (h *Handle[T, E]) collect(batch []Command[T, E]) []Command[T, E] {
	for len(batch) < h.maxBatch {
		select {
		case cmd := <-h.commands:
			batch = append(batch, cmd)
		default:
			return batch
		}
	}
	return batch
}

func (h *Handle[T, E]) drain(batch []Command[T, E]) {
	for {
		batch = h.collect(batch[:0])
		if len(batch) == 0 {
			return
		}
		h.applyBatch(batch)
	}
}

// applyBatch folds batch into the current snapshot. A Publish landing while
// the batch is applied wins the race and the batch is folded again on top of
// it, so neither update is lost.
func (h *Handle[T, E]) applyBatch(batch []Command[T, E]) {
	for {
		prev := h.current.Load()
		next := h.apply(prev, batch)
		if next == nil {
			h.logger.Warnw("Dataset apply produced no snapshot, keeping previous",
				"kind", h.kind.String(), "batch", len(batch))
			return
		}
		if h.current.CompareAndSwap(prev, next) {
			metrics.RecordDatasetPublish(h.kind.String(), len(batch))
			return
		}
	}
}

// Close stops accepting commands. A running consumer drains what is queued
// and returns.
func (h *Handle[T, E]) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
