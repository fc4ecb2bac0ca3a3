package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"argus/core"
	"argus/util/goroutine"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Matcher is implemented by snapshots usable from an InDataset condition
type Matcher interface {
	MatchValue(v interface{}) bool
}

// Registry maps dataset kinds to their handles. A Registry is immutable after
// construction; Subset returns a new registry sharing the same handles.
type Registry struct {
	handles map[core.DatasetKind]Dataset
	logger  *zap.SugaredLogger
}

// NewRegistry builds a registry over datasets. Registering the same kind twice
// is a configuration error.
func NewRegistry(logger *zap.SugaredLogger, datasets ...Dataset) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	handles := make(map[core.DatasetKind]Dataset, len(datasets))
	for _, ds := range datasets {
		if ds == nil {
			continue
		}
		if _, exists := handles[ds.Kind()]; exists {
			return nil, fmt.Errorf("dataset %s registered twice", ds.Kind())
		}
		handles[ds.Kind()] = ds
	}
	return &Registry{handles: handles, logger: logger}, nil
}

// Lookup returns the handle for kind
func (r *Registry) Lookup(kind core.DatasetKind) (Dataset, bool) {
	if r == nil {
		return nil, false
	}
	ds, ok := r.handles[kind]
	return ds, ok
}

// Get returns the current snapshot of kind without blocking
func (r *Registry) Get(kind core.DatasetKind) (any, error) {
	ds, ok := r.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, core.ErrDatasetUnavailable)
	}
	return ds.Snapshot(), nil
}

// Has reports whether kind is visible in this registry
func (r *Registry) Has(kind core.DatasetKind) bool {
	_, ok := r.Lookup(kind)
	return ok
}

// Match runs the membership primitive of kind's current snapshot
func (r *Registry) Match(kind core.DatasetKind, v interface{}) (bool, error) {
	snap, err := r.Get(kind)
	if err != nil {
		return false, err
	}
	m, ok := snap.(Matcher)
	if !ok {
		return false, fmt.Errorf("%s has no membership primitive: %w", kind, core.ErrDatasetTypeMismatch)
	}
	return m.MatchValue(v), nil
}

// Kinds returns the visible kinds in Compare order
func (r *Registry) Kinds() []core.DatasetKind {
	if r == nil {
		return nil
	}
	kinds := make([]core.DatasetKind, 0, len(r.handles))
	for kind := range r.handles {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Compare(kinds[j]) < 0 })
	return kinds
}

// Len returns the number of visible kinds
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handles)
}

// Subset returns a registry restricted to kinds. Kinds this registry does not
// hold are skipped; lookups for them report ErrDatasetUnavailable.
func (r *Registry) Subset(kinds ...core.DatasetKind) *Registry {
	out := &Registry{handles: make(map[core.DatasetKind]Dataset, len(kinds)), logger: zap.NewNop().Sugar()}
	if r == nil {
		return out
	}
	out.logger = r.logger
	for _, kind := range kinds {
		if ds, ok := r.handles[kind]; ok {
			out.handles[kind] = ds
		}
	}
	return out
}

// Start runs one consumer per kind until ctx is cancelled or every handle is
// closed. It returns the first consumer error other than context cancellation.
func (r *Registry) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range r.Kinds() {
		ds := r.handles[kind]
		name := "dataset-" + kind.String()
		g.Go(func() (err error) {
			defer goroutine.RecoverError(name, r.logger, &err)
			if err := ds.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s consumer: %w", kind, err)
			}
			return nil
		})
	}
	r.logger.Infow("Dataset consumers started", "kinds", len(r.handles))
	return g.Wait()
}

// Close closes every handle's queue
func (r *Registry) Close() {
	for _, ds := range r.handles {
		ds.Close()
	}
}

type getter[T any] interface {
	Get() *T
}

type publisher[T any] interface {
	Publish(*T)
}

// GetSnapshot returns the current snapshot of kind as *T
func GetSnapshot[T any](r *Registry, kind core.DatasetKind) (*T, error) {
	ds, ok := r.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, core.ErrDatasetUnavailable)
	}
	g, ok := ds.(getter[T])
	if !ok {
		return nil, fmt.Errorf("%s holds %T: %w", kind, ds.Snapshot(), core.ErrDatasetTypeMismatch)
	}
	return g.Get(), nil
}

// Publish swaps in snapshot for kind directly, bypassing the command queue.
// Prefer sending a Replace command when a consumer is running so the swap is
// ordered with other updates.
func Publish[T any](r *Registry, kind core.DatasetKind, snapshot *T) error {
	ds, ok := r.Lookup(kind)
	if !ok {
		return fmt.Errorf("%s: %w", kind, core.ErrDatasetUnavailable)
	}
	p, ok := ds.(publisher[T])
	if !ok {
		return fmt.Errorf("%s cannot publish %T: %w", kind, snapshot, core.ErrDatasetTypeMismatch)
	}
	p.Publish(snapshot)
	return nil
}

// SendCommand enqueues cmd on kind's handle
func SendCommand[T any, E any](ctx context.Context, r *Registry, kind core.DatasetKind, cmd Command[T, E]) error {
	ds, ok := r.Lookup(kind)
	if !ok {
		return fmt.Errorf("%s: %w", kind, core.ErrDatasetUnavailable)
	}
	h, ok := ds.(*Handle[T, E])
	if !ok {
		return fmt.Errorf("%s does not accept %T commands: %w", kind, cmd, core.ErrDatasetTypeMismatch)
	}
	return h.Send(ctx, cmd)
}
