package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/dataset"
	"argus/util/goroutine"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// DefaultMaxConcurrentLoads bounds parallel scheduled loads
	DefaultMaxConcurrentLoads = 3
	// DefaultLoadTimeout bounds one scheduled load
	DefaultLoadTimeout = 5 * time.Minute
)

// cronParser accepts an optional seconds field and @every/@daily descriptors
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// SchedulerOptions configures a Scheduler
type SchedulerOptions struct {
	MaxConcurrentLoads int
	LoadTimeout        time.Duration
	Location           *time.Location
}

// Scheduler refreshes sources on their cron schedules. Each refresh goes
// through the dataset command queue, so it is ordered with other updates to
// the same kind.
type Scheduler struct {
	loader   *Loader
	registry *dataset.Registry
	sources  map[core.DatasetKind]Source
	cron     *cron.Cron
	timeout  time.Duration
	sem      chan struct{}
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	jobs    map[core.DatasetKind]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// cronLogger routes cron's own logging to zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewScheduler validates the schedules of sources and builds a scheduler.
// Sources without a schedule are ignored.
func NewScheduler(loader *Loader, registry *dataset.Registry, sources []Source, opts SchedulerOptions, logger *zap.SugaredLogger) (*Scheduler, error) {
	if loader == nil || registry == nil {
		return nil, fmt.Errorf("scheduler needs a loader and a registry")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.MaxConcurrentLoads <= 0 {
		opts.MaxConcurrentLoads = DefaultMaxConcurrentLoads
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	scheduled := make(map[core.DatasetKind]Source)
	for _, src := range sources {
		if src.Schedule == "" {
			continue
		}
		if _, err := cronParser.Parse(src.Schedule); err != nil {
			return nil, core.NewConfigurationError("", "feed "+src.Kind.String(), "invalid schedule "+src.Schedule, err)
		}
		if _, dup := scheduled[src.Kind]; dup {
			return nil, core.NewConfigurationError("", "feed "+src.Kind.String(), "kind has more than one scheduled source", nil)
		}
		scheduled[src.Kind] = src
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		loader:   loader,
		registry: registry,
		sources:  scheduled,
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithParser(cronParser),
			cron.WithLogger(cronLogger{logger: logger}),
		),
		timeout: opts.LoadTimeout,
		sem:     make(chan struct{}, opts.MaxConcurrentLoads),
		logger:  logger,
		jobs:    make(map[core.DatasetKind]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start registers every scheduled source and starts the cron loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	for kind, src := range s.sources {
		kind := kind
		id, err := s.cron.AddFunc(src.Schedule, func() { s.sync(kind) })
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", kind, err)
		}
		s.jobs[kind] = id
		s.logger.Infow("Scheduled feed", "kind", kind.String(), "schedule", src.Schedule)
	}
	s.cron.Start()
	s.running = true
	s.logger.Infow("Feed scheduler started", "feeds", len(s.jobs), "max_concurrent", cap(s.sem))
	return nil
}

// Stop stops the cron loop and waits for running loads
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.running = false
	s.logger.Infow("Feed scheduler stopped")
}

// IsRunning reports whether the cron loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled refresh of kind
func (s *Scheduler) NextRun(kind core.DatasetKind) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobs[kind]
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Sync loads kind's scheduled source now, waiting for a free load slot
func (s *Scheduler) Sync(ctx context.Context, kind core.DatasetKind) (Result, error) {
	src, ok := s.sources[kind]
	if !ok {
		return Result{}, fmt.Errorf("no scheduled feed for %s", kind)
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-s.sem }()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.loader.Load(ctx, s.registry, src)
}

// TriggerSync refreshes kind in the background, bypassing the schedule
func (s *Scheduler) TriggerSync(kind core.DatasetKind) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sync(kind)
	}()
}

func (s *Scheduler) sync(kind core.DatasetKind) {
	defer goroutine.Recover("feed-sync-"+kind.String(), s.logger)
	if _, err := s.Sync(s.ctx, kind); err != nil {
		s.logger.Warnw("Scheduled feed sync failed", "kind", kind.String(), "error", err)
	}
}
