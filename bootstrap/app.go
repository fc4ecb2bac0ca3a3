package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"argus/config"
	"argus/core"
	"argus/dataset"
	"argus/detect"
	"argus/feeds"
	"argus/util"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// shutdownTimeout bounds how long Shutdown waits for the detector to drain
const shutdownTimeout = 15 * time.Second

// App represents one argus process with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Datasets
	Registry  *dataset.Registry
	Loader    *feeds.Loader
	Scheduler *feeds.Scheduler
	Sources   []feeds.Source

	// Detection
	Compiler   *util.RegexCompiler
	Storage    *StoreComponents
	Engine     *detect.Engine
	Detector   *detect.Detector
	RuleErrors []error

	// Events is the detector input; Alerts its output, closed once the
	// detector stops. Callers close Events (or call Shutdown) when input ends.
	Events chan *core.Event
	Alerts chan *core.SiemAlert

	ctx          context.Context
	cancel       context.CancelFunc
	serviceWg    sync.WaitGroup
	detectorDone chan struct{}
	detectorErr  error
	startOnce    sync.Once
	closeOnce    sync.Once
	shutdownOnce sync.Once

	// inputMu guards Events against a Submit racing CloseInput
	inputMu     sync.RWMutex
	inputClosed bool
	stopping    chan struct{}
}

// ErrInputClosed is returned by Submit after CloseInput or Shutdown
var ErrInputClosed = errors.New("event input is closed")

// NewApp builds every component from cfg: the dataset registry, primed from
// the configured sources, the rule catalog, the correlation store, the
// engine and the detector. Nothing runs until Start.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()
	appCtx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:       cfg,
		Logger:       logger,
		Sugar:        sugar,
		ctx:          appCtx,
		cancel:       cancel,
		detectorDone: make(chan struct{}),
		stopping:     make(chan struct{}),
	}
	if err := app.init(ctx); err != nil {
		cancel()
		if app.Storage != nil {
			_ = app.Storage.Close()
		}
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, sugar := a.Config, a.Sugar
	sugar.Info("argus starting...")

	if err := CheckPaths(cfg, sugar); err != nil {
		return fmt.Errorf("pre-flight check failed: %w", err)
	}

	registry, err := InitRegistry(cfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to build dataset registry: %w", err)
	}
	a.Registry = registry

	sources, err := FeedSources(cfg)
	if err != nil {
		return err
	}
	a.Sources = sources
	a.Loader = feeds.NewLoader(cfg.Datasets.Feeds.HTTPTimeout, sugar)
	if err := a.Loader.PrimeAll(ctx, registry, sources); err != nil {
		// datasets whose source failed start empty and recover on the next scheduled load
		sugar.Warnw("Some feeds failed to load at startup", "error", err)
	}

	a.Compiler = NewRegexCompiler(cfg)
	rules, ruleErrs := LoadRules(cfg, a.Compiler, sugar)
	a.RuleErrors = ruleErrs
	if err := PublishRules(registry, rules); err != nil {
		return err
	}
	sugar.Infow("Rule catalog published", "rules", len(rules), "rejected", len(ruleErrs))

	storage, err := InitCorrelationStore(a.ctx, cfg, sugar)
	if err != nil {
		return err
	}
	a.Storage = storage

	engine, err := InitEngine(cfg, registry, storage.Store, sugar)
	if err != nil {
		return err
	}
	a.Engine = engine

	a.Events = make(chan *core.Event, cfg.Engine.EventBuffer)
	a.Alerts = make(chan *core.SiemAlert, cfg.Engine.EventBuffer)
	detector, err := InitDetector(cfg, engine, a.Events, a.Alerts, sugar)
	if err != nil {
		return err
	}
	a.Detector = detector

	scheduler, err := feeds.NewScheduler(a.Loader, registry, sources, feeds.SchedulerOptions{
		MaxConcurrentLoads: cfg.Datasets.Feeds.MaxConcurrentLoads,
		LoadTimeout:        cfg.Datasets.Feeds.LoadTimeout,
	}, sugar)
	if err != nil {
		return err
	}
	a.Scheduler = scheduler
	return nil
}

// Start runs the dataset consumers, the feed scheduler and the detector
// workers in the background.
func (a *App) Start() error {
	var err error
	a.startOnce.Do(func() {
		a.serviceWg.Add(1)
		go func() {
			defer a.serviceWg.Done()
			defer goroutine.Recover("dataset-registry", a.Sugar)
			if err := a.Registry.Start(a.ctx); err != nil {
				a.Sugar.Errorw("Dataset consumers stopped", "error", err)
			}
		}()

		if err = a.Scheduler.Start(); err != nil {
			close(a.Alerts)
			close(a.detectorDone)
			return
		}

		go func() {
			defer close(a.detectorDone)
			defer close(a.Alerts)
			defer goroutine.Recover("detector", a.Sugar)
			a.detectorErr = a.Detector.Run(a.ctx)
		}()
	})
	return err
}

// CloseInput closes the event channel; the detector stops once it has
// evaluated what is queued. It is safe to call more than once.
func (a *App) CloseInput() {
	a.closeOnce.Do(func() {
		a.inputMu.Lock()
		a.inputClosed = true
		close(a.Events)
		a.inputMu.Unlock()
	})
}

// Submit queues one event for detection, blocking while the input buffer is
// full. It returns ErrInputClosed once the input is closed or shutdown has
// begun.
func (a *App) Submit(ctx context.Context, event *core.Event) error {
	a.inputMu.RLock()
	defer a.inputMu.RUnlock()
	if a.inputClosed {
		return ErrInputClosed
	}
	select {
	case a.Events <- event:
		return nil
	case <-a.stopping:
		return ErrInputClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drained is closed when the detector has stopped
func (a *App) Drained() <-chan struct{} {
	return a.detectorDone
}

// ReloadRules reloads both rule directories and replaces the catalog through
// its command queue. Rules that fail keep the error list; the rest load.
func (a *App) ReloadRules(ctx context.Context) ([]error, error) {
	rules, errs := LoadRules(a.Config, a.Compiler, a.Sugar)
	cmd := dataset.Replace[dataset.RuleCatalog, *core.SiemRule](dataset.NewRuleCatalog(rules...))
	if err := dataset.SendCommand(ctx, a.Registry, core.KindRules, cmd); err != nil {
		return errs, fmt.Errorf("failed to queue rule catalog: %w", err)
	}
	a.RuleErrors = errs
	a.Sugar.Infow("Rule reload queued", "rules", len(rules), "rejected", len(errs))
	return errs, nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM, reloading rules on SIGHUP.
// It also returns when the detector stops on its own.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(c)
	for {
		select {
		case sig := <-c:
			if sig != syscall.SIGHUP {
				a.Sugar.Infow("Signal received", "signal", sig.String())
				return
			}
			if _, err := a.ReloadRules(a.ctx); err != nil {
				a.Sugar.Errorw("Rule reload failed", "error", err)
			}
		case <-a.detectorDone:
			return
		}
	}
}

// Shutdown stops every component: input first, then the detector, the
// scheduler, the dataset consumers and finally the store.
func (a *App) Shutdown() error {
	var errs []error
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		a.Sugar.Info("Phase 1: Closing event input...")
		close(a.stopping)
		a.CloseInput()

		a.Sugar.Info("Phase 2: Waiting for the detector to drain...")
		a.startOnce.Do(func() {
			close(a.Alerts)
			close(a.detectorDone)
		})
		select {
		case <-a.detectorDone:
			if a.detectorErr != nil {
				errs = append(errs, a.detectorErr)
			}
		case <-time.After(shutdownTimeout):
			a.Sugar.Warn("Detector drain timed out")
		}

		a.Sugar.Info("Phase 3: Stopping feed scheduler...")
		a.Scheduler.Stop()

		a.Sugar.Info("Phase 4: Stopping dataset consumers...")
		a.cancel()
		a.serviceWg.Wait()
		a.Registry.Close()

		a.Sugar.Info("Phase 5: Closing correlation store...")
		if err := a.Storage.Close(); err != nil {
			errs = append(errs, err)
		}

		a.Sugar.Info("Shutdown complete")
		_ = a.Logger.Sync()
	})
	return errors.Join(errs...)
}
