package detect

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers is the number of evaluation goroutines when none is configured
	DefaultWorkers = 4
	// DefaultMaxRetries bounds re-evaluation of rules that hit store contention
	DefaultMaxRetries = 3
	// DefaultRetryBackoff is the first retry delay; it doubles on each attempt
	DefaultRetryBackoff = 10 * time.Millisecond
)

// DetectorOptions configures a Detector
type DetectorOptions struct {
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Detector runs the engine over a stream of events with a pool of workers
type Detector struct {
	engine  *Engine
	events  <-chan *core.Event
	alerts  chan<- *core.SiemAlert
	opts    DetectorOptions
	logger  *zap.SugaredLogger
	metrics detectorCounters
}

type detectorCounters struct {
	events  atomic.Int64
	alerts  atomic.Int64
	dropped atomic.Int64
}

// DetectorStats is a snapshot of the detector counters
type DetectorStats struct {
	Events  int64
	Alerts  int64
	Dropped int64
}

// NewDetector creates a detector reading events and writing alerts
func NewDetector(engine *Engine, events <-chan *core.Event, alerts chan<- *core.SiemAlert, opts DetectorOptions, logger *zap.SugaredLogger) (*Detector, error) {
	if engine == nil {
		return nil, fmt.Errorf("detector requires an engine")
	}
	if events == nil || alerts == nil {
		return nil, fmt.Errorf("detector requires event and alert channels")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	return &Detector{engine: engine, events: events, alerts: alerts, opts: opts, logger: logger}, nil
}

// Run evaluates events until the input channel is closed or ctx is
// cancelled. It does not close the alert channel.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Infow("Detector started", "workers", d.opts.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		name := fmt.Sprintf("detector-worker-%d", i)
		g.Go(func() (err error) {
			defer goroutine.RecoverError(name, d.logger, &err)
			return d.work(gctx)
		})
	}
	err := g.Wait()
	stats := d.Stats()
	d.logger.Infow("Detector stopped", "events", stats.Events, "alerts", stats.Alerts, "dropped", stats.Dropped)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Detector) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-d.events:
			if !ok {
				return nil
			}
			d.metrics.events.Add(1)
			alerts, err := d.Process(ctx, event)
			if err != nil {
				d.logger.Errorw("Event evaluation incomplete", "event_id", event.EventID, "error", err)
			}
			for _, alert := range alerts {
				select {
				case d.alerts <- alert:
					d.metrics.alerts.Add(1)
				case <-ctx.Done():
					d.metrics.dropped.Add(1)
					return ctx.Err()
				}
			}
		}
	}
}

// Process evaluates one event. Rules failing on store contention are resumed
// with exponential backoff, reusing the observations the failed attempt
// already recorded; rules still failing after the last attempt are reported
// in the returned *EvaluationError.
func (d *Detector) Process(ctx context.Context, event *core.Event) ([]*core.SiemAlert, error) {
	alerts, err := d.engine.Evaluate(ctx, event)
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		return alerts, err
	}

	backoff := d.opts.RetryBackoff
	for attempt := 1; attempt <= d.opts.MaxRetries; attempt++ {
		var retry []*RuleError
		var remaining []error
		for _, e := range evalErr.Errors {
			var re *RuleError
			if errors.As(e, &re) && errors.Is(re.Err, core.ErrStoreContention) {
				retry = append(retry, re)
			} else {
				remaining = append(remaining, e)
			}
		}
		if len(retry) == 0 {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return alerts, err
		case <-timer.C:
		}
		backoff *= 2

		for _, re := range retry {
			fired, ruleErr := d.engine.ResumeRule(ctx, re.Rule, event, re.Progress)
			if ruleErr != nil {
				remaining = append(remaining, ruleErr)
				continue
			}
			alerts = append(alerts, fired...)
		}
		evalErr.Errors = remaining
		if len(remaining) == 0 {
			return alerts, nil
		}
		d.logger.Debugw("Retrying rules after store contention", "event_id", event.EventID, "attempt", attempt, "rules", len(remaining))
	}

	for range evalErr.Errors {
		metrics.EvaluationFailures.WithLabelValues("exhausted").Inc()
	}
	return alerts, evalErr
}

// Stats returns the detector counters
func (d *Detector) Stats() DetectorStats {
	return DetectorStats{
		Events:  d.metrics.events.Load(),
		Alerts:  d.metrics.alerts.Load(),
		Dropped: d.metrics.dropped.Load(),
	}
}
