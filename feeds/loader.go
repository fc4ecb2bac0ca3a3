package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"argus/core"
	"argus/dataset"
	"argus/metrics"
	"argus/util"

	"go.uber.org/zap"
)

// DefaultHTTPTimeout bounds one HTTP feed download
const DefaultHTTPTimeout = 60 * time.Second

// Result summarizes one load
type Result struct {
	Kind     core.DatasetKind
	Location string
	Records  int
	Skipped  int
	Duration time.Duration
}

// Loader reads sources and replaces dataset contents with what they decode to
type Loader struct {
	client *http.Client
	logger *zap.SugaredLogger
}

// NewLoader creates a loader whose HTTP downloads time out after timeout
func NewLoader(timeout time.Duration, logger *zap.SugaredLogger) *Loader {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loader{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Load decodes src and enqueues one Replace command for its kind. The new
// snapshot becomes visible once the dataset's consumer applies it.
func (l *Loader) Load(ctx context.Context, registry *dataset.Registry, src Source) (Result, error) {
	return l.load(ctx, registry, src, false)
}

// Prime decodes src and publishes the snapshot directly. It is meant for
// startup, before dataset consumers run.
func (l *Loader) Prime(ctx context.Context, registry *dataset.Registry, src Source) (Result, error) {
	return l.load(ctx, registry, src, true)
}

// PrimeAll primes every source and returns the joined errors of those that
// failed; the others are still published.
func (l *Loader) PrimeAll(ctx context.Context, registry *dataset.Registry, sources []Source) error {
	var errs []error
	for _, src := range sources {
		if _, err := l.Prime(ctx, registry, src); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type replaceFunc func(ctx context.Context, registry *dataset.Registry, kind core.DatasetKind, direct bool) error

func replaceWith[T any, E any](snapshot *T) replaceFunc {
	return func(ctx context.Context, registry *dataset.Registry, kind core.DatasetKind, direct bool) error {
		if direct {
			return dataset.Publish(registry, kind, snapshot)
		}
		return dataset.SendCommand(ctx, registry, kind, dataset.Replace[T, E](snapshot))
	}
}

func (l *Loader) load(ctx context.Context, registry *dataset.Registry, src Source, direct bool) (res Result, err error) {
	start := time.Now()
	res = Result{Kind: src.Kind, Location: src.Location()}
	defer func() {
		res.Duration = time.Since(start)
		kind := src.Kind.String()
		if err != nil {
			metrics.FeedLoadsTotal.WithLabelValues(kind, "failure").Inc()
			l.logger.Warnw("Feed load failed", "kind", kind, "location", util.SanitizeString(res.Location),
				"error", util.SanitizeError(err))
			return
		}
		metrics.FeedLoadsTotal.WithLabelValues(kind, "success").Inc()
		if res.Skipped > 0 {
			metrics.FeedRecordsSkippedTotal.WithLabelValues(kind).Add(float64(res.Skipped))
		}
		l.logger.Infow("Feed loaded", "kind", kind, "location", util.SanitizeString(res.Location),
			"records", res.Records, "skipped", res.Skipped, "duration", res.Duration)
	}()

	if err := src.Validate(); err != nil {
		return res, core.NewConfigurationError("", "feed "+src.Kind.String(), "invalid source", err)
	}
	if !registry.Has(src.Kind) {
		return res, fmt.Errorf("%s: %w", src.Kind, core.ErrDatasetUnavailable)
	}

	rc, err := l.open(ctx, src)
	if err != nil {
		return res, fmt.Errorf("failed to open %s: %w", res.Location, err)
	}
	defer rc.Close()

	replace, records, skipped, err := decode(src, rc)
	res.Records, res.Skipped = records, skipped
	if err != nil {
		return res, fmt.Errorf("failed to decode %s: %w", res.Location, err)
	}
	if err := replace(ctx, registry, src.Kind, direct); err != nil {
		return res, err
	}
	return res, nil
}

// decode picks the decoder for the source's dataset type
func decode(src Source, r io.Reader) (replaceFunc, int, int, error) {
	opts := CSVOptions{Delimiter: src.Delimiter, SkipHeader: src.SkipHeader}
	switch src.Kind.Type {
	case core.DatasetIPSet:
		s, skipped, err := DecodeIPSet(r)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.IPSet, netip.Addr](s), s.Len(), skipped, nil
	case core.DatasetTextSet:
		s, skipped, err := DecodeTextSet(r)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.TextSet, string](s), s.Len(), skipped, nil
	case core.DatasetIPMap:
		m, skipped, err := DecodeIPMap(r, opts)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.IPMap, dataset.IPMapEntry](m), m.Len(), skipped, nil
	case core.DatasetIPMapList:
		m, skipped, err := DecodeIPMapList(r, opts)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.IPMapList, dataset.IPMapListEntry](m), m.Len(), skipped, nil
	case core.DatasetTextMap:
		m, skipped, err := DecodeTextMap(r, opts)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.TextMap, dataset.TextEntry](m), m.Len(), skipped, nil
	case core.DatasetTextMapList:
		m, skipped, err := DecodeTextMapList(r, opts)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.TextMapList, dataset.TextListEntry](m), m.Len(), skipped, nil
	case core.DatasetIPNet:
		n, skipped, err := DecodeIPNet(r, opts)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.IPNet[string], dataset.NetEntry[string]](n), n.Len(), skipped, nil
	case core.DatasetGeoIP:
		n, skipped, err := DecodeGeoIP(r, opts)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.GeoIP, dataset.GeoIPEntry](n), n.Len(), skipped, nil
	case core.DatasetCalendar:
		c, skipped, err := DecodeCalendar(r, opts)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.Calendar, dataset.CalendarEntry](c), c.Len(), skipped, nil
	case core.DatasetI18n:
		d, skipped, err := DecodeI18n(r)
		if err != nil {
			return nil, 0, skipped, err
		}
		return replaceWith[dataset.I18n, dataset.I18nEntry](d), d.Len(), skipped, nil
	}
	return nil, 0, 0, fmt.Errorf("%s: %w", src.Kind, ErrUnsupportedKind)
}
