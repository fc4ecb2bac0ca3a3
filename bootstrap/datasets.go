package bootstrap

import (
	"fmt"

	"argus/config"
	"argus/core"
	"argus/dataset"
	"argus/feeds"

	"go.uber.org/zap"
)

// baseKinds are served even when no configuration mentions them
var baseKinds = []core.DatasetKind{core.KindRules, core.KindI18n, core.KindGeoIP}

// InitRegistry creates one handle per configured kind, per kind fed by a
// source and per base kind. The rule catalog defaults to a blocking queue so
// rule updates are never dropped.
func InitRegistry(cfg *config.Config, sugar *zap.SugaredLogger) (*dataset.Registry, error) {
	defaults := dataset.HandleOptions{
		QueueSize: cfg.Datasets.QueueSize,
		MaxBatch:  cfg.Datasets.MaxBatch,
		Logger:    sugar,
	}

	options := make(map[core.DatasetKind]dataset.HandleOptions)
	var order []core.DatasetKind
	add := func(kind core.DatasetKind, opts dataset.HandleOptions) {
		if _, ok := options[kind]; !ok {
			order = append(order, kind)
		}
		options[kind] = opts
	}

	for _, kind := range baseKinds {
		opts := defaults
		if kind == core.KindRules {
			opts.Policy = dataset.BlockingPolicy(dataset.DefaultBlockingTimeout)
		}
		add(kind, opts)
	}
	for i, s := range cfg.Datasets.Sources {
		kind, err := core.ParseDatasetKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("datasets.sources[%d]: %w", i, err)
		}
		if _, ok := options[kind]; !ok {
			add(kind, defaults)
		}
	}
	for i, d := range cfg.Datasets.Kinds {
		kind, err := core.ParseDatasetKind(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("datasets.kinds[%d]: %w", i, err)
		}
		opts := options[kind]
		if _, ok := options[kind]; !ok {
			opts = defaults
		}
		if d.QueueSize > 0 {
			opts.QueueSize = d.QueueSize
		}
		switch d.Policy {
		case config.PolicyBlocking:
			opts.Policy = dataset.BlockingPolicy(d.Timeout)
		case config.PolicyLossy:
			opts.Policy = dataset.Lossy
		}
		add(kind, opts)
	}

	handles := make([]dataset.Dataset, 0, len(order))
	for _, kind := range order {
		ds, err := dataset.New(kind, options[kind])
		if err != nil {
			return nil, err
		}
		handles = append(handles, ds)
		sugar.Debugw("Dataset configured", "kind", kind.String(), "policy", options[kind].Policy.String())
	}
	return dataset.NewRegistry(sugar, handles...)
}

// FeedSources converts configured sources
func FeedSources(cfg *config.Config) ([]feeds.Source, error) {
	sources := make([]feeds.Source, 0, len(cfg.Datasets.Sources))
	for i, s := range cfg.Datasets.Sources {
		kind, err := core.ParseDatasetKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("datasets.sources[%d]: %w", i, err)
		}
		sources = append(sources, feeds.Source{
			Kind:       kind,
			Path:       s.Path,
			URL:        s.URL,
			Headers:    s.Headers,
			Delimiter:  s.Delim(),
			SkipHeader: s.SkipHeader,
			Schedule:   s.Schedule,
		})
	}
	return sources, nil
}
