package bootstrap

import (
	"fmt"

	"argus/config"
	"argus/core"
	"argus/correlation"
	"argus/dataset"
	"argus/detect"
	"argus/sigma"
	"argus/util"

	"go.uber.org/zap"
)

// NewRegexCompiler builds the regex compiler shared by rule loading and SIGMA
// translation
func NewRegexCompiler(cfg *config.Config) *util.RegexCompiler {
	return util.NewRegexCompiler(cfg.Engine.RegexTimeout, cfg.Engine.RegexMaxLength)
}

// NewSigmaConverter builds a converter from the rules.sigma section
func NewSigmaConverter(cfg *config.Config, compiler *util.RegexCompiler) *sigma.Converter {
	return sigma.NewConverter(sigma.ConverterOptions{
		FieldMap:        cfg.Rules.Sigma.FieldMap,
		KeywordField:    cfg.Rules.Sigma.KeywordField,
		CaseInsensitive: cfg.Rules.Sigma.CaseInsensitive,
		Compiler:        compiler,
	})
}

// LoadRules loads native rule documents and SIGMA rules from the configured
// directories. Rules that fail to load are reported and left out; an id
// defined in both places keeps the native rule.
func LoadRules(cfg *config.Config, compiler *util.RegexCompiler, sugar *zap.SugaredLogger) ([]*core.SiemRule, []error) {
	var (
		rules []*core.SiemRule
		errs  []error
	)
	seen := make(map[string]bool)
	keep := func(source string, loaded []*core.SiemRule) {
		for _, r := range loaded {
			if seen[r.ID] {
				errs = append(errs, core.NewConfigurationError(r.ID, "id", "duplicate rule id in "+source, nil))
				continue
			}
			seen[r.ID] = true
			rules = append(rules, r)
		}
	}

	if dir := cfg.Rules.NativeDir; dir != "" {
		loader, err := detect.NewRuleLoader(compiler, sugar)
		if err != nil {
			return nil, []error{err}
		}
		loaded, loadErrs := loader.LoadDirectory(dir)
		errs = append(errs, loadErrs...)
		keep(dir, loaded)
		sugar.Infow("Native rules loaded", "dir", dir, "rules", len(loaded), "errors", len(loadErrs))
	}

	if dir := cfg.Rules.SigmaDir; dir != "" {
		parsed, parseErrs := sigma.NewParser().ParseDirectory(dir)
		errs = append(errs, parseErrs...)
		converted, convErrs := NewSigmaConverter(cfg, compiler).ConvertBatch(parsed)
		errs = append(errs, convErrs...)
		keep(dir, converted)
		sugar.Infow("SIGMA rules loaded", "dir", dir, "rules", len(converted),
			"errors", len(parseErrs)+len(convErrs))
	}

	for _, err := range errs {
		sugar.Warnw("Rule skipped", "error", err)
	}
	return rules, errs
}

// PublishRules replaces the rule catalog snapshot
func PublishRules(registry *dataset.Registry, rules []*core.SiemRule) error {
	if err := dataset.Publish(registry, core.KindRules, dataset.NewRuleCatalog(rules...)); err != nil {
		return fmt.Errorf("failed to publish rule catalog: %w", err)
	}
	return nil
}

// InitEngine builds the evaluation engine over registry and store
func InitEngine(cfg *config.Config, registry *dataset.Registry, store correlation.Store, sugar *zap.SugaredLogger) (*detect.Engine, error) {
	lang, err := core.ParseLanguage(cfg.Engine.Language)
	if err != nil {
		return nil, err
	}
	return detect.NewEngine(registry, store, sugar, detect.WithLanguage(lang)), nil
}

// InitDetector builds the worker pool reading events and writing alerts
func InitDetector(cfg *config.Config, engine *detect.Engine, events <-chan *core.Event, alerts chan<- *core.SiemAlert, sugar *zap.SugaredLogger) (*detect.Detector, error) {
	detector, err := detect.NewDetector(engine, events, alerts, detect.DetectorOptions{
		Workers:      cfg.Engine.Workers,
		MaxRetries:   cfg.Engine.MaxRetries,
		RetryBackoff: cfg.Engine.RetryBackoff,
	}, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	return detector, nil
}
