package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"argus/core"
	"argus/correlation"
	"argus/dataset"
	"argus/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// KeySeparator joins the key field values of a correlation key
const KeySeparator = "|"

// Engine evaluates the rules of the catalog against events
type Engine struct {
	registry *dataset.Registry
	store    correlation.Store
	logger   *zap.SugaredLogger
	clock    func() time.Time
	language core.Language
	renderer *AlertRenderer

	warnMissing rate.Sometimes
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithClock replaces time.Now as the source of evaluation instants
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLanguage sets the language used to translate alert titles through the
// I18n dataset
func WithLanguage(lang core.Language) EngineOption {
	return func(e *Engine) {
		e.language = core.Language(strings.ToUpper(string(lang)))
	}
}

// NewEngine creates an engine over registry. store may be nil when no rule
// is stateful.
func NewEngine(registry *dataset.Registry, store correlation.Store, logger *zap.SugaredLogger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	e := &Engine{
		registry:    registry,
		store:       store,
		logger:      logger,
		clock:       time.Now,
		language:    core.LanguageEnglish,
		renderer:    NewAlertRenderer(),
		warnMissing: rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RuleError is the failure of one rule on one event. Progress holds the
// observations already recorded; pass it to ResumeRule to evaluate the rule
// again without counting the event twice.
type RuleError struct {
	Rule     *core.SiemRule
	Err      error
	Progress *RuleProgress
}

// RuleProgress is the state of one rule evaluation on one event: the
// evaluation instant and the live count returned by every stateful subrule
// whose observation was recorded.
type RuleProgress struct {
	now      time.Time
	observed map[string]int
}

// Observed returns the recorded count of a stateful subrule
func (p *RuleProgress) Observed(subrule string) (int, bool) {
	if p == nil {
		return 0, false
	}
	n, ok := p.observed[subrule]
	return n, ok
}

// Error implements error
func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule.ID, e.Err)
}

// Unwrap returns the store error
func (e *RuleError) Unwrap() error {
	return e.Err
}

// EvaluationError lists the rules whose evaluation failed on one event. Only
// correlation store failures end up here; every entry is a *RuleError.
type EvaluationError struct {
	EventID string
	Errors  []error
}

// Failed returns the rules that did not evaluate
func (e *EvaluationError) Failed() []*core.SiemRule {
	rules := make([]*core.SiemRule, 0, len(e.Errors))
	for _, err := range e.Errors {
		var re *RuleError
		if errors.As(err, &re) {
			rules = append(rules, re.Rule)
		}
	}
	return rules
}

// Error implements error
func (e *EvaluationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("event %s: %d rule(s) failed: %s", e.EventID, len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the per-rule errors to errors.Is and errors.As
func (e *EvaluationError) Unwrap() []error {
	return e.Errors
}

// Rules returns the enabled rules of the current catalog snapshot
func (e *Engine) Rules() []*core.SiemRule {
	catalog, err := dataset.GetSnapshot[dataset.RuleCatalog](e.registry, core.KindRules)
	if err != nil {
		return nil
	}
	return catalog.Enabled()
}

// Evaluate runs every enabled rule of the catalog snapshot captured when the
// call starts. Alerts of rules that evaluated cleanly are returned even when
// other rules failed.
func (e *Engine) Evaluate(ctx context.Context, event *core.Event) ([]*core.SiemAlert, error) {
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.EventsEvaluated.Inc()

	if event == nil {
		return nil, nil
	}

	var (
		alerts []*core.SiemAlert
		failed []error
	)
	for _, rule := range e.Rules() {
		fired, err := e.EvaluateRule(ctx, rule, event)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		alerts = append(alerts, fired...)
	}

	if len(failed) > 0 {
		return alerts, &EvaluationError{EventID: event.EventID, Errors: failed}
	}
	return alerts, nil
}

// EvaluateRule runs every subrule of rule against event and renders one alert
// per satisfied clause of the rule's conditions. Errors are *RuleError.
func (e *Engine) EvaluateRule(ctx context.Context, rule *core.SiemRule, event *core.Event) ([]*core.SiemAlert, error) {
	return e.ResumeRule(ctx, rule, event, nil)
}

// ResumeRule evaluates rule again after a failed attempt described by
// progress. Subrules already observed reuse their recorded count and the
// evaluation keeps the instant of the first attempt. A nil progress starts a
// fresh evaluation.
func (e *Engine) ResumeRule(ctx context.Context, rule *core.SiemRule, event *core.Event, progress *RuleProgress) ([]*core.SiemAlert, error) {
	if rule == nil || event == nil {
		return nil, nil
	}
	start := time.Now()
	defer func() {
		metrics.RuleEvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	if progress == nil {
		progress = &RuleProgress{now: e.clock()}
	}
	if progress.observed == nil {
		progress.observed = make(map[string]int)
	}
	now := progress.now
	ev := NewEvaluator(e.registry.Subset(rule.NeededDatasets...), e.store, now)
	ev.onMissing = func(kind core.DatasetKind) {
		e.warnMissing.Do(func() {
			e.logger.Warnw("Dataset unavailable during evaluation, condition treated as no match",
				"rule_id", rule.ID, "kind", kind.String())
		})
	}

	matched := make(map[string]bool, len(rule.Subrules))
	counts := make(map[string]int)
	for _, name := range rule.SubruleNames() {
		ok, count, err := e.evaluateSubrule(ctx, ev, rule, name, event, progress)
		if err != nil {
			reason := "store"
			if errors.Is(err, core.ErrStoreContention) {
				reason = "contention"
			}
			metrics.EvaluationFailures.WithLabelValues(reason).Inc()
			return nil, &RuleError{Rule: rule, Err: fmt.Errorf("subrule %s: %w", name, err), Progress: progress}
		}
		if ok {
			matched[name] = true
		}
		if count > 0 {
			counts[name] = count
		}
	}

	clauses := FiringClauses(rule.Conditions, matched)
	if len(clauses) == 0 {
		return nil, nil
	}

	i18n := e.titles()
	alerts := make([]*core.SiemAlert, 0, len(clauses))
	for _, clause := range clauses {
		alert := e.renderer.Render(rule, event, clause, counts, now)
		if i18n != nil {
			if title, ok := translateTitle(i18n, rule.ID, e.language); ok {
				alert.Title = title
			}
		}
		metrics.RecordRuleFiring(rule.ID, alert.Severity.String())
		metrics.AlertsGenerated.WithLabelValues(alert.Severity.String()).Inc()
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// evaluateSubrule ANDs the subrule's conditions. A stateful subrule whose
// conditions hold records one observation and matches once the threshold is
// reached; the returned count is the live observation count. A subrule
// already observed in progress is not observed again.
func (e *Engine) evaluateSubrule(ctx context.Context, ev *Evaluator, rule *core.SiemRule, name string, event *core.Event, progress *RuleProgress) (bool, int, error) {
	sub := rule.Subrules[name]
	for _, cond := range sub.Conditions {
		ok, err := ev.Eval(ctx, cond.Operator, event, cond.Field)
		if err != nil {
			return false, 0, err
		}
		if !ok {
			return false, 0, nil
		}
	}
	if sub.State == nil {
		return true, 0, nil
	}
	if e.store == nil {
		return false, 0, fmt.Errorf("stateful subrule without a correlation store")
	}

	if count, ok := progress.observed[name]; ok {
		return count >= sub.State.Threshold, count, nil
	}
	family := sub.State.Family(rule.ID, name)
	key := CorrelationKey(event, sub.State.KeyFields)
	count, err := e.store.Observe(ctx, family, key, progress.now, sub.State.Window)
	if err != nil {
		return false, 0, err
	}
	progress.observed[name] = count
	return count >= sub.State.Threshold, count, nil
}

// CorrelationKey joins the text form of fields on event. Absent fields
// contribute an empty segment.
func CorrelationKey(event *core.Event, fields []string) string {
	parts := make([]string, len(fields))
	for i, field := range fields {
		if v, ok := event.Get(field); ok {
			parts[i] = core.TextOf(v)
		}
	}
	return strings.Join(parts, KeySeparator)
}

// FiringClauses returns the clauses whose every subrule is in matched, in
// declaration order. An empty clause never fires.
func FiringClauses(conditions [][]string, matched map[string]bool) [][]string {
	var firing [][]string
	for _, clause := range conditions {
		if len(clause) == 0 {
			continue
		}
		all := true
		for _, name := range clause {
			if !matched[name] {
				all = false
				break
			}
		}
		if all {
			firing = append(firing, clause)
		}
	}
	return firing
}

func (e *Engine) titles() *dataset.I18n {
	if !e.registry.Has(core.KindI18n) {
		return nil
	}
	i18n, err := dataset.GetSnapshot[dataset.I18n](e.registry, core.KindI18n)
	if err != nil {
		return nil
	}
	return i18n
}
