package detect

import (
	"context"
	"errors"
	"strings"
	"time"

	"argus/core"
	"argus/correlation"
	"argus/dataset"
	"argus/metrics"
)

// Evaluator applies operator trees to one event. It sees only the datasets of
// its registry subset and reads correlation state through store.
//
// Evaluation never fails on bad input: type mismatches, missing fields and
// unavailable datasets resolve to false. The only errors returned come from
// the correlation store.
type Evaluator struct {
	datasets  *dataset.Registry
	store     correlation.Store
	now       time.Time
	onMissing func(kind core.DatasetKind)
}

// NewEvaluator creates an evaluator. store may be nil when no rule uses
// ExistsRuleState.
func NewEvaluator(datasets *dataset.Registry, store correlation.Store, now time.Time) *Evaluator {
	return &Evaluator{datasets: datasets, store: store, now: now}
}

// Eval resolves field on event and applies op to it
func (ev *Evaluator) Eval(ctx context.Context, op core.RuleOperator, event *core.Event, field string) (bool, error) {
	value, present := event.Get(field)
	return ev.EvalValue(ctx, op, value, present)
}

// EvalValue applies op to an already resolved value
func (ev *Evaluator) EvalValue(ctx context.Context, op core.RuleOperator, value interface{}, present bool) (bool, error) {
	if op == nil {
		return false, nil
	}
	if !present {
		return evalAbsent(op), nil
	}

	switch o := op.(type) {
	case core.All:
		for _, inner := range o.Operators {
			ok, err := ev.EvalValue(ctx, inner, value, true)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case core.Any:
		for _, inner := range o.Operators {
			ok, err := ev.EvalValue(ctx, inner, value, true)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case core.Not:
		ok, err := ev.EvalValue(ctx, o.Operator, value, true)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case core.Exists:
		return o.Present, nil
	case core.IsNull:
		return isNull(value), nil
	case core.B64:
		return ev.anyElement(value, func(elem interface{}) (bool, error) {
			decoded, err := decodeBase64(core.TextOf(elem))
			if err != nil {
				return false, nil
			}
			return ev.EvalValue(ctx, o.Operator, decoded, true)
		})
	case core.ExistsRuleState:
		return ev.anyElement(value, func(elem interface{}) (bool, error) {
			return ev.ruleStateExists(ctx, o.States, core.TextOf(elem))
		})
	}

	return ev.anyElement(value, func(elem interface{}) (bool, error) {
		return ev.leaf(op, elem), nil
	})
}

// anyElement succeeds when fn succeeds for any element of a multi-valued field
func (ev *Evaluator) anyElement(value interface{}, fn func(interface{}) (bool, error)) (bool, error) {
	for _, elem := range core.Elements(value) {
		ok, err := fn(elem)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// leaf evaluates the store-free leaf operators against one scalar
func (ev *Evaluator) leaf(op core.RuleOperator, elem interface{}) bool {
	switch o := op.(type) {
	case core.Equals:
		return valuesEqual(elem, o.Value)
	case core.StartsWith:
		return strings.HasPrefix(core.TextOf(elem), o.Value)
	case core.EndsWith:
		return strings.HasSuffix(core.TextOf(elem), o.Value)
	case core.Contains:
		return strings.Contains(core.TextOf(elem), o.Value)
	case core.GT:
		c, ok := compareValues(elem, o.Value)
		return ok && c > 0
	case core.GTE:
		c, ok := compareValues(elem, o.Value)
		return ok && c >= 0
	case core.LT:
		c, ok := compareValues(elem, o.Value)
		return ok && c < 0
	case core.LTE:
		c, ok := compareValues(elem, o.Value)
		return ok && c <= 0
	case core.Matches:
		return matchRegex(o, core.TextOf(elem))
	case core.SameNet:
		ip, ok := dataset.AddrOf(elem)
		if !ok || !o.Network.IsValid() || ip.Is4() != o.Network.Is4() {
			return false
		}
		prefix, err := o.Network.Prefix(o.Bits)
		return err == nil && prefix.Contains(ip)
	case core.IsLocalIP:
		ip, ok := dataset.AddrOf(elem)
		return ok && isLocalAddr(ip)
	case core.IsExternalIP:
		ip, ok := dataset.AddrOf(elem)
		return ok && !isLocalAddr(ip)
	case core.InDataset:
		matched, err := ev.datasets.Match(o.Kind, elem)
		if err != nil {
			ev.missing(o.Kind, err)
			return false
		}
		return matched
	case core.InCountry:
		return ev.inCountry(o, elem)
	}
	return false
}

func (ev *Evaluator) inCountry(o core.InCountry, elem interface{}) bool {
	geo, err := dataset.GetSnapshot[dataset.GeoIP](ev.datasets, core.KindGeoIP)
	if err != nil {
		ev.missing(core.KindGeoIP, err)
		return false
	}
	ip, ok := dataset.AddrOf(elem)
	if !ok {
		return false
	}
	info, found := geo.Lookup(ip)
	if !found {
		return false
	}
	for _, code := range o.Countries {
		if strings.EqualFold(code, info.CountryISO) {
			return true
		}
	}
	return false
}

func (ev *Evaluator) ruleStateExists(ctx context.Context, states []string, key string) (bool, error) {
	if ev.store == nil {
		return false, nil
	}
	for _, family := range states {
		n, err := ev.store.Count(ctx, family, key, ev.now)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (ev *Evaluator) missing(kind core.DatasetKind, err error) {
	if !errors.Is(err, core.ErrDatasetUnavailable) && !errors.Is(err, core.ErrDatasetTypeMismatch) {
		return
	}
	metrics.DatasetUnavailableTotal.WithLabelValues(kind.String()).Inc()
	if ev.onMissing != nil {
		ev.onMissing(kind)
	}
}

// matchRegex runs a compiled pattern; a timeout or an uncompiled pattern is a miss
func matchRegex(o core.Matches, text string) bool {
	if o.Regex == nil {
		return false
	}
	ok, err := o.Regex.MatchString(text)
	if err != nil {
		metrics.RegexTimeoutsTotal.Inc()
		return false
	}
	return ok
}

// evalAbsent evaluates op for a field the event does not carry. Only
// presence operators, and combinators built solely from them, can succeed.
func evalAbsent(op core.RuleOperator) bool {
	switch o := op.(type) {
	case core.Exists:
		return !o.Present
	case core.IsNull:
		return true
	case core.Not:
		return presenceOnly(o.Operator) && !evalAbsent(o.Operator)
	case core.All:
		if len(o.Operators) == 0 {
			return false
		}
		for _, inner := range o.Operators {
			if !evalAbsent(inner) {
				return false
			}
		}
		return true
	case core.Any:
		for _, inner := range o.Operators {
			if evalAbsent(inner) {
				return true
			}
		}
	}
	return false
}

// presenceOnly reports whether every leaf of op is a presence operator
func presenceOnly(op core.RuleOperator) bool {
	only := true
	core.WalkOperator(op, func(node core.RuleOperator) bool {
		switch node.(type) {
		case core.All, core.Any, core.Not:
			return true
		}
		if !core.IsPresenceOperator(node) {
			only = false
		}
		return false
	})
	return only
}

func isNull(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []interface{}:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}
