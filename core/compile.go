package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"argus/util"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator.Validate caches struct metadata and is safe for concurrent use
var validate = validator.New()

// CompileRule validates a rule definition and prepares it for evaluation:
// regular expressions are compiled with a match timeout, country codes are
// normalized and NeededDatasets is extended with every dataset the operator
// trees reference. The input rule is not modified.
//
// Any problem is reported as a *ConfigurationError; a rule that fails to
// compile must not be evaluated.
func CompileRule(rule *SiemRule, compiler *util.RegexCompiler) (*SiemRule, error) {
	if rule == nil {
		return nil, NewConfigurationError("", "", "rule is nil", nil)
	}
	if compiler == nil {
		compiler = util.NewRegexCompiler(util.DefaultRegexTimeout, util.MaxRegexLength)
	}

	out := rule.Clone()
	out.ID = strings.TrimSpace(out.ID)

	if err := validate.Struct(out); err != nil {
		return nil, NewConfigurationError(rule.ID, "", "invalid rule definition", flattenValidation(err))
	}

	if out.Alert.Severity == "" {
		out.Alert.Severity = SeverityMedium
	}
	if !out.Alert.Severity.IsValid() {
		return nil, NewConfigurationError(out.ID, "alert.severity", fmt.Sprintf("unknown severity %q", out.Alert.Severity), nil)
	}

	kinds := make(map[DatasetKind]struct{}, len(out.NeededDatasets))
	for i, kind := range out.NeededDatasets {
		if !kind.Type.IsValid() {
			return nil, NewConfigurationError(out.ID, fmt.Sprintf("needed_datasets[%d]", i), "unknown dataset type", nil)
		}
		kinds[kind] = struct{}{}
	}

	for name, sub := range out.Subrules {
		if name == "" {
			return nil, NewConfigurationError(out.ID, "subrules", "subrule name cannot be empty", nil)
		}
		if len(sub.Conditions) == 0 && sub.State == nil {
			return nil, NewConfigurationError(out.ID, "subrules."+name, "subrule has no conditions", nil)
		}
		for i, cond := range sub.Conditions {
			path := fmt.Sprintf("subrules.%s.conditions[%d]", name, i)
			if strings.TrimSpace(cond.Field) == "" {
				return nil, NewConfigurationError(out.ID, path, "condition field cannot be empty", nil)
			}
			op, err := compileOperator(cond.Operator, compiler, kinds, 0)
			if err != nil {
				return nil, NewConfigurationError(out.ID, path, "invalid operator", err)
			}
			sub.Conditions[i].Operator = op
		}
		if sub.State != nil {
			if err := validate.Struct(sub.State); err != nil {
				return nil, NewConfigurationError(out.ID, "subrules."+name+".state", "invalid correlation state", flattenValidation(err))
			}
		}
		out.Subrules[name] = sub
	}

	for i, clause := range out.Conditions {
		for _, name := range clause {
			if _, ok := out.Subrules[name]; !ok {
				return nil, NewConfigurationError(out.ID, fmt.Sprintf("conditions[%d]", i),
					fmt.Sprintf("clause references unknown subrule %q", name), nil)
			}
		}
	}

	if agg := out.Alert.Aggregation; agg != nil && agg.Window <= 0 {
		return nil, NewConfigurationError(out.ID, "alert.aggregation.window", "aggregation window must be positive", nil)
	}
	for i, content := range out.Alert.Content {
		if content.Type == ContentField && strings.TrimSpace(content.Value) == "" {
			return nil, NewConfigurationError(out.ID, fmt.Sprintf("alert.content[%d]", i), "field reference cannot be empty", nil)
		}
	}

	out.NeededDatasets = out.NeededDatasets[:0]
	for kind := range kinds {
		out.NeededDatasets = append(out.NeededDatasets, kind)
	}
	sort.Slice(out.NeededDatasets, func(i, j int) bool {
		return out.NeededDatasets[i].Compare(out.NeededDatasets[j]) < 0
	})

	return out, nil
}

// compileOperator returns a compiled copy of op and records referenced datasets
func compileOperator(op RuleOperator, compiler *util.RegexCompiler, kinds map[DatasetKind]struct{}, depth int) (RuleOperator, error) {
	if op == nil {
		return nil, errors.New("operator is missing")
	}
	if depth > MaxRuleNesting {
		return nil, fmt.Errorf("operator nesting exceeds %d levels", MaxRuleNesting)
	}

	switch o := op.(type) {
	case All:
		inner, err := compileOperators(o.Operators, compiler, kinds, depth)
		return All{Operators: inner}, err
	case Any:
		inner, err := compileOperators(o.Operators, compiler, kinds, depth)
		return Any{Operators: inner}, err
	case Not:
		inner, err := compileOperator(o.Operator, compiler, kinds, depth+1)
		return Not{Operator: inner}, err
	case B64:
		inner, err := compileOperator(o.Operator, compiler, kinds, depth+1)
		return B64{Operator: inner}, err
	case Matches:
		re, err := compiler.Compile(o.Pattern)
		if err != nil {
			return nil, fmt.Errorf("matches %q: %w", o.Pattern, err)
		}
		return Matches{Pattern: o.Pattern, Regex: re}, nil
	case SameNet:
		if !o.Network.IsValid() {
			return nil, errors.New("same_net requires a valid network address")
		}
		if o.Bits < 0 || o.Bits > o.Network.BitLen() {
			return nil, fmt.Errorf("same_net prefix length %d out of range for %s", o.Bits, o.Network)
		}
		return SameNet{Network: o.Network.Unmap(), Bits: o.Bits}, nil
	case InDataset:
		if !o.Kind.Type.IsValid() {
			return nil, fmt.Errorf("in_dataset references unknown dataset type %d", o.Kind.Type)
		}
		kinds[o.Kind] = struct{}{}
		return o, nil
	case InCountry:
		if len(o.Countries) == 0 {
			return nil, errors.New("in_country requires at least one country code")
		}
		codes := make([]string, len(o.Countries))
		for i, c := range o.Countries {
			codes[i] = strings.ToUpper(strings.TrimSpace(c))
		}
		kinds[KindGeoIP] = struct{}{}
		return InCountry{Countries: codes}, nil
	case ExistsRuleState:
		if len(o.States) == 0 {
			return nil, errors.New("exists_rule_state requires at least one state name")
		}
		return ExistsRuleState{States: append([]string(nil), o.States...)}, nil
	case Equals, GT, LT, GTE, LTE:
		return o, nil
	case StartsWith, EndsWith, Contains, IsLocalIP, IsExternalIP, Exists, IsNull:
		return o, nil
	}
	return nil, fmt.Errorf("unsupported operator %T", op)
}

func compileOperators(ops []RuleOperator, compiler *util.RegexCompiler, kinds map[DatasetKind]struct{}, depth int) ([]RuleOperator, error) {
	out := make([]RuleOperator, len(ops))
	for i, op := range ops {
		compiled, err := compileOperator(op, compiler, kinds, depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = compiled
	}
	return out, nil
}

// flattenValidation turns validator errors into a single readable error
func flattenValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
