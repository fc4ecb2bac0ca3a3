package detect

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed schema/rule.schema.json
var ruleSchemaJSON []byte

// RuleLoader reads native rule documents. A document holds either one rule
// or a list under "rules"; every rule is checked against the rule schema,
// decoded and compiled on its own so one broken rule never hides the others.
type RuleLoader struct {
	schema   *gojsonschema.Schema
	compiler *util.RegexCompiler
	logger   *zap.SugaredLogger
}

// NewRuleLoader creates a loader. A nil compiler uses the default regex limits.
func NewRuleLoader(compiler *util.RegexCompiler, logger *zap.SugaredLogger) (*RuleLoader, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if compiler == nil {
		compiler = util.NewRegexCompiler(util.DefaultRegexTimeout, util.MaxRegexLength)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(ruleSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to load rule schema: %w", err)
	}
	return &RuleLoader{schema: schema, compiler: compiler, logger: logger}, nil
}

// IsRuleFile reports whether path has a rule document extension
func IsRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadDirectory loads every rule document under dir. Rules that fail are
// reported in the returned errors and left out; a duplicate id keeps the
// first definition found in path order.
func (l *RuleLoader) LoadDirectory(dir string) ([]*core.SiemRule, []error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsRuleFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, []error{fmt.Errorf("failed to walk rule directory %s: %w", dir, err)}
	}
	sort.Strings(paths)

	var (
		rules []*core.SiemRule
		errs  []error
		seen  = make(map[string]string)
	)
	for _, path := range paths {
		loaded, fileErrs := l.LoadFile(path)
		errs = append(errs, fileErrs...)
		for _, rule := range loaded {
			if first, dup := seen[rule.ID]; dup {
				errs = append(errs, core.NewConfigurationError(rule.ID, "id",
					fmt.Sprintf("duplicate rule id in %s, already defined in %s", path, first), nil))
				continue
			}
			seen[rule.ID] = path
			rules = append(rules, rule)
		}
	}

	l.logger.Infow("Loaded native rules", "dir", dir, "files", len(paths), "rules", len(rules), "errors", len(errs))
	return rules, errs
}

// LoadFile loads the rules of one document
func (l *RuleLoader) LoadFile(path string) ([]*core.SiemRule, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		metrics.RuleLoadErrorsTotal.WithLabelValues("native").Inc()
		return nil, []error{fmt.Errorf("failed to read rule file: %w", err)}
	}
	rules, errs := l.Parse(data)
	for i, e := range errs {
		errs[i] = fmt.Errorf("%s: %w", path, e)
	}
	return rules, errs
}

// Parse decodes a YAML or JSON rule document
func (l *RuleLoader) Parse(data []byte) ([]*core.SiemRule, []error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		metrics.RuleLoadErrorsTotal.WithLabelValues("native").Inc()
		return nil, []error{core.NewConfigurationError("", "", "malformed rule document", err)}
	}
	raw = normalize(raw)

	var items []interface{}
	switch doc := raw.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		if list, ok := doc["rules"]; ok && len(doc) == 1 {
			items, ok = list.([]interface{})
			if !ok {
				return nil, []error{core.NewConfigurationError("", "rules", "rules must be a list", nil)}
			}
		} else {
			items = []interface{}{doc}
		}
	case []interface{}:
		items = doc
	default:
		return nil, []error{core.NewConfigurationError("", "", "rule document must be a mapping or a list", nil)}
	}

	var (
		rules []*core.SiemRule
		errs  []error
	)
	for i, item := range items {
		rule, err := l.parseRule(item)
		if err != nil {
			metrics.RuleLoadErrorsTotal.WithLabelValues("native").Inc()
			errs = append(errs, fmt.Errorf("rule #%d: %w", i, err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}

func (l *RuleLoader) parseRule(item interface{}) (*core.SiemRule, error) {
	id := ""
	if m, ok := item.(map[string]interface{}); ok {
		id, _ = m["id"].(string)
	}

	result, err := l.schema.Validate(gojsonschema.NewGoLoader(item))
	if err != nil {
		return nil, core.NewConfigurationError(id, "", "schema validation failed", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, core.NewConfigurationError(id, "", "schema validation failed", errors.New(strings.Join(msgs, "; ")))
	}

	// schema-valid documents are re-encoded so yaml does the struct decoding
	encoded, err := yaml.Marshal(item)
	if err != nil {
		return nil, core.NewConfigurationError(id, "", "failed to re-encode rule", err)
	}
	var doc ruleDoc
	if err := yaml.Unmarshal(encoded, &doc); err != nil {
		return nil, core.NewConfigurationError(id, "", "failed to decode rule", err)
	}

	rule, err := doc.toRule()
	if err != nil {
		return nil, err
	}
	return core.CompileRule(rule, l.compiler)
}

type ruleDoc struct {
	ID             string                `yaml:"id"`
	Name           string                `yaml:"name"`
	Description    string                `yaml:"description"`
	Enabled        *bool                 `yaml:"enabled"`
	Version        int                   `yaml:"version"`
	Mitre          core.MitreInfo        `yaml:"mitre"`
	NeededDatasets []string              `yaml:"needed_datasets"`
	Subrules       map[string]subruleDoc `yaml:"subrules"`
	Conditions     [][]string            `yaml:"conditions"`
	Alert          alertDoc              `yaml:"alert"`
}

type subruleDoc struct {
	Conditions []conditionDoc `yaml:"conditions"`
	State      *stateDoc      `yaml:"state"`
}

type conditionDoc struct {
	Field    string                 `yaml:"field"`
	Operator map[string]interface{} `yaml:"operator"`
}

type stateDoc struct {
	Name      string   `yaml:"name"`
	KeyFields []string `yaml:"key_fields"`
	Window    string   `yaml:"window"`
	Threshold int      `yaml:"threshold"`
}

type alertDoc struct {
	Severity    string          `yaml:"severity"`
	Tags        []string        `yaml:"tags"`
	Template    string          `yaml:"template"`
	Content     []contentDoc    `yaml:"content"`
	Aggregation *aggregationDoc `yaml:"aggregation"`
}

type contentDoc struct {
	Text         *string `yaml:"text"`
	Field        string  `yaml:"field"`
	MatchedRules bool    `yaml:"matched_rules"`
	StateCount   bool    `yaml:"state_count"`
}

type aggregationDoc struct {
	KeyFields []string `yaml:"key_fields"`
	Window    string   `yaml:"window"`
}

func (d *ruleDoc) toRule() (*core.SiemRule, error) {
	rule := &core.SiemRule{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Enabled:     d.Enabled == nil || *d.Enabled,
		Version:     d.Version,
		Mitre:       d.Mitre,
		Subrules:    make(map[string]core.SiemSubRule, len(d.Subrules)),
		Conditions:  d.Conditions,
		UpdatedAt:   time.Now().UTC(),
	}

	for i, s := range d.NeededDatasets {
		kind, err := core.ParseDatasetKind(s)
		if err != nil {
			return nil, core.NewConfigurationError(d.ID, fmt.Sprintf("needed_datasets[%d]", i), "invalid dataset kind", err)
		}
		rule.NeededDatasets = append(rule.NeededDatasets, kind)
	}

	for name, sd := range d.Subrules {
		sub := core.SiemSubRule{}
		for i, cd := range sd.Conditions {
			path := fmt.Sprintf("subrules.%s.conditions[%d]", name, i)
			op, err := ParseOperator(cd.Operator)
			if err != nil {
				return nil, core.NewConfigurationError(d.ID, path, "invalid operator", err)
			}
			sub.Conditions = append(sub.Conditions, core.RuleCondition{Field: cd.Field, Operator: op})
		}
		if sd.State != nil {
			window, err := time.ParseDuration(sd.State.Window)
			if err != nil {
				return nil, core.NewConfigurationError(d.ID, "subrules."+name+".state.window", "invalid duration", err)
			}
			sub.State = &core.RuleState{
				Name:      sd.State.Name,
				KeyFields: sd.State.KeyFields,
				Window:    window,
				Threshold: sd.State.Threshold,
			}
		}
		rule.Subrules[name] = sub
	}

	// without explicit conditions every subrule must match
	if len(rule.Conditions) == 0 && len(rule.Subrules) > 0 {
		rule.Conditions = [][]string{rule.SubruleNames()}
	}

	alert, err := d.Alert.toGenerator(d.ID)
	if err != nil {
		return nil, err
	}
	rule.Alert = alert
	return rule, nil
}

func (a *alertDoc) toGenerator(ruleID string) (core.AlertGenerator, error) {
	gen := core.AlertGenerator{
		Severity: core.Severity(a.Severity),
		Tags:     a.Tags,
	}
	if a.Template != "" {
		gen.Content = core.ParseTemplate(a.Template)
	}
	for _, c := range a.Content {
		switch {
		case c.Text != nil:
			gen.Content = append(gen.Content, core.Text(*c.Text))
		case c.Field != "":
			gen.Content = append(gen.Content, core.Field(c.Field))
		case c.MatchedRules:
			gen.Content = append(gen.Content, core.MatchedRules())
		case c.StateCount:
			gen.Content = append(gen.Content, core.StateCount())
		}
	}
	if a.Aggregation != nil {
		window, err := time.ParseDuration(a.Aggregation.Window)
		if err != nil {
			return gen, core.NewConfigurationError(ruleID, "alert.aggregation.window", "invalid duration", err)
		}
		gen.Aggregation = &core.AlertAggregation{KeyFields: a.Aggregation.KeyFields, Window: window}
	}
	return gen, nil
}

// ParseOperator builds an operator tree from its document form, a mapping
// with exactly one operator name as key
func ParseOperator(doc map[string]interface{}) (core.RuleOperator, error) {
	if len(doc) != 1 {
		return nil, fmt.Errorf("operator must have exactly one key, got %d", len(doc))
	}
	for name, arg := range doc {
		return parseOperatorArg(name, arg)
	}
	return nil, nil
}

func parseOperatorArg(name string, arg interface{}) (core.RuleOperator, error) {
	switch name {
	case "all", "any":
		list, ok := arg.([]interface{})
		if !ok && arg != nil {
			return nil, fmt.Errorf("%s expects a list of operators", name)
		}
		ops := make([]core.RuleOperator, 0, len(list))
		for i, item := range list {
			op, err := parseNested(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
			}
			ops = append(ops, op)
		}
		if name == "all" {
			return core.All{Operators: ops}, nil
		}
		return core.Any{Operators: ops}, nil
	case "not", "b64":
		inner, err := parseNested(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if name == "not" {
			return core.Not{Operator: inner}, nil
		}
		return core.B64{Operator: inner}, nil
	case "equals":
		return core.Equals{Value: arg}, nil
	case "gt":
		return core.GT{Value: arg}, nil
	case "lt":
		return core.LT{Value: arg}, nil
	case "gte":
		return core.GTE{Value: arg}, nil
	case "lte":
		return core.LTE{Value: arg}, nil
	case "starts_with", "ends_with", "contains", "matches":
		s, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("%s expects a string", name)
		}
		switch name {
		case "starts_with":
			return core.StartsWith{Value: s}, nil
		case "ends_with":
			return core.EndsWith{Value: s}, nil
		case "contains":
			return core.Contains{Value: s}, nil
		}
		return core.Matches{Pattern: s}, nil
	case "same_net":
		s, _ := arg.(string)
		return ParseSameNet(s)
	case "is_local_ip":
		return core.IsLocalIP{}, nil
	case "is_external_ip":
		return core.IsExternalIP{}, nil
	case "is_null":
		return core.IsNull{}, nil
	case "exists":
		present, ok := arg.(bool)
		if !ok {
			return nil, fmt.Errorf("exists expects a boolean")
		}
		return core.Exists{Present: present}, nil
	case "in_dataset":
		s, _ := arg.(string)
		kind, err := core.ParseDatasetKind(s)
		if err != nil {
			return nil, fmt.Errorf("in_dataset: %w", err)
		}
		return core.InDataset{Kind: kind}, nil
	case "exists_rule_state":
		states, err := stringList(arg)
		if err != nil {
			return nil, fmt.Errorf("exists_rule_state: %w", err)
		}
		return core.ExistsRuleState{States: states}, nil
	case "in_country":
		codes, err := stringList(arg)
		if err != nil {
			return nil, fmt.Errorf("in_country: %w", err)
		}
		return core.InCountry{Countries: codes}, nil
	}
	return nil, fmt.Errorf("unknown operator %q", name)
}

func parseNested(v interface{}) (core.RuleOperator, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an operator mapping")
	}
	return ParseOperator(m)
}

// ParseSameNet parses "ip/bits" or a bare address (full-length prefix)
func ParseSameNet(s string) (core.SameNet, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return core.SameNet{}, fmt.Errorf("same_net: %w", err)
		}
		return core.SameNet{Network: prefix.Addr(), Bits: prefix.Bits()}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return core.SameNet{}, fmt.Errorf("same_net: %w", err)
	}
	return core.SameNet{Network: addr, Bits: addr.BitLen()}, nil
}

func stringList(v interface{}) ([]string, error) {
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a string or a list of strings")
}

// normalize converts yaml mappings with non-string keys into string-keyed
// maps so the document can be checked against the JSON schema
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = normalize(item)
		}
		return val
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = normalize(item)
		}
		return val
	}
	return v
}
