package sigma

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"argus/core"
	"argus/util"
)

const (
	conditionKey = "condition"
	timeframeKey = "timeframe"

	// DefaultKeywordField receives keyword-list searches
	DefaultKeywordField = "message"
)

// ConverterOptions tunes the translation of SIGMA rules
type ConverterOptions struct {
	// FieldMap renames SIGMA field names to event paths
	FieldMap map[string]string
	// KeywordField is the event path searched by keyword lists
	KeywordField string
	// CaseInsensitive renders text comparisons as case-insensitive regexes
	CaseInsensitive bool
	// Compiler compiles regular expressions; nil uses the defaults
	Compiler *util.RegexCompiler
}

// Converter translates SIGMA rules into SiemRules
type Converter struct {
	opts    ConverterOptions
	builder valueBuilder
}

// NewConverter creates a new SIGMA to SiemRule converter
func NewConverter(opts ConverterOptions) *Converter {
	if opts.KeywordField == "" {
		opts.KeywordField = DefaultKeywordField
	}
	if opts.Compiler == nil {
		opts.Compiler = util.NewRegexCompiler(util.DefaultRegexTimeout, util.MaxRegexLength)
	}
	return &Converter{opts: opts, builder: valueBuilder{caseInsensitive: opts.CaseInsensitive}}
}

// ConvertBatch converts multiple SIGMA rules; failures are returned per rule
func (c *Converter) ConvertBatch(sigmaRules []*SigmaRule) ([]*core.SiemRule, []error) {
	var (
		rules []*core.SiemRule
		errs  []error
	)
	for _, sr := range sigmaRules {
		rule, err := c.Convert(sr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}

// Convert translates a SIGMA rule into a compiled SiemRule. Each detection
// block becomes one subrule, or one subrule per alternative when the block
// is a list of field maps, and the condition expression becomes the DNF
// over those subrules.
func (c *Converter) Convert(sr *SigmaRule) (*core.SiemRule, error) {
	if sr == nil {
		return nil, core.NewConfigurationError("", "", "sigma rule is nil", nil)
	}
	if err := sr.Validate(); err != nil {
		return nil, core.NewConfigurationError(sr.ID, "", "invalid sigma rule", err)
	}

	subrules := make(map[string]core.SiemSubRule)
	blocks := make(map[string][][]string)
	for _, name := range sr.Blocks() {
		alternatives, err := c.convertBlock(name, sr.Detection[name])
		if err != nil {
			return nil, core.NewConfigurationError(sr.ID, "detection."+name, "invalid detection block", err)
		}
		clauses := make([][]string, 0, len(alternatives))
		for subName, sub := range alternatives {
			subrules[subName] = sub
			clauses = append(clauses, []string{subName})
		}
		sort.Slice(clauses, func(i, j int) bool { return clauses[i][0] < clauses[j][0] })
		blocks[name] = clauses
	}

	conditions, err := c.convertCondition(sr.Detection[conditionKey], blocks)
	if err != nil {
		return nil, core.NewConfigurationError(sr.ID, "detection.condition", "invalid condition", err)
	}

	// only subrules the condition references are evaluated
	used := make(map[string]core.SiemSubRule)
	for _, clause := range conditions {
		for _, name := range clause {
			used[name] = subrules[name]
		}
	}

	tactics, techniques := extractMITRETags(sr.Tags)
	rule := &core.SiemRule{
		ID:          sr.ID,
		Name:        sr.Title,
		Description: sr.Description,
		Enabled:     sr.Status != "deprecated" && sr.Status != "unsupported",
		Mitre:       core.MitreInfo{Tactics: tactics, Techniques: techniques},
		Subrules:    used,
		Conditions:  conditions,
		Alert: core.AlertGenerator{
			Content:  alertContent(sr),
			Severity: mapSeverity(sr.Level),
			Tags:     append([]string(nil), sr.Tags...),
		},
		Version: 1,
	}

	return core.CompileRule(rule, c.opts.Compiler)
}

// convertBlock returns the subrules a detection block expands to
func (c *Converter) convertBlock(name string, block interface{}) (map[string]core.SiemSubRule, error) {
	switch b := block.(type) {
	case map[string]interface{}:
		conds, err := c.builder.mapConditions(b, c.opts.FieldMap)
		if err != nil {
			return nil, err
		}
		if len(conds) == 0 {
			return nil, fmt.Errorf("block is empty")
		}
		return map[string]core.SiemSubRule{name: {Conditions: conds}}, nil

	case []interface{}:
		if len(b) == 0 {
			return nil, fmt.Errorf("block is empty")
		}
		out := make(map[string]core.SiemSubRule)
		var keywords []interface{}
		for i, item := range b {
			m, ok := item.(map[string]interface{})
			if !ok {
				keywords = append(keywords, item)
				continue
			}
			conds, err := c.builder.mapConditions(m, c.opts.FieldMap)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			if len(conds) == 0 {
				return nil, fmt.Errorf("item %d is empty", i)
			}
			out[fmt.Sprintf("%s.%d", name, i)] = core.SiemSubRule{Conditions: conds}
		}
		if len(keywords) > 0 {
			cond, err := c.builder.keywordCondition(c.opts.KeywordField, keywords)
			if err != nil {
				return nil, err
			}
			subName := name
			if len(out) > 0 {
				subName = name + ".keywords"
			}
			out[subName] = core.SiemSubRule{Conditions: []core.RuleCondition{cond}}
		} else if len(out) == 1 {
			// a single-item list is the plain map form
			for _, sub := range out {
				return map[string]core.SiemSubRule{name: sub}, nil
			}
		}
		return out, nil

	case string:
		cond, err := c.builder.keywordCondition(c.opts.KeywordField, []interface{}{b})
		if err != nil {
			return nil, err
		}
		return map[string]core.SiemSubRule{name: {Conditions: []core.RuleCondition{cond}}}, nil

	default:
		return nil, fmt.Errorf("unsupported block type %T", block)
	}
}

// convertCondition accepts a single expression or a list of expressions,
// the latter meaning any of them
func (c *Converter) convertCondition(raw interface{}, blocks map[string][][]string) ([][]string, error) {
	var exprs []string
	switch v := raw.(type) {
	case string:
		exprs = []string{v}
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("condition list items must be strings, got %T", item)
			}
			exprs = append(exprs, s)
		}
	default:
		return nil, fmt.Errorf("condition must be a string or list, got %T", raw)
	}
	if len(exprs) == 0 {
		return nil, fmt.Errorf("condition is empty")
	}

	var result dnf
	for _, expr := range exprs {
		d, err := ParseCondition(expr, blocks)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", expr, err)
		}
		if result, err = result.or(d); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// alertContent lexes the description as an alert template; rules without a
// description render their title
func alertContent(sr *SigmaRule) []core.AlertContent {
	if strings.TrimSpace(sr.Description) == "" {
		return []core.AlertContent{core.Text(sr.Title)}
	}
	return core.ParseTemplate(strings.TrimSpace(sr.Description))
}

// mapSeverity maps SIGMA levels onto alert severities
func mapSeverity(level string) core.Severity {
	return core.ParseSeverity(level)
}

var (
	techniqueTag = regexp.MustCompile(`^t\d{4}(\.\d{3})?$`)
	// groups and software ids are neither tactics nor techniques
	entityTag = regexp.MustCompile(`^[gs]\d{4}$`)
)

// extractMITRETags extracts ATT&CK tactics and techniques from rule tags:
// "attack.t1059.001" is technique T1059.001 and "attack.credential_access"
// is tactic credential-access
func extractMITRETags(tags []string) (tactics, techniques []string) {
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		rest, ok := strings.CutPrefix(tag, "attack.")
		if !ok || rest == "" {
			continue
		}
		switch {
		case techniqueTag.MatchString(rest):
			techniques = append(techniques, strings.ToUpper(rest))
		case entityTag.MatchString(rest):
		default:
			tactics = append(tactics, strings.ReplaceAll(rest, "_", "-"))
		}
	}
	return tactics, techniques
}
