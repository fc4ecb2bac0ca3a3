package sigma

import (
	"fmt"
	"net/netip"
	"regexp"
	"sort"
	"strings"

	"argus/core"
)

// Supported field modifiers
const (
	modContains   = "contains"
	modStartsWith = "startswith"
	modEndsWith   = "endswith"
	modRe         = "re"
	modBase64     = "base64"
	modBase64Off  = "base64offset"
	modCIDR       = "cidr"
	modGT         = "gt"
	modGTE        = "gte"
	modLT         = "lt"
	modLTE        = "lte"
	modExists     = "exists"
	modAll        = "all"
)

// fieldSpec is a parsed "field|mod1|mod2" detection key
type fieldSpec struct {
	field  string
	match  string
	base64 bool
	all    bool
}

func parseFieldKey(key string) (fieldSpec, error) {
	parts := strings.Split(key, "|")
	spec := fieldSpec{field: strings.TrimSpace(parts[0])}
	if spec.field == "" {
		return spec, fmt.Errorf("empty field name in %q", key)
	}

	for _, mod := range parts[1:] {
		switch mod = strings.ToLower(strings.TrimSpace(mod)); mod {
		case modBase64, modBase64Off:
			spec.base64 = true
		case modAll:
			spec.all = true
		case modContains, modStartsWith, modEndsWith, modRe, modCIDR, modGT, modGTE, modLT, modLTE, modExists:
			if spec.match != "" {
				return spec, fmt.Errorf("conflicting modifiers %q and %q", spec.match, mod)
			}
			spec.match = mod
		default:
			return spec, fmt.Errorf("unsupported modifier %q", mod)
		}
	}
	if spec.base64 && spec.match != "" && spec.match != modContains && spec.match != modStartsWith && spec.match != modEndsWith {
		return spec, fmt.Errorf("base64 cannot be combined with %q", spec.match)
	}
	return spec, nil
}

// globPart is one piece of a SIGMA wildcard value
type globPart struct {
	literal string
	star    bool
	single  bool
}

// parseGlob splits a value on unescaped '*' and '?'. "\*", "\?" and "\\"
// are literal; any other backslash is kept as is.
func parseGlob(s string) []globPart {
	var (
		parts []globPart
		lit   strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, globPart{literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && (s[i+1] == '*' || s[i+1] == '?' || s[i+1] == '\\'):
			lit.WriteByte(s[i+1])
			i++
		case c == '*':
			flush()
			if len(parts) == 0 || !parts[len(parts)-1].star {
				parts = append(parts, globPart{star: true})
			}
		case c == '?':
			flush()
			parts = append(parts, globPart{single: true})
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return parts
}

// valueBuilder turns detection values into operators
type valueBuilder struct {
	caseInsensitive bool
}

// textOperator picks the cheapest operator for a wildcard value: plain
// values compare exactly, a leading and/or trailing '*' selects
// Contains/StartsWith/EndsWith, and anything else becomes an anchored regex.
func (b valueBuilder) textOperator(parts []globPart) core.RuleOperator {
	leading := len(parts) > 0 && parts[0].star
	trailing := len(parts) > 1 && parts[len(parts)-1].star
	inner := parts
	if leading {
		inner = inner[1:]
	}
	if trailing {
		inner = inner[:len(inner)-1]
	}

	if len(inner) == 0 {
		if leading {
			return core.Exists{Present: true}
		}
		return b.exact("")
	}
	if len(inner) == 1 && inner[0].literal != "" {
		lit := inner[0].literal
		if b.caseInsensitive {
			return core.Matches{Pattern: globRegex(parts, true)}
		}
		switch {
		case leading && trailing:
			return core.Contains{Value: lit}
		case leading:
			return core.EndsWith{Value: lit}
		case trailing:
			return core.StartsWith{Value: lit}
		default:
			return core.Equals{Value: lit}
		}
	}
	return core.Matches{Pattern: globRegex(parts, b.caseInsensitive)}
}

func (b valueBuilder) exact(s string) core.RuleOperator {
	if b.caseInsensitive {
		return core.Matches{Pattern: "(?i)^" + regexp.QuoteMeta(s) + "$"}
	}
	return core.Equals{Value: s}
}

// globRegex renders glob parts as an anchored pattern
func globRegex(parts []globPart, caseInsensitive bool) string {
	var sb strings.Builder
	sb.WriteString("(?s")
	if caseInsensitive {
		sb.WriteString("i")
	}
	sb.WriteString(")^")
	for _, part := range parts {
		switch {
		case part.star:
			sb.WriteString(".*")
		case part.single:
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(part.literal))
		}
	}
	sb.WriteString("$")
	return sb.String()
}

// valueOperator builds the operator for one detection value
func (b valueBuilder) valueOperator(spec fieldSpec, value interface{}) (core.RuleOperator, error) {
	if value == nil {
		if spec.match != "" {
			return nil, fmt.Errorf("null value cannot be used with %q", spec.match)
		}
		return core.IsNull{}, nil
	}

	switch spec.match {
	case modExists:
		present, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("exists expects a boolean, got %T", value)
		}
		return core.Exists{Present: present}, nil
	case modGT:
		return core.GT{Value: value}, nil
	case modGTE:
		return core.GTE{Value: value}, nil
	case modLT:
		return core.LT{Value: value}, nil
	case modLTE:
		return core.LTE{Value: value}, nil
	}

	s, isString := value.(string)
	if !isString {
		if spec.match != "" || spec.base64 {
			return nil, fmt.Errorf("modifier %q expects a string, got %T", spec.match, value)
		}
		return core.Equals{Value: value}, nil
	}

	var op core.RuleOperator
	switch spec.match {
	case modRe:
		if b.caseInsensitive {
			s = "(?i)" + s
		}
		op = core.Matches{Pattern: s}
	case modCIDR:
		network, bits, err := parseCIDR(s)
		if err != nil {
			return nil, err
		}
		op = core.SameNet{Network: network, Bits: bits}
	default:
		parts := parseGlob(s)
		star := globPart{star: true}
		switch spec.match {
		case modContains:
			parts = append(append([]globPart{star}, parts...), star)
		case modStartsWith:
			parts = append(parts, star)
		case modEndsWith:
			parts = append([]globPart{star}, parts...)
		}
		op = b.textOperator(mergeStars(parts))
	}

	if spec.base64 {
		op = core.B64{Operator: op}
	}
	return op, nil
}

// mergeStars collapses adjacent '*' parts created by modifier padding
func mergeStars(parts []globPart) []globPart {
	out := parts[:0:0]
	for _, p := range parts {
		if p.star && len(out) > 0 && out[len(out)-1].star {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseCIDR(s string) (netip.Addr, int, error) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Masked().Addr(), prefix.Bits(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("invalid network %q", s)
	}
	return addr, addr.BitLen(), nil
}

// fieldCondition converts one "field|modifiers: value(s)" entry.
// A value list matches when any value matches, or every value with "|all".
func (b valueBuilder) fieldCondition(key string, value interface{}, fieldMap map[string]string) (core.RuleCondition, error) {
	spec, err := parseFieldKey(key)
	if err != nil {
		return core.RuleCondition{}, err
	}
	field := spec.field
	if mapped, ok := fieldMap[field]; ok {
		field = mapped
	} else if mapped, ok := fieldMap[strings.ToLower(field)]; ok {
		// maps decoded by viper have lowercased keys
		field = mapped
	}

	values, isList := value.([]interface{})
	if !isList {
		op, err := b.valueOperator(spec, value)
		if err != nil {
			return core.RuleCondition{}, fmt.Errorf("%s: %w", key, err)
		}
		return core.RuleCondition{Field: field, Operator: op}, nil
	}
	if len(values) == 0 {
		return core.RuleCondition{}, fmt.Errorf("%s: empty value list", key)
	}

	ops := make([]core.RuleOperator, 0, len(values))
	for i, v := range values {
		op, err := b.valueOperator(spec, v)
		if err != nil {
			return core.RuleCondition{}, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		ops = append(ops, op)
	}
	if len(ops) == 1 {
		return core.RuleCondition{Field: field, Operator: ops[0]}, nil
	}
	if spec.all {
		return core.RuleCondition{Field: field, Operator: core.All{Operators: ops}}, nil
	}
	return core.RuleCondition{Field: field, Operator: core.Any{Operators: ops}}, nil
}

// mapConditions converts a field map into an AND of conditions ordered by key
func (b valueBuilder) mapConditions(block map[string]interface{}, fieldMap map[string]string) ([]core.RuleCondition, error) {
	keys := make([]string, 0, len(block))
	for k := range block {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]core.RuleCondition, 0, len(keys))
	for _, k := range keys {
		c, err := b.fieldCondition(k, block[k], fieldMap)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

// keywordCondition matches any of the keywords anywhere in field
func (b valueBuilder) keywordCondition(field string, keywords []interface{}) (core.RuleCondition, error) {
	spec := fieldSpec{field: field, match: modContains}
	ops := make([]core.RuleOperator, 0, len(keywords))
	for _, kw := range keywords {
		s, ok := kw.(string)
		if !ok {
			s = fmt.Sprint(kw)
		}
		op, err := b.valueOperator(spec, s)
		if err != nil {
			return core.RuleCondition{}, err
		}
		ops = append(ops, op)
	}
	if len(ops) == 1 {
		return core.RuleCondition{Field: field, Operator: ops[0]}, nil
	}
	return core.RuleCondition{Field: field, Operator: core.Any{Operators: ops}}, nil
}
