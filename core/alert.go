package core

import (
	"time"
)

// AlertContentType identifies one piece of an alert description template
type AlertContentType uint8

const (
	// ContentText is copied verbatim
	ContentText AlertContentType = iota
	// ContentField renders the text form of a log field
	ContentField
	// ContentMatchedRules renders the matched subrule names
	ContentMatchedRules
	// ContentStateCount renders the correlation count that made the rule fire
	ContentStateCount
)

// AlertContent is one token of an alert description template
type AlertContent struct {
	Type  AlertContentType
	Value string // text for ContentText, field path for ContentField
}

// Text returns a verbatim content token
func Text(s string) AlertContent {
	return AlertContent{Type: ContentText, Value: s}
}

// Field returns a field reference token
func Field(path string) AlertContent {
	return AlertContent{Type: ContentField, Value: path}
}

// MatchedRules returns a token rendering the matched subrule names
func MatchedRules() AlertContent {
	return AlertContent{Type: ContentMatchedRules}
}

// StateCount returns a token rendering the correlation count
func StateCount() AlertContent {
	return AlertContent{Type: ContentStateCount}
}

// AlertAggregation groups repeated alerts of one rule under a key for Window.
// The key is built from the values of KeyFields in the triggering log.
type AlertAggregation struct {
	KeyFields []string
	Window    time.Duration
}

// AlertGenerator describes the alert a rule produces when it fires
type AlertGenerator struct {
	Content     []AlertContent
	Severity    Severity
	Tags        []string
	Aggregation *AlertAggregation
}

func (g AlertGenerator) clone() AlertGenerator {
	out := AlertGenerator{
		Content:  append([]AlertContent(nil), g.Content...),
		Severity: g.Severity,
		Tags:     append([]string(nil), g.Tags...),
	}
	if g.Aggregation != nil {
		agg := *g.Aggregation
		agg.KeyFields = append([]string(nil), g.Aggregation.KeyFields...)
		out.Aggregation = &agg
	}
	return out
}

// AlertWindow is the aggregation data attached to an alert
type AlertWindow struct {
	Key       string    `json:"key"`
	WindowEnd time.Time `json:"window_end"`
}

// SiemAlert is the value produced for each firing of a rule
type SiemAlert struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Severity        Severity     `json:"severity"`
	Timestamp       time.Time    `json:"timestamp"`
	Tags            []string     `json:"tags,omitempty"`
	RuleID          string       `json:"rule_id"`
	Mitre           MitreInfo    `json:"mitre"`
	MatchedSubrules []string     `json:"matched_subrules"`
	Log             *Event       `json:"log"`
	Aggregation     *AlertWindow `json:"aggregation,omitempty"`
}
