package detect

import (
	"strconv"
	"strings"
	"time"

	"argus/core"
	"argus/dataset"

	"github.com/google/uuid"
)

// AlertRenderer turns a firing rule into a SiemAlert
type AlertRenderer struct {
	newID func() string
}

// NewAlertRenderer creates a renderer issuing random UUID alert ids
func NewAlertRenderer() *AlertRenderer {
	return &AlertRenderer{newID: func() string { return uuid.New().String() }}
}

// Render builds the alert for one satisfied clause. counts holds the live
// correlation counts of the stateful subrules evaluated for this event.
func (r *AlertRenderer) Render(rule *core.SiemRule, event *core.Event, matched []string, counts map[string]int, now time.Time) *core.SiemAlert {
	gen := rule.Alert
	severity := gen.Severity
	if !severity.IsValid() {
		severity = core.SeverityMedium
	}

	alert := &core.SiemAlert{
		ID:              r.newID(),
		Title:           rule.Name,
		Description:     r.Description(gen.Content, event, matched, counts),
		Severity:        severity,
		Timestamp:       now,
		Tags:            append([]string(nil), gen.Tags...),
		RuleID:          rule.ID,
		Mitre:           rule.Mitre,
		MatchedSubrules: append([]string(nil), matched...),
		Log:             event.Clone(),
	}

	if agg := gen.Aggregation; agg != nil {
		alert.Aggregation = &core.AlertWindow{
			Key:       AggregationKey(rule.ID, event, agg.KeyFields),
			WindowEnd: now.Add(agg.Window),
		}
	}
	return alert
}

// Description concatenates the content tokens of an alert template
func (r *AlertRenderer) Description(content []core.AlertContent, event *core.Event, matched []string, counts map[string]int) string {
	var b strings.Builder
	for _, c := range content {
		switch c.Type {
		case core.ContentText:
			b.WriteString(c.Value)
		case core.ContentField:
			if v, ok := event.Get(c.Value); ok {
				b.WriteString(core.TextOf(v))
			}
		case core.ContentMatchedRules:
			b.WriteString(strings.Join(matched, core.MatchedRulesSeparator))
		case core.ContentStateCount:
			b.WriteString(strconv.Itoa(clauseCount(matched, counts)))
		}
	}
	return b.String()
}

// clauseCount is the highest correlation count among the clause's subrules
func clauseCount(matched []string, counts map[string]int) int {
	best := 0
	for _, name := range matched {
		if n := counts[name]; n > best {
			best = n
		}
	}
	return best
}

// AggregationKey builds "ruleID|v1|v2..." from the aggregation key fields
func AggregationKey(ruleID string, event *core.Event, fields []string) string {
	if len(fields) == 0 {
		return ruleID
	}
	return ruleID + KeySeparator + CorrelationKey(event, fields)
}

func translateTitle(i18n *dataset.I18n, key string, lang core.Language) (string, bool) {
	if !i18n.MatchValue(key) {
		return "", false
	}
	title := i18n.GetOrDefault(key, lang)
	return title, title != ""
}
