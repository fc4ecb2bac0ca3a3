package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"argus/config"
	"argus/core"

	"github.com/fatih/color"
)

// severityColor picks the alert header color by severity
func severityColor(s core.Severity) *color.Color {
	switch s {
	case core.SeverityCritical:
		return color.New(color.FgMagenta, color.Bold)
	case core.SeverityHigh:
		return errorColor
	case core.SeverityMedium:
		return warningColor
	case core.SeverityLow:
		return infoColor
	default:
		return color.New(color.FgWhite)
	}
}

// renderAlert prints one alert as a short block
func renderAlert(w io.Writer, alert *core.SiemAlert) {
	severityColor(alert.Severity).Fprintf(w, "[%s] ", strings.ToUpper(alert.Severity.String()))
	headerColor.Fprintf(w, "%s", alert.Title)
	fmt.Fprintf(w, "  (%s)\n", alert.RuleID)
	if alert.Description != "" {
		fmt.Fprintf(w, "  %s\n", alert.Description)
	}
	if len(alert.MatchedSubrules) > 0 {
		fmt.Fprintf(w, "  %-12s %s\n", "matched:", strings.Join(alert.MatchedSubrules, ", "))
	}
	if len(alert.Mitre.Techniques) > 0 {
		fmt.Fprintf(w, "  %-12s %s\n", "mitre:", strings.Join(alert.Mitre.Techniques, ", "))
	}
	if alert.Log != nil {
		fmt.Fprintf(w, "  %-12s %s\n", "event:", alert.Log.EventID)
	}
	if alert.Aggregation != nil {
		fmt.Fprintf(w, "  %-12s %s (until %s)\n", "aggregated:", alert.Aggregation.Key, formatTime(alert.Aggregation.WindowEnd))
	}
	fmt.Fprintln(w)
}

// writeJSONLine writes v as one line of JSON
func writeJSONLine(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

// renderRuleErrors warns about rules that were left out of the catalog
func renderRuleErrors(w io.Writer, errs []error, quiet bool) {
	if quiet || len(errs) == 0 {
		return
	}
	warningColor.Fprintf(w, "⚠ %d rule(s) rejected:\n", len(errs))
	for _, err := range errs {
		fmt.Fprintf(w, "  - %v\n", err)
	}
}

// renderSummary prints the totals of an eval run
func renderSummary(w io.Writer, s evalSummary) {
	fmt.Fprintln(w)
	headerColor.Fprintln(w, "Summary")
	fmt.Fprintf(w, "  %-10s %d\n", "Events:", s.Events)
	if s.Rejected > 0 {
		warningColor.Fprintf(w, "  %-10s %d\n", "Rejected:", s.Rejected)
	}
	if s.Alerts > 0 {
		errorColor.Fprintf(w, "  %-10s %d\n", "Alerts:", s.Alerts)
	} else {
		successColor.Fprintf(w, "  %-10s %d\n", "Alerts:", s.Alerts)
	}
}

// renderValidation prints the outcome of 'rules validate'
func renderValidation(w io.Writer, valid int, errs []error) {
	for _, err := range errs {
		errorColor.Fprint(w, "✗ ")
		fmt.Fprintln(w, err)
	}
	if len(errs) == 0 {
		successColor.Fprintf(w, "✓ All %d rule(s) valid\n", valid)
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d valid, ", valid)
	errorColor.Fprintf(w, "%d rejected\n", len(errs))
}

// renderRulesTable displays rules in a formatted table
func renderRulesTable(w io.Writer, rules []*core.SiemRule) {
	if len(rules) == 0 {
		warningColor.Fprintln(w, "No rules loaded")
		return
	}

	headerColor.Fprintln(w, "RULES")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-36s %-36s %-10s %-8s %-8s\n", "ID", "Name", "Severity", "Enabled", "Subrules")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range rules {
		fmt.Fprintf(w, "%-36s %-36s %-10s %-8s %-8d\n",
			truncate(r.ID, 36), truncate(r.Name, 36), r.Alert.Severity, formatBool(r.Enabled), len(r.Subrules))
	}
	fmt.Fprintln(w, strings.Repeat("=", 100))
}

// renderDatasetsTable displays datasets in a formatted table
func renderDatasetsTable(w io.Writer, views []datasetView) {
	headerColor.Fprintln(w, "DATASETS")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-28s %-16s %-9s %-8s %-45s\n", "Kind", "Policy", "Entries", "Pending", "Source")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, v := range views {
		source := v.Source
		if source == "" {
			source = "-"
		}
		if v.Schedule != "" {
			source += " [" + v.Schedule + "]"
		}
		fmt.Fprintf(w, "%-28s %-16s %-9d %-8d %-45s\n", v.Kind, v.Policy, v.Entries, v.Pending, truncate(source, 45))
		if v.Error != "" {
			errorColor.Fprintf(w, "  ✗ %s\n", v.Error)
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 110))
}

// renderConfig displays the effective configuration
func renderConfig(w io.Writer, cfg *config.Config) {
	printSection(w, "Engine")
	printField(w, "Workers", fmt.Sprintf("%d", cfg.Engine.Workers))
	printField(w, "Max retries", fmt.Sprintf("%d (backoff %s)", cfg.Engine.MaxRetries, cfg.Engine.RetryBackoff))
	printField(w, "Event buffer", fmt.Sprintf("%d", cfg.Engine.EventBuffer))
	printField(w, "Language", cfg.Engine.Language)
	printField(w, "Regex timeout", cfg.Engine.RegexTimeout.String())
	fmt.Fprintln(w)

	printSection(w, "Datasets")
	printField(w, "Queue size", fmt.Sprintf("%d", cfg.Datasets.QueueSize))
	printField(w, "Max batch", fmt.Sprintf("%d", cfg.Datasets.MaxBatch))
	for _, k := range cfg.Datasets.Kinds {
		policy := k.Policy
		if policy == config.PolicyBlocking {
			policy += " " + k.Timeout.String()
		}
		printField(w, "Kind "+k.Kind, policy)
	}
	for _, s := range cfg.Datasets.Sources {
		location := s.Path
		if s.URL != "" {
			location = s.URL
		}
		if s.Schedule != "" {
			location += " [" + s.Schedule + "]"
		}
		printField(w, "Source "+s.Kind, location)
		keys := make([]string, 0, len(s.Headers))
		for k := range s.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printField(w, "  "+k, s.Headers[k])
		}
	}
	fmt.Fprintln(w)

	printSection(w, "Correlation")
	printField(w, "Backend", cfg.Correlation.Backend)
	if cfg.Correlation.Backend == config.BackendRedis {
		printField(w, "Redis address", cfg.Correlation.Redis.Addr)
		printField(w, "Redis password", cfg.Correlation.Redis.Password)
		printField(w, "Key prefix", cfg.Correlation.Redis.Prefix)
		printField(w, "Breaker", fmt.Sprintf("%d failures, %s cooldown", cfg.Correlation.Redis.BreakerFailures, cfg.Correlation.Redis.BreakerCooldown))
	} else {
		printField(w, "Max keys per family", fmt.Sprintf("%d", cfg.Correlation.MaxKeysPerFamily))
	}
	fmt.Fprintln(w)

	printSection(w, "Rules")
	printField(w, "Native directory", cfg.Rules.NativeDir)
	printField(w, "SIGMA directory", cfg.Rules.SigmaDir)
	printField(w, "Keyword field", cfg.Rules.Sigma.KeywordField)
	printField(w, "Case insensitive", formatBool(cfg.Rules.Sigma.CaseInsensitive))
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	headerColor.Fprintf(w, "  %s\n", title)
	headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
