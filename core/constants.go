package core

import (
	"fmt"
	"strings"
)

// Severity represents the severity of an alert
type Severity string

const (
	// SeverityInformational is for alerts that only add context
	SeverityInformational Severity = "informational"
	// SeverityLow indicates suspicious but usually benign activity
	SeverityLow Severity = "low"
	// SeverityMedium is the default severity
	SeverityMedium Severity = "medium"
	// SeverityHigh indicates likely malicious activity
	SeverityHigh Severity = "high"
	// SeverityCritical requires immediate response
	SeverityCritical Severity = "critical"
)

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInformational, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// ParseSeverity normalizes a severity name; unknown values map to medium
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.IsValid() {
		return sev
	}
	return SeverityMedium
}

// Rank orders severities from informational (0) to critical (4)
func (s Severity) Rank() int {
	switch s {
	case SeverityInformational:
		return 0
	case SeverityLow:
		return 1
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 2
	}
}

// Language is an ISO 639-1 language code in upper case ("EN", "ES")
type Language string

// LanguageEnglish is the fallback language of translated texts
const LanguageEnglish Language = "EN"

// ParseLanguage normalizes a two-letter language code to upper case
func ParseLanguage(s string) (Language, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'A' || s[0] > 'Z' || s[1] < 'A' || s[1] > 'Z' {
		return "", fmt.Errorf("invalid language code %q", s)
	}
	return Language(s), nil
}

// MatchedRulesSeparator joins subrule names rendered into alert descriptions
const MatchedRulesSeparator = ", "

// MaxRuleNesting bounds operator tree depth accepted at load time
const MaxRuleNesting = 32
