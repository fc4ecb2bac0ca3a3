package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Constants for regex validation
const (
	// MaxRegexLength is the maximum allowed regex pattern length
	MaxRegexLength = 1000
	// DefaultRegexTimeout is the default per-match timeout
	DefaultRegexTimeout = 100 * time.Millisecond
	// MaxRegexTimeout is the maximum allowed per-match timeout
	MaxRegexTimeout = 1 * time.Second
	// MaxRegexAlternations bounds the number of top-level alternatives
	MaxRegexAlternations = 50
	// DefaultRegexCacheSize is the number of compiled patterns kept around
	DefaultRegexCacheSize = 1024
)

// repetitionRe finds {n}, {n,} and {n,m} quantifiers
var repetitionRe = regexp.MustCompile(`\{(\d+)(?:,\d*)?\}`)

// RegexValidator validates regex patterns with safety checks before they are
// accepted into a rule.
type RegexValidator struct {
	maxLength int
}

// NewRegexValidator creates a new RegexValidator with default settings
func NewRegexValidator() *RegexValidator {
	return &RegexValidator{maxLength: MaxRegexLength}
}

// NewRegexValidatorWithMaxLength creates a RegexValidator with a custom length limit
func NewRegexValidatorWithMaxLength(maxLength int) *RegexValidator {
	if maxLength <= 0 {
		maxLength = MaxRegexLength
	}
	return &RegexValidator{maxLength: maxLength}
}

// ValidatePattern validates a regex pattern for safety
func (rv *RegexValidator) ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regex pattern cannot be empty")
	}

	if len(pattern) > rv.maxLength {
		return fmt.Errorf("regex pattern too long: %d characters (max %d)", len(pattern), rv.maxLength)
	}

	if err := rv.checkForReDoSPatterns(pattern); err != nil {
		return err
	}

	if alternationCount := strings.Count(pattern, "|"); alternationCount > MaxRegexAlternations {
		return fmt.Errorf("too many alternations: %d (max %d)", alternationCount, MaxRegexAlternations)
	}

	if err := rv.checkForExcessiveRepetition(pattern); err != nil {
		return err
	}

	if _, err := regexp2.Compile(pattern, regexp2.None); err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}

	return nil
}

// checkForReDoSPatterns checks for dangerous nested quantifier patterns
func (rv *RegexValidator) checkForReDoSPatterns(pattern string) error {
	dangerousPatterns := []string{
		")+*", ")*+", ")+{", ")*{", ")++", ")**",
		"}+*", "}*+", "}+{", "}*{",
		"++", "**", "*+", "+*",
	}

	for _, dangerous := range dangerousPatterns {
		if strings.Contains(pattern, dangerous) {
			return fmt.Errorf("pattern contains nested quantifiers which may cause ReDoS: found '%s'", dangerous)
		}
	}

	// (x+)+ style groups: a quantified group whose body ends in a quantifier
	depth := 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return fmt.Errorf("pattern has unmatched closing parenthesis")
			}
			inner := i > 0 && strings.ContainsRune("*+", rune(pattern[i-1]))
			depth--
			if inner && i+1 < len(pattern) && strings.ContainsRune("*+{", rune(pattern[i+1])) {
				return fmt.Errorf("pattern contains nested quantifiers which may cause ReDoS: %s", pattern)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("pattern has unmatched parentheses")
	}
	return nil
}

// checkForExcessiveRepetition checks for repetition ranges exceeding 1000
func (rv *RegexValidator) checkForExcessiveRepetition(pattern string) error {
	for _, match := range repetitionRe.FindAllStringSubmatch(pattern, -1) {
		if len(match) < 2 {
			continue
		}
		count, err := strconv.Atoi(match[1])
		if err == nil && count >= 1000 {
			return fmt.Errorf("excessive repetition: %s (max 999)", match[0])
		}
	}
	return nil
}

// RegexCompiler compiles validated patterns into regexp2 programs carrying a
// match timeout. Compiled programs are cached by (pattern, timeout); a
// regexp2.Regexp is safe for concurrent matching so cache entries are shared.
type RegexCompiler struct {
	validator *RegexValidator
	timeout   time.Duration
	cache     *lru.Cache[string, *regexp2.Regexp]
}

// NewRegexCompiler creates a compiler with the given per-match timeout
func NewRegexCompiler(timeout time.Duration, maxLength int) *RegexCompiler {
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	if timeout > MaxRegexTimeout {
		timeout = MaxRegexTimeout
	}
	cache, err := lru.New[string, *regexp2.Regexp](DefaultRegexCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &RegexCompiler{
		validator: NewRegexValidatorWithMaxLength(maxLength),
		timeout:   timeout,
		cache:     cache,
	}
}

// Timeout returns the match timeout applied to compiled patterns
func (c *RegexCompiler) Timeout() time.Duration {
	return c.timeout
}

// Compile validates and compiles pattern
func (c *RegexCompiler) Compile(pattern string) (*regexp2.Regexp, error) {
	key := strconv.FormatInt(c.timeout.Milliseconds(), 10) + ":" + pattern
	if re, ok := c.cache.Get(key); ok {
		return re, nil
	}

	if err := c.validator.ValidatePattern(pattern); err != nil {
		return nil, err
	}

	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}
	re.MatchTimeout = c.timeout

	c.cache.Add(key, re)
	return re, nil
}

// ValidateRegexPattern is a convenience function that validates a regex pattern
func ValidateRegexPattern(pattern string) error {
	return NewRegexValidator().ValidatePattern(pattern)
}
