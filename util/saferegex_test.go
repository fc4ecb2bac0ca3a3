package util

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegexValidator(t *testing.T) {
	assert.Equal(t, MaxRegexLength, NewRegexValidator().maxLength)
	assert.Equal(t, 20, NewRegexValidatorWithMaxLength(20).maxLength)
	assert.Equal(t, MaxRegexLength, NewRegexValidatorWithMaxLength(0).maxLength, "non-positive falls back to the default")
}

func TestValidatePattern_ReDoSPatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"nested plus", "(a+)+"},
		{"nested star", "(a*)*"},
		{"star after plus group", "(x+)*"},
		{"bounded after plus group", "(ab+){2,5}"},
		{"double quantifier", "a++"},
		{"mixed quantifiers", "a*+"},
	}
	v := NewRegexValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePattern(tt.pattern)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "ReDoS")
		})
	}
}

func TestValidatePattern_Rejects(t *testing.T) {
	short := NewRegexValidatorWithMaxLength(50)
	tests := []struct {
		name     string
		pattern  string
		contains string
	}{
		{"empty", "", "empty"},
		{"too long", strings.Repeat("a", 51), "too long"},
		{"alternations", strings.Repeat("a|", MaxRegexAlternations+1) + "a", "alternations"},
		{"repetition", "a{1000}", "excessive repetition"},
		{"unmatched open", "(abc", "unmatched"},
		{"unmatched close", "abc)", "unmatched"},
		{"syntax", "[a-", "invalid regex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := short
			if tt.name == "alternations" {
				v = NewRegexValidator()
			}
			err := v.ValidatePattern(tt.pattern)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestValidatePattern_Accepts(t *testing.T) {
	for _, pattern := range []string{
		`^cmd\.exe$`,
		`(?i)powershell.*-enc`,
		`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`,
		`[a-z]+@example\.(com|org)`,
		`\(escaped+\)+`,
	} {
		assert.NoError(t, ValidateRegexPattern(pattern), pattern)
	}
}

func TestNewRegexCompiler_Timeout(t *testing.T) {
	assert.Equal(t, DefaultRegexTimeout, NewRegexCompiler(0, 0).Timeout())
	assert.Equal(t, MaxRegexTimeout, NewRegexCompiler(time.Minute, 0).Timeout())
	assert.Equal(t, 20*time.Millisecond, NewRegexCompiler(20*time.Millisecond, 0).Timeout())
}

func TestRegexCompiler_Compile(t *testing.T) {
	c := NewRegexCompiler(50*time.Millisecond, 0)

	re, err := c.Compile(`^user-\d+$`)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, re.MatchTimeout)
	ok, err := re.MatchString("user-42")
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := c.Compile(`^user-\d+$`)
	require.NoError(t, err)
	assert.Same(t, re, again, "compiled patterns are cached")

	_, err = c.Compile("(a+)+$")
	assert.Error(t, err)
}

func TestRegexCompiler_Concurrent(t *testing.T) {
	c := NewRegexCompiler(DefaultRegexTimeout, 0)
	patterns := []string{`^a`, `b$`, `c+d`, `(e|f)g`}

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Compile(patterns[i%len(patterns)]); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
