package sigma

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlocks() map[string][][]string {
	return map[string][][]string{
		"sel_a":   {{"sel_a"}},
		"sel_b":   {{"sel_b"}},
		"filter":  {{"filter"}},
		"multi":   {{"multi.0"}, {"multi.1"}},
		"_hidden": {{"_hidden"}},
	}
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		expr string
		want [][]string
	}{
		{"sel_a", [][]string{{"sel_a"}}},
		{"sel_a and sel_b", [][]string{{"sel_a", "sel_b"}}},
		{"sel_a AND sel_b", [][]string{{"sel_a", "sel_b"}}},
		{"sel_a or sel_b", [][]string{{"sel_a"}, {"sel_b"}}},
		{"sel_a or sel_b and filter", [][]string{{"sel_a"}, {"sel_b", "filter"}}},
		{"(sel_a or sel_b) and filter", [][]string{{"sel_a", "filter"}, {"sel_b", "filter"}}},
		{"sel_a and (sel_b or filter)", [][]string{{"sel_a", "sel_b"}, {"sel_a", "filter"}}},
		{"sel_a or sel_a", [][]string{{"sel_a"}}},
		{"sel_a and sel_a", [][]string{{"sel_a"}}},
		{"1 of sel_*", [][]string{{"sel_a"}, {"sel_b"}}},
		{"any of sel_*", [][]string{{"sel_a"}, {"sel_b"}}},
		{"all of sel_*", [][]string{{"sel_a", "sel_b"}}},
		{"2 of sel_*", [][]string{{"sel_a", "sel_b"}}},
		{"multi and sel_a", [][]string{{"multi.0", "sel_a"}, {"multi.1", "sel_a"}}},
		{"1 of them", [][]string{{"filter"}, {"multi.0"}, {"multi.1"}, {"sel_a"}, {"sel_b"}}},
		{"all of them", [][]string{
			{"filter", "multi.0", "sel_a", "sel_b"},
			{"filter", "multi.1", "sel_a", "sel_b"},
		}},
		{"_hidden or 1 of sel_*", [][]string{{"_hidden"}, {"sel_a"}, {"sel_b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseCondition(tt.expr, testBlocks())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCondition_Errors(t *testing.T) {
	tests := []struct {
		expr   string
		target error
	}{
		{"not filter", ErrNegation},
		{"sel_a and not filter", ErrNegation},
		{"sel_a | count() > 5", ErrAggregation},
		{"unknown", nil},
		{"sel_a and", nil},
		{"(sel_a", nil},
		{"sel_a sel_b", nil},
		{"1 of nothing*", nil},
		{"sel_*", nil},
		{"3 of sel_*", nil},
		{"all sel_*", nil},
		{"sel_a & sel_b", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCondition(tt.expr, testBlocks())
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
			}
		})
	}
}

func TestParseCondition_ClauseLimit(t *testing.T) {
	blocks := map[string][][]string{}
	var expr string
	for i := 0; i < 9; i++ {
		name := string(rune('a'+i)) + "_block"
		blocks[name] = [][]string{{name + ".0"}, {name + ".1"}}
		if expr != "" {
			expr += " and "
		}
		expr += name
	}
	// 2^9 clauses
	_, err := ParseCondition(expr, blocks)
	assert.Error(t, err)
}

func TestWildcardMatch(t *testing.T) {
	assert.True(t, wildcardMatch("sel*", "selection"))
	assert.True(t, wildcardMatch("*_win", "sel_win"))
	assert.True(t, wildcardMatch("sel*win*reg", "selection_windows_reg"))
	assert.False(t, wildcardMatch("sel*win*reg", "sel_reg_win"))
	assert.False(t, wildcardMatch("sel", "selection"))
	assert.True(t, wildcardMatch("*", "anything"))
}
