package sigma

import (
	"net/netip"
	"testing"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOperator_WildcardPlacement(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  core.RuleOperator
	}{
		{"plain", "cmd.exe", core.Equals{Value: "cmd.exe"}},
		{"both ends", "*cmd*", core.Contains{Value: "cmd"}},
		{"trailing", "cmd*", core.StartsWith{Value: "cmd"}},
		{"leading", "*cmd", core.EndsWith{Value: "cmd"}},
		{"star only", "*", core.Exists{Present: true}},
		{"inner star", "c*d", core.Matches{Pattern: `(?s)^c.*d$`}},
		{"single char", "c?d", core.Matches{Pattern: `(?s)^c.d$`}},
		{"escaped star", `a\*b`, core.Equals{Value: "a*b"}},
		{"escaped backslash", `C:\Windows\\*`, core.StartsWith{Value: `C:\Windows\`}},
		{"empty", "", core.Equals{Value: ""}},
		{"number", 42, core.Equals{Value: 42}},
		{"null", nil, core.IsNull{}},
	}
	b := valueBuilder{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := b.valueOperator(fieldSpec{field: "f"}, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, op)
		})
	}
}

func TestValueOperator_Modifiers(t *testing.T) {
	tests := []struct {
		key   string
		value interface{}
		want  core.RuleOperator
	}{
		{"f|contains", "x", core.Contains{Value: "x"}},
		{"f|contains", "a*b", core.Matches{Pattern: `(?s)^.*a.*b.*$`}},
		{"f|startswith", "x", core.StartsWith{Value: "x"}},
		{"f|startswith", "*x", core.Contains{Value: "x"}},
		{"f|endswith", "x", core.EndsWith{Value: "x"}},
		{"f|re", "^a+b$", core.Matches{Pattern: "^a+b$"}},
		{"f|cidr", "10.1.2.3/8", core.SameNet{Network: netip.MustParseAddr("10.0.0.0"), Bits: 8}},
		{"f|cidr", "192.0.2.7", core.SameNet{Network: netip.MustParseAddr("192.0.2.7"), Bits: 32}},
		{"f|gt", 5, core.GT{Value: 5}},
		{"f|gte", 5, core.GTE{Value: 5}},
		{"f|lt", 5, core.LT{Value: 5}},
		{"f|lte", "5", core.LTE{Value: "5"}},
		{"f|exists", false, core.Exists{Present: false}},
		{"f|base64", "whoami", core.B64{Operator: core.Equals{Value: "whoami"}}},
		{"f|base64offset|contains", "powershell", core.B64{Operator: core.Contains{Value: "powershell"}}},
		{"f|CONTAINS", "x", core.Contains{Value: "x"}},
	}
	b := valueBuilder{}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			spec, err := parseFieldKey(tt.key)
			require.NoError(t, err)
			op, err := b.valueOperator(spec, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, op)
		})
	}
}

func TestValueOperator_CaseInsensitive(t *testing.T) {
	b := valueBuilder{caseInsensitive: true}

	op, err := b.valueOperator(fieldSpec{field: "f", match: modEndsWith}, `\powershell.exe`)
	require.NoError(t, err)
	assert.Equal(t, core.Matches{Pattern: `(?si)^.*\\powershell\.exe$`}, op)

	op, err = b.valueOperator(fieldSpec{field: "f"}, "Admin")
	require.NoError(t, err)
	assert.Equal(t, core.Matches{Pattern: `(?si)^Admin$`}, op)

	op, err = b.valueOperator(fieldSpec{field: "f", match: modRe}, "^a")
	require.NoError(t, err)
	assert.Equal(t, core.Matches{Pattern: "(?i)^a"}, op)
}

func TestParseFieldKey_Errors(t *testing.T) {
	for _, key := range []string{"f|windash", "f|contains|endswith", "f|base64|re", "|contains"} {
		_, err := parseFieldKey(key)
		assert.Error(t, err, key)
	}
}

func TestValueOperator_Errors(t *testing.T) {
	b := valueBuilder{}
	_, err := b.valueOperator(fieldSpec{field: "f", match: modExists}, "yes")
	assert.Error(t, err)
	_, err = b.valueOperator(fieldSpec{field: "f", match: modCIDR}, "not-a-network")
	assert.Error(t, err)
	_, err = b.valueOperator(fieldSpec{field: "f", match: modContains}, 3)
	assert.Error(t, err)
	_, err = b.valueOperator(fieldSpec{field: "f", match: modContains}, nil)
	assert.Error(t, err)
}

func TestFieldCondition_Lists(t *testing.T) {
	b := valueBuilder{}

	c, err := b.fieldCondition("Image", []interface{}{"a", "b*"}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.RuleCondition{
		Field:    "Image",
		Operator: core.Any{Operators: []core.RuleOperator{core.Equals{Value: "a"}, core.StartsWith{Value: "b"}}},
	}, c)

	c, err = b.fieldCondition("CommandLine|contains|all", []interface{}{"-nop", "-w hidden"}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.All{Operators: []core.RuleOperator{core.Contains{Value: "-nop"}, core.Contains{Value: "-w hidden"}}}, c.Operator)

	c, err = b.fieldCondition("Image", []interface{}{"x"}, map[string]string{"Image": "process.executable"})
	require.NoError(t, err)
	assert.Equal(t, core.RuleCondition{Field: "process.executable", Operator: core.Equals{Value: "x"}}, c)

	_, err = b.fieldCondition("Image", []interface{}{}, nil)
	assert.Error(t, err)
}
