package core

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRule() *SiemRule {
	return &SiemRule{
		ID:      "blocked-login",
		Name:    "Login from blocked address",
		Enabled: true,
		Subrules: map[string]SiemSubRule{
			"login": {Conditions: []RuleCondition{
				{Field: "event.action", Operator: Matches{Pattern: `(?i)^log(in|on)$`}},
				{Field: "source.ip", Operator: InDataset{Kind: KindBlockIP}},
			}},
			"foreign": {Conditions: []RuleCondition{
				{Field: "source.ip", Operator: Not{Operator: InCountry{Countries: []string{" fr ", "de"}}}},
			}},
		},
		Conditions: [][]string{{"login"}, {"login", "foreign"}},
	}
}

func TestCompileRule(t *testing.T) {
	rule := newTestRule()
	compiled, err := CompileRule(rule, nil)
	require.NoError(t, err)

	assert.Equal(t, SeverityMedium, compiled.Alert.Severity, "severity defaults to medium")
	assert.Equal(t, []DatasetKind{KindBlockIP, KindGeoIP}, compiled.NeededDatasets)

	m, ok := compiled.Subrules["login"].Conditions[0].Operator.(Matches)
	require.True(t, ok)
	assert.NotNil(t, m.Regex)

	not := compiled.Subrules["foreign"].Conditions[0].Operator.(Not)
	assert.Equal(t, InCountry{Countries: []string{"FR", "DE"}}, not.Operator)

	// the input is left untouched
	assert.Nil(t, rule.Subrules["login"].Conditions[0].Operator.(Matches).Regex)
	assert.Empty(t, rule.NeededDatasets)
}

func TestCompileRule_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *SiemRule)
		field  string
	}{
		{"missing id", func(r *SiemRule) { r.ID = " " }, ""},
		{"no subrules", func(r *SiemRule) { r.Subrules = map[string]SiemSubRule{} }, ""},
		{"empty clause", func(r *SiemRule) { r.Conditions = [][]string{{}} }, ""},
		{"unknown subrule", func(r *SiemRule) { r.Conditions = [][]string{{"missing"}} }, "conditions[0]"},
		{"bad severity", func(r *SiemRule) { r.Alert.Severity = "urgent" }, "alert.severity"},
		{"empty field", func(r *SiemRule) {
			r.Subrules["login"] = SiemSubRule{Conditions: []RuleCondition{{Field: "", Operator: Exists{Present: true}}}}
		}, "subrules.login.conditions[0]"},
		{"redos regex", func(r *SiemRule) {
			r.Subrules["login"] = SiemSubRule{Conditions: []RuleCondition{{Field: "cmd", Operator: Matches{Pattern: "(a+)+$"}}}}
		}, "subrules.login.conditions[0]"},
		{"bad same_net", func(r *SiemRule) {
			r.Subrules["login"] = SiemSubRule{Conditions: []RuleCondition{{Field: "ip", Operator: SameNet{Network: netip.MustParseAddr("10.0.0.0"), Bits: 40}}}}
		}, "subrules.login.conditions[0]"},
		{"invalid state", func(r *SiemRule) {
			r.Subrules["login"] = SiemSubRule{State: &RuleState{KeyFields: []string{"user"}, Threshold: 0, Window: time.Minute}}
		}, "subrules.login.state"},
		{"sub-millisecond window", func(r *SiemRule) {
			r.Subrules["login"] = SiemSubRule{State: &RuleState{KeyFields: []string{"user"}, Threshold: 1, Window: 500 * time.Microsecond}}
		}, "subrules.login.state"},
		{"bad aggregation", func(r *SiemRule) { r.Alert.Aggregation = &AlertAggregation{} }, "alert.aggregation.window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := newTestRule()
			tt.mutate(rule)
			_, err := CompileRule(rule, nil)
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestCompileRule_Nil(t *testing.T) {
	_, err := CompileRule(nil, nil)
	assert.True(t, IsConfigurationError(err))
}

func TestSiemRule_Clone(t *testing.T) {
	rule := newTestRule()
	rule.Subrules["count"] = SiemSubRule{State: &RuleState{KeyFields: []string{"user"}, Window: time.Minute, Threshold: 3}}

	cp := rule.Clone()
	cp.Conditions[0][0] = "changed"
	cp.Subrules["count"].State.KeyFields[0] = "host"
	delete(cp.Subrules, "foreign")

	assert.Equal(t, "login", rule.Conditions[0][0])
	assert.Equal(t, "user", rule.Subrules["count"].State.KeyFields[0])
	assert.Contains(t, rule.Subrules, "foreign")
	assert.Equal(t, []string{"count", "foreign", "login"}, rule.SubruleNames())
}

func TestRuleState_Family(t *testing.T) {
	assert.Equal(t, "r1/count", (&RuleState{}).Family("r1", "count"))
	assert.Equal(t, "failed_logins", (&RuleState{Name: "failed_logins"}).Family("r1", "count"))
}

func TestEvent_Get(t *testing.T) {
	e := NewEvent()
	e.Set("source.ip", "10.0.0.1")
	e.Set("user", map[string]interface{}{"name": "alice", "domain": nil})
	e.Set("host", map[interface{}]interface{}{"name": "web-1"})

	v, ok := e.Get("source.ip")
	assert.True(t, ok, "flat dotted key")
	assert.Equal(t, "10.0.0.1", v)

	v, ok = e.Get("user.name")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)

	v, ok = e.Get("user.domain")
	assert.True(t, ok, "present nil is found")
	assert.Nil(t, v)

	v, ok = e.Get("host.name")
	assert.True(t, ok)
	assert.Equal(t, "web-1", v)

	_, ok = e.Get("user.name.first")
	assert.False(t, ok)
	_, ok = e.Get("missing")
	assert.False(t, ok)

	var nilEvent *Event
	_, ok = nilEvent.Get("user")
	assert.False(t, ok)
}

func TestEvent_Clone(t *testing.T) {
	e := NewEvent()
	e.Set("user", map[string]interface{}{"name": "alice"})
	e.Set("tags", []interface{}{"a", "b"})

	cp := e.Clone()
	cp.Fields["user"].(map[string]interface{})["name"] = "bob"
	cp.Fields["tags"].([]interface{})[0] = "z"

	name, _ := e.Get("user.name")
	assert.Equal(t, "alice", name)
	assert.Equal(t, "a", e.Fields["tags"].([]interface{})[0])
	assert.Equal(t, e.EventID, cp.EventID)
}

func TestParseDatasetKind(t *testing.T) {
	tests := []struct {
		in      string
		want    DatasetKind
		wantErr bool
	}{
		{"ip_set:block_ip", KindBlockIP, false},
		{"geo_ip", KindGeoIP, false},
		{" Calendar : work_hours ", KindWorkHours, false},
		{"rule_catalog", KindRules, false},
		{"bloom:x", DatasetKind{}, true},
		{"", DatasetKind{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDatasetKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatasetKind_StringAndCompare(t *testing.T) {
	assert.Equal(t, "ip_set:block_ip", KindBlockIP.String())
	assert.Equal(t, "geo_ip", KindGeoIP.String())
	assert.Equal(t, "dataset_type(99)", DatasetType(99).String())

	assert.Equal(t, -1, KindBlockIP.Compare(KindGeoIP))
	assert.Equal(t, 1, KindBlockDomain.Compare(KindBlockCountry))
	assert.Equal(t, 0, KindRules.Compare(KindRules))

	var k DatasetKind
	require.NoError(t, k.UnmarshalText([]byte("text_set:block_domain")))
	assert.Equal(t, KindBlockDomain, k)
	text, err := k.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "text_set:block_domain", string(text))
}

func TestTextOf(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"nil", nil, ""},
		{"string", "x", "x"},
		{"large float", float64(1e6), "1000000"},
		{"fraction", 0.25, "0.25"},
		{"float32", float32(0.5), "0.5"},
		{"int8", int8(-3), "-3"},
		{"uint", uint(7), "7"},
		{"bool", true, "true"},
		{"addr", netip.MustParseAddr("10.0.0.1"), "10.0.0.1"},
		{"time", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "2024-03-01T12:00:00Z"},
		{"list", []interface{}{"a", 2, 1e6}, "a,2,1000000"},
		{"strings", []string{"a", "b"}, "a,b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TextOf(tt.value))
		})
	}
}
