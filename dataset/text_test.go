package dataset

import (
	"testing"

	"argus/core"

	"github.com/stretchr/testify/assert"
)

func TestI18n_GetOrDefault(t *testing.T) {
	d := NewI18n()
	d.Insert("LocalIp", "ES", "IP Local")
	d.Insert("LocalIp", core.LanguageEnglish, "Local IP")

	assert.Equal(t, "Local IP", d.GetOrDefault("LocalIp", "FR"))
	assert.Equal(t, "IP Local", d.GetOrDefault("LocalIp", "ES"))
	assert.Equal(t, "IP Local", d.GetOrDefault("LocalIp", "es"))
	assert.Equal(t, "", d.GetOrDefault("Unknown", "ES"))
}

func TestI18n_FallsBackToFirstLanguage(t *testing.T) {
	d := NewI18n(
		I18nEntry{Key: "Greeting", Language: "FR", Text: "Bonjour"},
		I18nEntry{Key: "Greeting", Language: "DE", Text: "Hallo"},
	)
	assert.Equal(t, "Hallo", d.GetOrDefault("Greeting", "IT"))
}

func TestApplyI18n(t *testing.T) {
	old := NewI18n(
		I18nEntry{Key: "A", Language: "EN", Text: "a"},
		I18nEntry{Key: "A", Language: "ES", Text: "á"},
		I18nEntry{Key: "B", Language: "EN", Text: "b"},
	)
	next := ApplyI18n(old, []Command[I18n, I18nEntry]{
		Remove[I18n](I18nEntry{Key: "A", Language: "ES"}),
		Remove[I18n](I18nEntry{Key: "B"}),
		Add[I18n](I18nEntry{Key: "C", Language: "EN", Text: "c"}),
	})

	assert.Equal(t, "á", old.GetOrDefault("A", "ES"))
	assert.Equal(t, "a", next.GetOrDefault("A", "ES"))
	assert.False(t, next.MatchValue("B"))
	assert.True(t, next.MatchValue("C"))
}

func TestTextSet(t *testing.T) {
	set := NewTextSet("evil.example", "bad.example")
	assert.True(t, set.MatchValue("evil.example"))
	assert.False(t, set.MatchValue("good.example"))
	assert.False(t, set.MatchValue(nil))
	assert.Equal(t, []string{"bad.example", "evil.example"}, set.Values())
}

func TestTextDatasets_NumericFields(t *testing.T) {
	set := NewTextSet("1000000", "443", "0.5")
	assert.True(t, set.MatchValue(float64(1e6)))
	assert.True(t, set.MatchValue(443))
	assert.True(t, set.MatchValue(uint16(443)))
	assert.True(t, set.MatchValue(float32(0.5)))
	assert.False(t, set.MatchValue(1e7))

	m := NewTextMap(TextEntry{Key: "2500000", Value: "large"})
	assert.True(t, m.MatchValue(2.5e6))
}

func TestApplyTextMap(t *testing.T) {
	old := NewTextMap(TextEntry{Key: "alice", Value: "finance"})
	next := ApplyTextMap(old, []Command[TextMap, TextEntry]{
		Add[TextMap](TextEntry{Key: "bob", Value: "it"}),
		Add[TextMap](TextEntry{Key: "alice", Value: "hr"}),
	})

	v, _ := old.Get("alice")
	assert.Equal(t, "finance", v)
	v, _ = next.Get("alice")
	assert.Equal(t, "hr", v)
	assert.True(t, next.MatchValue("bob"))
}

func TestApplyTextMapList(t *testing.T) {
	old := NewTextMapList(TextListEntry{Key: "web01", Values: []string{"80"}})
	next := ApplyTextMapList(old, []Command[TextMapList, TextListEntry]{
		Add[TextMapList](TextListEntry{Key: "web01", Values: []string{"443", "80"}}),
	})

	v, _ := old.Get("web01")
	assert.Equal(t, []string{"80"}, v)
	v, _ = next.Get("web01")
	assert.Equal(t, []string{"80", "443"}, v)
}

func TestRuleCatalog_Fold(t *testing.T) {
	r1 := &core.SiemRule{ID: "r1", Name: "one", Enabled: true}
	r1b := &core.SiemRule{ID: "r1", Name: "one v2", Enabled: true}
	r2 := &core.SiemRule{ID: "r2", Name: "two"}
	r3 := &core.SiemRule{ID: "r3", Name: "three", Enabled: true}

	old := NewRuleCatalog(r1, r2)
	next := ApplyRuleCatalog(old, []Command[RuleCatalog, *core.SiemRule]{
		Add[RuleCatalog](r1b),
		Remove[RuleCatalog](&core.SiemRule{ID: "r2"}),
	})

	got, _ := next.Get("r1")
	assert.Equal(t, "one v2", got.Name, "last write wins")
	assert.False(t, next.MatchValue("r2"))
	assert.Equal(t, 2, old.Len())

	reset := ApplyRuleCatalog(next, []Command[RuleCatalog, *core.SiemRule]{
		Add[RuleCatalog](r2),
		Replace[RuleCatalog, *core.SiemRule](NewRuleCatalog(r3)),
		Add[RuleCatalog](r1),
	})
	ids := make([]string, 0)
	for _, r := range reset.Rules() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r1", "r3"}, ids, "Replace resets; later adds apply on top")
	assert.Len(t, reset.Enabled(), 2)
}
