package detect

import (
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
)

func TestAlertRenderer_Description(t *testing.T) {
	r := NewAlertRenderer()
	event := newEvent(map[string]interface{}{
		"user":  "alice",
		"bytes": 1.5,
		"tags":  []interface{}{"a", "b"},
	})
	content := []core.AlertContent{
		core.Text("user="), core.Field("user"),
		core.Text(" bytes="), core.Field("bytes"),
		core.Text(" tags="), core.Field("tags"),
		core.Text(" missing=["), core.Field("nope"), core.Text("]"),
		core.Text(" rules="), core.MatchedRules(),
		core.Text(" count="), core.StateCount(),
	}
	got := r.Description(content, event, []string{"A", "B"}, map[string]int{"A": 2, "B": 7, "C": 9})
	assert.Equal(t, "user=alice bytes=1.5 tags=a,b missing=[] rules=A, B count=7", got)
}

func TestAlertRenderer_StateCountWithoutState(t *testing.T) {
	r := NewAlertRenderer()
	got := r.Description([]core.AlertContent{core.StateCount()}, newEvent(nil), []string{"A"}, nil)
	assert.Equal(t, "0", got)
}

func TestAlertRenderer_Render(t *testing.T) {
	r := &AlertRenderer{newID: func() string { return "alert-1" }}
	rule := &core.SiemRule{
		ID:    "r1",
		Name:  "Rule one",
		Mitre: core.MitreInfo{Tactics: []string{"credential-access"}, Techniques: []string{"T1110"}},
		Alert: core.AlertGenerator{
			Content:     core.ParseTemplate("Login by $user.name"),
			Tags:        []string{"auth"},
			Aggregation: &core.AlertAggregation{Window: time.Minute},
		},
	}
	event := newEvent(map[string]interface{}{"user.name": "bob"})

	alert := r.Render(rule, event, []string{"s"}, nil, testEpoch)
	assert.Equal(t, "alert-1", alert.ID)
	assert.Equal(t, "Rule one", alert.Title)
	assert.Equal(t, "Login by bob", alert.Description)
	assert.Equal(t, core.SeverityMedium, alert.Severity)
	assert.Equal(t, []string{"T1110"}, alert.Mitre.Techniques)
	assert.Equal(t, "r1", alert.Aggregation.Key)
	assert.Equal(t, testEpoch.Add(time.Minute), alert.Aggregation.WindowEnd)
	assert.Equal(t, event.Fields, alert.Log.Fields)
}
