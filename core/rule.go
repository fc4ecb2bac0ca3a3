package core

import (
	"sort"
	"time"
)

// MitreInfo carries the ATT&CK classification attached to a rule
type MitreInfo struct {
	Tactics    []string `json:"tactics,omitempty" yaml:"tactics,omitempty"`
	Techniques []string `json:"techniques,omitempty" yaml:"techniques,omitempty"`
}

// SiemRule is a detection definition: named subrules combined in disjunctive
// normal form. The rule fires once per clause of Conditions whose every
// subrule matched.
type SiemRule struct {
	ID             string                 `json:"id" validate:"required,max=256"`
	Name           string                 `json:"name" validate:"required"`
	Description    string                 `json:"description,omitempty"`
	Enabled        bool                   `json:"enabled"`
	Mitre          MitreInfo              `json:"mitre"`
	NeededDatasets []DatasetKind          `json:"needed_datasets,omitempty"`
	Subrules       map[string]SiemSubRule `json:"-" validate:"min=1"`
	Conditions     [][]string             `json:"conditions" validate:"min=1,dive,min=1"`
	Alert          AlertGenerator         `json:"-"`
	Version        int                    `json:"version"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// SiemSubRule is an AND-group of field conditions. When State is set the
// subrule additionally requires the correlation threshold to be reached.
type SiemSubRule struct {
	Conditions []RuleCondition
	State      *RuleState
}

// RuleCondition applies Operator to the value found at Field
type RuleCondition struct {
	Field    string
	Operator RuleOperator
}

// RuleState configures a sliding-window correlation for a subrule.
// Every time the subrule's conditions match, one observation is recorded for
// the key built from KeyFields; the subrule matches once Threshold
// observations are live inside Window.
type RuleState struct {
	// Name is the correlation family. Empty means "<rule id>/<subrule>".
	Name      string        `validate:"omitempty,max=128"`
	KeyFields []string      `validate:"dive,required"`
	Window    time.Duration `validate:"min=1ms"`
	Threshold int           `validate:"gte=1"`
}

// GetID returns the rule ID
func (r *SiemRule) GetID() string {
	return r.ID
}

// GetName returns the rule name
func (r *SiemRule) GetName() string {
	return r.Name
}

// SubruleNames returns the subrule names in lexical order
func (r *SiemRule) SubruleNames() []string {
	names := make([]string, 0, len(r.Subrules))
	for name := range r.Subrules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Family returns the correlation family of a stateful subrule
func (s *RuleState) Family(ruleID, subrule string) string {
	if s.Name != "" {
		return s.Name
	}
	return ruleID + "/" + subrule
}

// Clone returns a copy of the rule whose slices and maps can be modified
// without affecting r. Operator trees are immutable and shared.
func (r *SiemRule) Clone() *SiemRule {
	if r == nil {
		return nil
	}
	out := *r
	out.Mitre = MitreInfo{
		Tactics:    append([]string(nil), r.Mitre.Tactics...),
		Techniques: append([]string(nil), r.Mitre.Techniques...),
	}
	out.NeededDatasets = append([]DatasetKind(nil), r.NeededDatasets...)
	out.Subrules = make(map[string]SiemSubRule, len(r.Subrules))
	for name, sub := range r.Subrules {
		cp := SiemSubRule{Conditions: append([]RuleCondition(nil), sub.Conditions...)}
		if sub.State != nil {
			st := *sub.State
			st.KeyFields = append([]string(nil), sub.State.KeyFields...)
			cp.State = &st
		}
		out.Subrules[name] = cp
	}
	out.Conditions = make([][]string, len(r.Conditions))
	for i, clause := range r.Conditions {
		out.Conditions[i] = append([]string(nil), clause...)
	}
	out.Alert = r.Alert.clone()
	return &out
}
