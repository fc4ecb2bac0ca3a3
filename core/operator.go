package core

import (
	"net/netip"

	"github.com/dlclark/regexp2"
)

// RuleOperator is the closed set of predicates a RuleCondition applies to one
// field. Operator trees are built once at load time and never mutated, so a
// tree can be shared by any number of evaluating goroutines.
type RuleOperator interface {
	// OperatorName returns the canonical operator name used in rule documents
	OperatorName() string
	sealed()
}

// All succeeds when every inner operator succeeds. An empty All is true.
type All struct {
	Operators []RuleOperator
}

// Any succeeds when at least one inner operator succeeds. An empty Any is false.
type Any struct {
	Operators []RuleOperator
}

// Not negates its inner operator
type Not struct {
	Operator RuleOperator
}

// Equals compares the field to Value using numeric-text coercion
type Equals struct {
	Value interface{}
}

// StartsWith matches a prefix of the field's text form
type StartsWith struct {
	Value string
}

// EndsWith matches a suffix of the field's text form
type EndsWith struct {
	Value string
}

// Contains matches a substring of the field's text form
type Contains struct {
	Value string
}

// GT is field > Value
type GT struct {
	Value interface{}
}

// LT is field < Value
type LT struct {
	Value interface{}
}

// GTE is field >= Value
type GTE struct {
	Value interface{}
}

// LTE is field <= Value
type LTE struct {
	Value interface{}
}

// Matches applies a regular expression to the field's text form.
// Regex is filled in by CompileRule; an uncompiled Matches never succeeds.
type Matches struct {
	Pattern string
	Regex   *regexp2.Regexp
}

// SameNet succeeds when the field is an IP inside Network/Bits
type SameNet struct {
	Network netip.Addr
	Bits    int
}

// IsLocalIP succeeds for private, loopback, link-local and unspecified addresses
type IsLocalIP struct{}

// IsExternalIP succeeds for valid addresses that are not local
type IsExternalIP struct{}

// Exists tests field presence. Exists{Present: false} succeeds only when the
// field is absent.
type Exists struct {
	Present bool
}

// IsNull succeeds when the field is absent, nil or an empty string
type IsNull struct{}

// B64 decodes the field's text form as base64 and applies Operator to the
// decoded text. Undecodable input never matches.
type B64 struct {
	Operator RuleOperator
}

// InDataset succeeds when the field is a member of the dataset Kind
type InDataset struct {
	Kind DatasetKind
}

// ExistsRuleState succeeds when any of the named correlation families holds
// live state for the field's value
type ExistsRuleState struct {
	States []string
}

// InCountry succeeds when the field is an IP whose geo-ip country ISO code is
// one of Countries
type InCountry struct {
	Countries []string
}

func (All) OperatorName() string             { return "all" }
func (Any) OperatorName() string             { return "any" }
func (Not) OperatorName() string             { return "not" }
func (Equals) OperatorName() string          { return "equals" }
func (StartsWith) OperatorName() string      { return "starts_with" }
func (EndsWith) OperatorName() string        { return "ends_with" }
func (Contains) OperatorName() string        { return "contains" }
func (GT) OperatorName() string              { return "gt" }
func (LT) OperatorName() string              { return "lt" }
func (GTE) OperatorName() string             { return "gte" }
func (LTE) OperatorName() string             { return "lte" }
func (Matches) OperatorName() string         { return "matches" }
func (SameNet) OperatorName() string         { return "same_net" }
func (IsLocalIP) OperatorName() string       { return "is_local_ip" }
func (IsExternalIP) OperatorName() string    { return "is_external_ip" }
func (Exists) OperatorName() string          { return "exists" }
func (IsNull) OperatorName() string          { return "is_null" }
func (B64) OperatorName() string             { return "b64" }
func (InDataset) OperatorName() string       { return "in_dataset" }
func (ExistsRuleState) OperatorName() string { return "exists_rule_state" }
func (InCountry) OperatorName() string       { return "in_country" }

func (All) sealed()             {}
func (Any) sealed()             {}
func (Not) sealed()             {}
func (Equals) sealed()          {}
func (StartsWith) sealed()      {}
func (EndsWith) sealed()        {}
func (Contains) sealed()        {}
func (GT) sealed()              {}
func (LT) sealed()              {}
func (GTE) sealed()             {}
func (LTE) sealed()             {}
func (Matches) sealed()         {}
func (SameNet) sealed()         {}
func (IsLocalIP) sealed()       {}
func (IsExternalIP) sealed()    {}
func (Exists) sealed()          {}
func (IsNull) sealed()          {}
func (B64) sealed()             {}
func (InDataset) sealed()       {}
func (ExistsRuleState) sealed() {}
func (InCountry) sealed()       {}

// IsPresenceOperator reports whether op only inspects field presence.
// These are the only leaves that can succeed on an absent field.
func IsPresenceOperator(op RuleOperator) bool {
	switch op.(type) {
	case Exists, IsNull:
		return true
	}
	return false
}

// WalkOperator calls fn for op and every nested operator, depth first.
// Returning false from fn stops the descent below that node.
func WalkOperator(op RuleOperator, fn func(RuleOperator) bool) {
	if op == nil || !fn(op) {
		return
	}
	switch o := op.(type) {
	case All:
		for _, inner := range o.Operators {
			WalkOperator(inner, fn)
		}
	case Any:
		for _, inner := range o.Operators {
			WalkOperator(inner, fn)
		}
	case Not:
		WalkOperator(o.Operator, fn)
	case B64:
		WalkOperator(o.Operator, fn)
	}
}
