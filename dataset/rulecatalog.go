package dataset

import (
	"sort"

	"argus/core"
)

// RuleCatalog is the set of compiled rules evaluated against every event.
// Rules are shared, immutable values; the catalog only indexes them.
type RuleCatalog struct {
	byID    map[string]*core.SiemRule
	ordered []*core.SiemRule
}

// NewRuleCatalog builds a catalog; for duplicate IDs the last rule wins
func NewRuleCatalog(rules ...*core.SiemRule) *RuleCatalog {
	byID := make(map[string]*core.SiemRule, len(rules))
	for _, r := range rules {
		if r != nil && r.ID != "" {
			byID[r.ID] = r
		}
	}
	return catalogFromMap(byID)
}

func catalogFromMap(byID map[string]*core.SiemRule) *RuleCatalog {
	c := &RuleCatalog{byID: byID, ordered: make([]*core.SiemRule, 0, len(byID))}
	for _, r := range byID {
		c.ordered = append(c.ordered, r)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })
	return c
}

// Get returns the rule with id
func (c *RuleCatalog) Get(id string) (*core.SiemRule, bool) {
	if c == nil {
		return nil, false
	}
	r, ok := c.byID[id]
	return r, ok
}

// Rules returns every rule in ID order. The slice must not be modified.
func (c *RuleCatalog) Rules() []*core.SiemRule {
	if c == nil {
		return nil
	}
	return c.ordered
}

// Enabled returns the enabled rules in ID order
func (c *RuleCatalog) Enabled() []*core.SiemRule {
	out := make([]*core.SiemRule, 0, c.Len())
	for _, r := range c.Rules() {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// MatchValue implements Matcher; a value matches when it is a known rule ID
func (c *RuleCatalog) MatchValue(v interface{}) bool {
	_, ok := c.Get(core.TextOf(v))
	return ok
}

// Len returns the number of rules
func (c *RuleCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ordered)
}

// ApplyRuleCatalog folds commands left to right: the last write per ID wins
// and Replace resets the catalog. Remove reads only the entry's ID.
func ApplyRuleCatalog(old *RuleCatalog, batch []Command[RuleCatalog, *core.SiemRule]) *RuleCatalog {
	byID := make(map[string]*core.SiemRule, old.Len())
	for _, r := range old.Rules() {
		byID[r.ID] = r
	}
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			clear(byID)
			for _, r := range cmd.Snapshot.Rules() {
				byID[r.ID] = r
			}
		case OpAdd:
			if cmd.Entry != nil && cmd.Entry.ID != "" {
				byID[cmd.Entry.ID] = cmd.Entry
			}
		case OpRemove:
			if cmd.Entry != nil {
				delete(byID, cmd.Entry.ID)
			}
		}
	}
	return catalogFromMap(byID)
}

// NewRuleCatalogHandle creates the handle serving the rule catalog
func NewRuleCatalogHandle(opts HandleOptions) *Handle[RuleCatalog, *core.SiemRule] {
	return NewHandle[RuleCatalog, *core.SiemRule](core.KindRules, NewRuleCatalog(), ApplyRuleCatalog, opts)
}
