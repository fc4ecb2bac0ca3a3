package dataset

import (
	"sort"

	"argus/core"
)

// TextEntry associates a key with a value
type TextEntry struct {
	Key   string
	Value string
}

// TextMap maps strings to strings (e.g. user -> department)
type TextMap struct {
	entries map[string]string
}

// NewTextMap builds a map from entries; later entries win
func NewTextMap(entries ...TextEntry) *TextMap {
	m := &TextMap{entries: make(map[string]string, len(entries))}
	for _, e := range entries {
		m.entries[e.Key] = e.Value
	}
	return m
}

// Get returns the value for key
func (m *TextMap) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.entries[key]
	return v, ok
}

// MatchValue implements Matcher; a key matches when present
func (m *TextMap) MatchValue(v interface{}) bool {
	_, ok := m.Get(core.TextOf(v))
	return ok
}

// Len returns the number of keys
func (m *TextMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in key order
func (m *TextMap) Entries() []TextEntry {
	out := make([]TextEntry, 0, m.Len())
	if m == nil {
		return out
	}
	for k, v := range m.entries {
		out = append(out, TextEntry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ApplyTextMap folds commands into a new TextMap
func ApplyTextMap(old *TextMap, batch []Command[TextMap, TextEntry]) *TextMap {
	next := NewTextMap(old.Entries()...)
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			next = NewTextMap(cmd.Snapshot.Entries()...)
		case OpAdd:
			next.entries[cmd.Entry.Key] = cmd.Entry.Value
		case OpRemove:
			delete(next.entries, cmd.Entry.Key)
		}
	}
	return next
}

// NewTextMapHandle creates a handle serving a TextMap
func NewTextMapHandle(kind core.DatasetKind, opts HandleOptions) *Handle[TextMap, TextEntry] {
	return NewHandle[TextMap, TextEntry](kind, NewTextMap(), ApplyTextMap, opts)
}

// TextListEntry associates a key with a list of values
type TextListEntry struct {
	Key    string
	Values []string
}

// TextMapList maps strings to lists of strings (e.g. host -> open ports)
type TextMapList struct {
	entries map[string][]string
}

// NewTextMapList builds a list map; entries for the same key are merged
func NewTextMapList(entries ...TextListEntry) *TextMapList {
	m := &TextMapList{entries: make(map[string][]string, len(entries))}
	for _, e := range entries {
		m.entries[e.Key] = appendUnique(append([]string(nil), m.entries[e.Key]...), e.Values...)
	}
	return m
}

// Get returns the values for key
func (m *TextMapList) Get(key string) ([]string, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.entries[key]
	return v, ok
}

// MatchValue implements Matcher
func (m *TextMapList) MatchValue(v interface{}) bool {
	_, ok := m.Get(core.TextOf(v))
	return ok
}

// Len returns the number of keys
func (m *TextMapList) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in key order
func (m *TextMapList) Entries() []TextListEntry {
	out := make([]TextListEntry, 0, m.Len())
	if m == nil {
		return out
	}
	for k, v := range m.entries {
		out = append(out, TextListEntry{Key: k, Values: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ApplyTextMapList folds commands into a new TextMapList. Add merges values;
// Remove drops the key.
func ApplyTextMapList(old *TextMapList, batch []Command[TextMapList, TextListEntry]) *TextMapList {
	next := NewTextMapList(old.Entries()...)
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			next = NewTextMapList(cmd.Snapshot.Entries()...)
		case OpAdd:
			next.entries[cmd.Entry.Key] = appendUnique(append([]string(nil), next.entries[cmd.Entry.Key]...), cmd.Entry.Values...)
		case OpRemove:
			delete(next.entries, cmd.Entry.Key)
		}
	}
	return next
}

// NewTextMapListHandle creates a handle serving a TextMapList
func NewTextMapListHandle(kind core.DatasetKind, opts HandleOptions) *Handle[TextMapList, TextListEntry] {
	return NewHandle[TextMapList, TextListEntry](kind, NewTextMapList(), ApplyTextMapList, opts)
}

// TextSet is an exact-membership set of strings (e.g. blocked domains)
type TextSet struct {
	members map[string]struct{}
}

// NewTextSet builds a set from values
func NewTextSet(values ...string) *TextSet {
	s := &TextSet{members: make(map[string]struct{}, len(values))}
	for _, v := range values {
		s.members[v] = struct{}{}
	}
	return s
}

// Contains reports whether value is a member
func (s *TextSet) Contains(value string) bool {
	if s == nil {
		return false
	}
	_, ok := s.members[value]
	return ok
}

// MatchValue implements Matcher
func (s *TextSet) MatchValue(v interface{}) bool {
	return s.Contains(core.TextOf(v))
}

// Len returns the number of members
func (s *TextSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.members)
}

// Values returns the members in order
func (s *TextSet) Values() []string {
	out := make([]string, 0, s.Len())
	if s == nil {
		return out
	}
	for v := range s.members {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ApplyTextSet folds commands into a new TextSet
func ApplyTextSet(old *TextSet, batch []Command[TextSet, string]) *TextSet {
	next := NewTextSet(old.Values()...)
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			next = NewTextSet(cmd.Snapshot.Values()...)
		case OpAdd:
			next.members[cmd.Entry] = struct{}{}
		case OpRemove:
			delete(next.members, cmd.Entry)
		}
	}
	return next
}

// NewTextSetHandle creates a handle serving a TextSet
func NewTextSetHandle(kind core.DatasetKind, opts HandleOptions) *Handle[TextSet, string] {
	return NewHandle[TextSet, string](kind, NewTextSet(), ApplyTextSet, opts)
}
