package dataset

import (
	"net/netip"
	"sort"

	"argus/core"
)

// IPMapEntry associates one address with a value
type IPMapEntry struct {
	Addr  netip.Addr
	Value string
}

// IPMap maps exact addresses to a single value (e.g. asset owner)
type IPMap struct {
	entries map[netip.Addr]string
}

// NewIPMap builds a map from entries; later entries win
func NewIPMap(entries ...IPMapEntry) *IPMap {
	m := &IPMap{entries: make(map[netip.Addr]string, len(entries))}
	for _, e := range entries {
		if e.Addr.IsValid() {
			m.entries[e.Addr.Unmap().WithZone("")] = e.Value
		}
	}
	return m
}

// Get returns the value for ip
func (m *IPMap) Get(ip netip.Addr) (string, bool) {
	if m == nil || !ip.IsValid() {
		return "", false
	}
	v, ok := m.entries[ip.Unmap().WithZone("")]
	return v, ok
}

// MatchValue implements Matcher; an address matches when it has an entry
func (m *IPMap) MatchValue(v interface{}) bool {
	ip, ok := AddrOf(v)
	if !ok {
		return false
	}
	_, found := m.Get(ip)
	return found
}

// Len returns the number of entries
func (m *IPMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in address order
func (m *IPMap) Entries() []IPMapEntry {
	out := make([]IPMapEntry, 0, m.Len())
	if m == nil {
		return out
	}
	for a, v := range m.entries {
		out = append(out, IPMapEntry{Addr: a, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}

// ApplyIPMap folds commands into a new IPMap
func ApplyIPMap(old *IPMap, batch []Command[IPMap, IPMapEntry]) *IPMap {
	next := NewIPMap(old.Entries()...)
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			next = NewIPMap(cmd.Snapshot.Entries()...)
		case OpAdd:
			if cmd.Entry.Addr.IsValid() {
				next.entries[cmd.Entry.Addr.Unmap().WithZone("")] = cmd.Entry.Value
			}
		case OpRemove:
			delete(next.entries, cmd.Entry.Addr.Unmap().WithZone(""))
		}
	}
	return next
}

// NewIPMapHandle creates a handle serving an IPMap
func NewIPMapHandle(kind core.DatasetKind, opts HandleOptions) *Handle[IPMap, IPMapEntry] {
	return NewHandle[IPMap, IPMapEntry](kind, NewIPMap(), ApplyIPMap, opts)
}

// IPMapListEntry associates one address with a list of values
type IPMapListEntry struct {
	Addr   netip.Addr
	Values []string
}

// IPMapList maps exact addresses to lists of values (e.g. hostnames seen)
type IPMapList struct {
	entries map[netip.Addr][]string
}

// NewIPMapList builds a list map; entries for the same address are merged
func NewIPMapList(entries ...IPMapListEntry) *IPMapList {
	m := &IPMapList{entries: make(map[netip.Addr][]string, len(entries))}
	for _, e := range entries {
		m.add(e)
	}
	return m
}

func (m *IPMapList) add(e IPMapListEntry) {
	if !e.Addr.IsValid() {
		return
	}
	key := e.Addr.Unmap().WithZone("")
	// never append in place: the backing array may belong to a published snapshot
	m.entries[key] = appendUnique(append([]string(nil), m.entries[key]...), e.Values...)
}

// Get returns the values for ip
func (m *IPMapList) Get(ip netip.Addr) ([]string, bool) {
	if m == nil || !ip.IsValid() {
		return nil, false
	}
	v, ok := m.entries[ip.Unmap().WithZone("")]
	return v, ok
}

// MatchValue implements Matcher
func (m *IPMapList) MatchValue(v interface{}) bool {
	ip, ok := AddrOf(v)
	if !ok {
		return false
	}
	_, found := m.Get(ip)
	return found
}

// Len returns the number of addresses
func (m *IPMapList) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in address order
func (m *IPMapList) Entries() []IPMapListEntry {
	out := make([]IPMapListEntry, 0, m.Len())
	if m == nil {
		return out
	}
	for a, v := range m.entries {
		out = append(out, IPMapListEntry{Addr: a, Values: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}

// ApplyIPMapList folds commands into a new IPMapList. Add merges values into
// the address's list; Remove drops the address.
func ApplyIPMapList(old *IPMapList, batch []Command[IPMapList, IPMapListEntry]) *IPMapList {
	next := NewIPMapList(old.Entries()...)
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			next = NewIPMapList(cmd.Snapshot.Entries()...)
		case OpAdd:
			next.add(cmd.Entry)
		case OpRemove:
			delete(next.entries, cmd.Entry.Addr.Unmap().WithZone(""))
		}
	}
	return next
}

// NewIPMapListHandle creates a handle serving an IPMapList
func NewIPMapListHandle(kind core.DatasetKind, opts HandleOptions) *Handle[IPMapList, IPMapListEntry] {
	return NewHandle[IPMapList, IPMapListEntry](kind, NewIPMapList(), ApplyIPMapList, opts)
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
