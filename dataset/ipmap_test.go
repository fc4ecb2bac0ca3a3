package dataset

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPMap_Get(t *testing.T) {
	m := NewIPMap(
		IPMapEntry{Addr: netip.MustParseAddr("10.0.0.1"), Value: "alice"},
		IPMapEntry{Addr: netip.MustParseAddr("::ffff:10.0.0.2"), Value: "bob"},
		IPMapEntry{Addr: netip.MustParseAddr("10.0.0.1"), Value: "carol"},
		IPMapEntry{Value: "ignored"},
	)
	assert.Equal(t, 2, m.Len())

	v, ok := m.Get(netip.MustParseAddr("10.0.0.1"))
	assert.True(t, ok)
	assert.Equal(t, "carol", v, "later entries win")
	v, ok = m.Get(netip.MustParseAddr("10.0.0.2"))
	assert.True(t, ok)
	assert.Equal(t, "bob", v)

	assert.True(t, m.MatchValue("::ffff:10.0.0.1"))
	assert.False(t, m.MatchValue("10.0.0.3"))
	assert.False(t, m.MatchValue("host"))
}

func TestApplyIPMap(t *testing.T) {
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	c := netip.MustParseAddr("2001:db8::1")

	old := NewIPMap(IPMapEntry{Addr: a, Value: "alice"}, IPMapEntry{Addr: b, Value: "bob"})
	next := ApplyIPMap(old, []Command[IPMap, IPMapEntry]{
		Add[IPMap](IPMapEntry{Addr: a, Value: "alice-laptop"}),
		Add[IPMap](IPMapEntry{Addr: c, Value: "carol"}),
		Remove[IPMap](IPMapEntry{Addr: netip.MustParseAddr("::ffff:10.0.0.2")}),
	})

	v, _ := next.Get(a)
	assert.Equal(t, "alice-laptop", v, "add overwrites")
	_, ok := next.Get(b)
	assert.False(t, ok, "remove drops the address")
	v, _ = next.Get(c)
	assert.Equal(t, "carol", v)

	// the previous snapshot is untouched
	v, _ = old.Get(a)
	assert.Equal(t, "alice", v)
	assert.True(t, old.MatchValue(b))
	assert.False(t, old.MatchValue(c))

	replaced := ApplyIPMap(next, []Command[IPMap, IPMapEntry]{
		Replace[IPMap, IPMapEntry](NewIPMap(IPMapEntry{Addr: b, Value: "bob"})),
		Add[IPMap](IPMapEntry{Addr: c, Value: "dave"}),
	})
	assert.Equal(t, []IPMapEntry{{Addr: b, Value: "bob"}, {Addr: c, Value: "dave"}}, replaced.Entries())
	assert.Equal(t, 2, next.Len())
}

func TestApplyIPMapList(t *testing.T) {
	a := netip.MustParseAddr("192.168.1.10")
	b := netip.MustParseAddr("192.168.1.11")

	old := NewIPMapList(
		IPMapListEntry{Addr: a, Values: []string{"web01"}},
		IPMapListEntry{Addr: b, Values: []string{"db01"}},
	)
	next := ApplyIPMapList(old, []Command[IPMapList, IPMapListEntry]{
		Add[IPMapList](IPMapListEntry{Addr: a, Values: []string{"www", "web01"}}),
		Remove[IPMapList](IPMapListEntry{Addr: b}),
	})

	v, _ := next.Get(a)
	assert.Equal(t, []string{"web01", "www"}, v, "add merges without duplicates")
	assert.False(t, next.MatchValue(b.String()))

	v, _ = old.Get(a)
	assert.Equal(t, []string{"web01"}, v)
	assert.True(t, old.MatchValue(b.String()))

	replaced := ApplyIPMapList(next, []Command[IPMapList, IPMapListEntry]{
		Replace[IPMapList, IPMapListEntry](NewIPMapList(IPMapListEntry{Addr: b, Values: []string{"db02"}})),
	})
	assert.Equal(t, []IPMapListEntry{{Addr: b, Values: []string{"db02"}}}, replaced.Entries())
	_, ok := replaced.Get(a)
	assert.False(t, ok, "replace resets the map")
}
