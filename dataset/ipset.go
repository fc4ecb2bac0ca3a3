package dataset

import (
	"net/netip"
	"sort"

	"argus/core"
)

// IPSet is an exact-membership set of addresses. IPv4 addresses are kept as a
// sorted []uint32 and IPv6 addresses as a sorted []netip.Addr; lookups are
// binary searches.
type IPSet struct {
	v4 []uint32
	v6 []netip.Addr
}

// NewIPSet builds a set from addrs. Invalid addresses are skipped.
func NewIPSet(addrs ...netip.Addr) *IPSet {
	set := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		if a.IsValid() {
			set[a.Unmap().WithZone("")] = struct{}{}
		}
	}
	return ipSetFromMap(set)
}

func ipSetFromMap(set map[netip.Addr]struct{}) *IPSet {
	s := &IPSet{}
	for a := range set {
		if a.Is4() {
			s.v4 = append(s.v4, v4Uint(a))
		} else {
			s.v6 = append(s.v6, a)
		}
	}
	sort.Slice(s.v4, func(i, j int) bool { return s.v4[i] < s.v4[j] })
	sort.Slice(s.v6, func(i, j int) bool { return s.v6[i].Less(s.v6[j]) })
	return s
}

// Contains reports whether ip is a member
func (s *IPSet) Contains(ip netip.Addr) bool {
	if s == nil || !ip.IsValid() {
		return false
	}
	ip = ip.Unmap()
	if ip.Is4() {
		key := v4Uint(ip)
		i := sort.Search(len(s.v4), func(i int) bool { return s.v4[i] >= key })
		return i < len(s.v4) && s.v4[i] == key
	}
	ip = ip.WithZone("")
	i := sort.Search(len(s.v6), func(i int) bool { return !s.v6[i].Less(ip) })
	return i < len(s.v6) && s.v6[i] == ip
}

// MatchValue implements Matcher
func (s *IPSet) MatchValue(v interface{}) bool {
	ip, ok := AddrOf(v)
	return ok && s.Contains(ip)
}

// Len returns the number of addresses
func (s *IPSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.v4) + len(s.v6)
}

// Addrs returns the members, IPv4 first, each family in ascending order
func (s *IPSet) Addrs() []netip.Addr {
	out := make([]netip.Addr, 0, s.Len())
	if s == nil {
		return out
	}
	for _, k := range s.v4 {
		out = append(out, netip.AddrFrom4([4]byte{byte(k >> 24), byte(k >> 16), byte(k >> 8), byte(k)}))
	}
	return append(out, s.v6...)
}

// ApplyIPSet folds commands into a new IPSet
func ApplyIPSet(old *IPSet, batch []Command[IPSet, netip.Addr]) *IPSet {
	set := make(map[netip.Addr]struct{}, old.Len())
	for _, a := range old.Addrs() {
		set[a] = struct{}{}
	}
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			clear(set)
			for _, a := range cmd.Snapshot.Addrs() {
				set[a] = struct{}{}
			}
		case OpAdd:
			if cmd.Entry.IsValid() {
				set[cmd.Entry.Unmap().WithZone("")] = struct{}{}
			}
		case OpRemove:
			delete(set, cmd.Entry.Unmap().WithZone(""))
		}
	}
	return ipSetFromMap(set)
}

// NewIPSetHandle creates a handle serving an IPSet
func NewIPSetHandle(kind core.DatasetKind, opts HandleOptions) *Handle[IPSet, netip.Addr] {
	return NewHandle[IPSet, netip.Addr](kind, NewIPSet(), ApplyIPSet, opts)
}
