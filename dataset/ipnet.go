package dataset

import (
	"fmt"
	"math/bits"
	"net/netip"
	"sort"

	"argus/core"
)

// NetEntry associates a network with a value
type NetEntry[V any] struct {
	Prefix netip.Prefix
	Value  V
}

// IPNet is a prefix-indexed map: for each address family, a map from prefix
// length to a map from masked network address to value.
//
// Insert mutates and is meant for snapshots that have not been published yet;
// published snapshots are replaced through ApplyIPNet.
type IPNet[V any] struct {
	v4 netBuckets[V]
	v6 netBuckets[V]
}

type netBuckets[V any] struct {
	byLen   map[int]map[netip.Addr]V
	lengths []int // ascending
}

// NewIPNet builds an empty prefix map
func NewIPNet[V any]() *IPNet[V] {
	return &IPNet[V]{}
}

// Insert masks ip to bits and stores v under that prefix
func (n *IPNet[V]) Insert(ip netip.Addr, bitLen int, v V) error {
	if !ip.IsValid() {
		return fmt.Errorf("invalid network address")
	}
	ip = ip.Unmap().WithZone("")
	prefix, err := ip.Prefix(bitLen)
	if err != nil {
		return fmt.Errorf("invalid prefix %s/%d: %w", ip, bitLen, err)
	}
	n.family(ip).put(bitLen, prefix.Addr(), v)
	return nil
}

// InsertPrefix is Insert for a netip.Prefix
func (n *IPNet[V]) InsertPrefix(p netip.Prefix, v V) error {
	return n.Insert(p.Addr(), p.Bits(), v)
}

func (n *IPNet[V]) family(ip netip.Addr) *netBuckets[V] {
	if ip.Is4() {
		return &n.v4
	}
	return &n.v6
}

func (b *netBuckets[V]) put(bitLen int, masked netip.Addr, v V) {
	if b.byLen == nil {
		b.byLen = make(map[int]map[netip.Addr]V)
	}
	bucket, ok := b.byLen[bitLen]
	if !ok {
		bucket = make(map[netip.Addr]V)
		b.byLen[bitLen] = bucket
		i := sort.SearchInts(b.lengths, bitLen)
		b.lengths = append(b.lengths, 0)
		copy(b.lengths[i+1:], b.lengths[i:])
		b.lengths[i] = bitLen
	}
	bucket[masked] = v
}

func (b *netBuckets[V]) remove(bitLen int, masked netip.Addr) {
	bucket, ok := b.byLen[bitLen]
	if !ok {
		return
	}
	delete(bucket, masked)
	if len(bucket) == 0 {
		delete(b.byLen, bitLen)
		i := sort.SearchInts(b.lengths, bitLen)
		b.lengths = append(b.lengths[:i], b.lengths[i+1:]...)
	}
}

// Lookup finds a value for ip. With z the number of trailing zero bits of ip,
// prefix lengths from z up to the address width are tried in ascending order
// and the first hit is returned. This is not a longest-prefix match: when
// several stored networks contain ip the shortest one scanned wins, and
// networks shorter than z are never considered. Use LongestMatch for
// longest-prefix semantics.
func (n *IPNet[V]) Lookup(ip netip.Addr) (V, bool) {
	var zero V
	if n == nil || !ip.IsValid() {
		return zero, false
	}
	ip = ip.Unmap().WithZone("")
	b := n.family(ip)
	z := trailingZeros(ip)
	for _, l := range b.lengths {
		if l < z {
			continue
		}
		if v, ok := b.at(ip, l); ok {
			return v, true
		}
	}
	return zero, false
}

// LongestMatch returns the value of the most specific stored network
// containing ip.
func (n *IPNet[V]) LongestMatch(ip netip.Addr) (V, bool) {
	var zero V
	if n == nil || !ip.IsValid() {
		return zero, false
	}
	ip = ip.Unmap().WithZone("")
	b := n.family(ip)
	for i := len(b.lengths) - 1; i >= 0; i-- {
		if v, ok := b.at(ip, b.lengths[i]); ok {
			return v, true
		}
	}
	return zero, false
}

func (b *netBuckets[V]) at(ip netip.Addr, bitLen int) (V, bool) {
	var zero V
	prefix, err := ip.Prefix(bitLen)
	if err != nil {
		return zero, false
	}
	v, ok := b.byLen[bitLen][prefix.Addr()]
	return v, ok
}

// MatchValue implements Matcher using Lookup
func (n *IPNet[V]) MatchValue(v interface{}) bool {
	ip, ok := AddrOf(v)
	if !ok {
		return false
	}
	_, found := n.Lookup(ip)
	return found
}

// Len returns the number of stored networks
func (n *IPNet[V]) Len() int {
	if n == nil {
		return 0
	}
	total := 0
	for _, bucket := range n.v4.byLen {
		total += len(bucket)
	}
	for _, bucket := range n.v6.byLen {
		total += len(bucket)
	}
	return total
}

// Entries returns the stored networks ordered by family, length and address
func (n *IPNet[V]) Entries() []NetEntry[V] {
	out := make([]NetEntry[V], 0, n.Len())
	if n == nil {
		return out
	}
	for _, b := range []*netBuckets[V]{&n.v4, &n.v6} {
		for _, l := range b.lengths {
			start := len(out)
			for addr, v := range b.byLen[l] {
				out = append(out, NetEntry[V]{Prefix: netip.PrefixFrom(addr, l), Value: v})
			}
			part := out[start:]
			sort.Slice(part, func(i, j int) bool { return part[i].Prefix.Addr().Less(part[j].Prefix.Addr()) })
		}
	}
	return out
}

func (n *IPNet[V]) clone() *IPNet[V] {
	out := NewIPNet[V]()
	for _, e := range n.Entries() {
		_ = out.InsertPrefix(e.Prefix, e.Value)
	}
	return out
}

// ApplyIPNet folds commands into a new IPNet. Remove matches the masked
// prefix exactly.
func ApplyIPNet[V any](old *IPNet[V], batch []Command[IPNet[V], NetEntry[V]]) *IPNet[V] {
	next := old.clone()
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			next = cmd.Snapshot.clone()
		case OpAdd:
			_ = next.InsertPrefix(cmd.Entry.Prefix, cmd.Entry.Value)
		case OpRemove:
			p := cmd.Entry.Prefix
			if !p.IsValid() {
				continue
			}
			addr := p.Addr().Unmap()
			if masked, err := addr.Prefix(p.Bits()); err == nil {
				next.family(addr).remove(p.Bits(), masked.Addr())
			}
		}
	}
	return next
}

// NewIPNetHandle creates a handle serving an IPNet
func NewIPNetHandle[V any](kind core.DatasetKind, opts HandleOptions) *Handle[IPNet[V], NetEntry[V]] {
	return NewHandle[IPNet[V], NetEntry[V]](kind, NewIPNet[V](), ApplyIPNet[V], opts)
}

// trailingZeros counts the trailing zero bits of ip within its family width
func trailingZeros(ip netip.Addr) int {
	if ip.Is4() {
		return bits.TrailingZeros32(v4Uint(ip))
	}
	b := ip.As16()
	var hi, lo uint64
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(b[i])
		lo = lo<<8 | uint64(b[i+8])
	}
	if lo != 0 {
		return bits.TrailingZeros64(lo)
	}
	return 64 + bits.TrailingZeros64(hi)
}

// GeoIPInfo is the location data attached to a network
type GeoIPInfo struct {
	Country    string  `json:"country"`
	CountryISO string  `json:"country_iso"`
	City       string  `json:"city,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	ISP        string  `json:"isp,omitempty"`
	ASN        uint32  `json:"asn,omitempty"`
}

// GeoIP is the prefix map used by InCountry conditions
type GeoIP = IPNet[GeoIPInfo]

// GeoIPEntry is one network of a GeoIP dataset
type GeoIPEntry = NetEntry[GeoIPInfo]

// NewGeoIPHandle creates the handle serving the geo-ip dataset
func NewGeoIPHandle(opts HandleOptions) *Handle[GeoIP, GeoIPEntry] {
	return NewIPNetHandle[GeoIPInfo](core.KindGeoIP, opts)
}
