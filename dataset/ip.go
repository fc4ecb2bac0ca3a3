package dataset

import (
	"net"
	"net/netip"
	"strings"
)

// AddrOf converts a field value into an address. Strings, netip.Addr and
// net.IP are accepted; IPv4-mapped IPv6 addresses are unmapped so that both
// spellings of an IPv4 address compare equal.
func AddrOf(v interface{}) (netip.Addr, bool) {
	var addr netip.Addr
	switch val := v.(type) {
	case netip.Addr:
		addr = val
	case string:
		parsed, err := netip.ParseAddr(strings.TrimSpace(val))
		if err != nil {
			return netip.Addr{}, false
		}
		addr = parsed
	case net.IP:
		parsed, ok := netip.AddrFromSlice(val)
		if !ok {
			return netip.Addr{}, false
		}
		addr = parsed
	case []byte:
		return AddrOf(string(val))
	default:
		return netip.Addr{}, false
	}
	if !addr.IsValid() {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}

func v4Uint(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
