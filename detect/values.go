package detect

import (
	"encoding/base64"
	"errors"
	"math"
	"net/netip"
	"strconv"
	"strings"

	"argus/core"
	"argus/dataset"
)

var errUndecodable = errors.New("value is not valid base64")

// numberOf coerces numbers and numeric strings to float64. NaN and infinities
// are not numbers here, so "NaN" and "Inf" compare as text.
func numberOf(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), finite(float64(v))
	case float64:
		return v, finite(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && finite(f)
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// valuesEqual compares a field value with a rule value: numerically when both
// sides are numeric, as addresses when both are IPs, otherwise by text form
func valuesEqual(field, want interface{}) bool {
	if a, ok := numberOf(field); ok {
		if b, ok := numberOf(want); ok {
			return a == b
		}
	}
	if a, ok := dataset.AddrOf(field); ok {
		if b, ok := dataset.AddrOf(want); ok {
			return a == b
		}
	}
	if a, ok := field.(bool); ok {
		if b, ok := want.(bool); ok {
			return a == b
		}
	}
	return core.TextOf(field) == core.TextOf(want)
}

// compareValues orders field against want. Only numbers and addresses of the
// same family are ordered; anything else reports ok=false.
func compareValues(field, want interface{}) (int, bool) {
	if a, ok := numberOf(field); ok {
		if b, ok := numberOf(want); ok {
			switch {
			case a < b:
				return -1, true
			case a > b:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if a, ok := dataset.AddrOf(field); ok {
		if b, ok := dataset.AddrOf(want); ok && a.Is4() == b.Is4() {
			return a.Compare(b), true
		}
	}
	return 0, false
}

// decodeBase64 tries standard, URL-safe, raw standard and raw URL-safe
// encodings in that order
func decodeBase64(input string) (string, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(input); err == nil {
			return string(decoded), nil
		}
	}
	return "", errUndecodable
}

func isLocalAddr(ip netip.Addr) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
