package core

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// TextOf returns the text form of a field value used by string operators,
// text datasets, field rendering and correlation keys. Numbers render in
// plain decimal notation and lists as their comma-joined elements.
func TextOf(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case netip.Addr:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case []interface{}, []string:
		parts := Elements(v)
		texts := make([]string, len(parts))
		for i, p := range parts {
			texts[i] = TextOf(p)
		}
		return strings.Join(texts, ",")
	default:
		return fmt.Sprint(v)
	}
}

// Elements expands multi-valued fields. Scalars are a one-element list.
func Elements(value interface{}) []interface{} {
	switch v := value.(type) {
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []interface{}{value}
	}
}
