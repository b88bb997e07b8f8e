package record

import (
	"fmt"
	"strconv"
)

// KeyString renders a primary or foreign key value as text.
// nil renders as the empty string.
func KeyString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case []byte:
		return string(k)
	case int:
		return strconv.Itoa(k)
	case int64:
		return strconv.FormatInt(k, 10)
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64)
	default:
		return fmt.Sprint(k)
	}
}

// KeySet coerces an array-of-ids attribute value into a string slice.
// Accepts nil, []string, []any and a single scalar.
func KeySet(v any) []string {
	switch k := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), k...)
	case []any:
		out := make([]string, 0, len(k))
		for _, e := range k {
			out = append(out, KeyString(e))
		}
		return out
	default:
		return []string{KeyString(k)}
	}
}

// AddKey appends key to set unless already present.
func AddKey(set []string, key string) []string {
	for _, k := range set {
		if k == key {
			return set
		}
	}
	return append(set, key)
}

// RemoveKey returns set without key.
func RemoveKey(set []string, key string) []string {
	out := set[:0:0]
	for _, k := range set {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// HasKey reports whether set contains key.
func HasKey(set []string, key string) bool {
	for _, k := range set {
		if k == key {
			return true
		}
	}
	return false
}
