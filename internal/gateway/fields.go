package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// The accessors below normalize the numeric and list shapes the adapters
// produce (int64 from Firestore and memory, float64 from JSONB).

// Int64 reads a numeric field. ok is false when the field is absent or not numeric.
func Int64(fields map[string]any, key string) (int64, bool) {
	v, present := fields[key]
	if !present || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func String(fields map[string]any, key string) (string, bool) {
	s, ok := fields[key].(string)
	return s, ok
}

func Bool(fields map[string]any, key string) bool {
	b, _ := fields[key].(bool)
	return b
}

// Millis converts a time to the wire timestamp representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Time reads a Unix-millisecond timestamp field. Firestore adapters may hand
// back native time.Time values, which are accepted as well.
func Time(fields map[string]any, key string) (time.Time, bool) {
	if t, ok := fields[key].(time.Time); ok {
		return t, true
	}
	ms, ok := Int64(fields, key)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func Strings(fields map[string]any, key string) []string {
	raw, ok := fields[key].([]any)
	if !ok {
		if typed, ok := fields[key].([]string); ok {
			return append([]string(nil), typed...)
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// RequireString is String for mandatory fields; it names the field on failure.
func RequireString(doc Document, key string) (string, error) {
	s, ok := String(doc.Fields, key)
	if !ok || s == "" {
		return "", fmt.Errorf("document %s: missing field %q", doc.ID, key)
	}
	return s, nil
}
